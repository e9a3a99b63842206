// Package config loads the layered casino configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options.
type Config struct {
	// ShmDir is the directory backing the shared segments. Empty means
	// /dev/shm (or the temp dir where that does not exist).
	ShmDir    string   `json:"shm_dir,omitempty" toml:"shm_dir,omitempty" yaml:"shm_dir,omitempty"`
	Namespace string   `json:"namespace,omitempty" toml:"namespace,omitempty" yaml:"namespace,omitempty"`
	LockLease Duration `json:"lock_lease,omitempty" toml:"lock_lease,omitempty" yaml:"lock_lease,omitempty"`

	Log    LogConfig    `json:"log" toml:"log" yaml:"log"`
	Server ServerConfig `json:"server" toml:"server" yaml:"server"`
	Player PlayerConfig `json:"player" toml:"player" yaml:"player"`
	Watch  WatchConfig  `json:"watch" toml:"watch" yaml:"watch"`

	// Resolved (computed, not serialized)
	EffectiveCwd string `json:"-" toml:"-" yaml:"-"`

	// Sources tracks which files were loaded (for diagnostics)
	Sources Sources `json:"-" toml:"-" yaml:"-"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `json:"level,omitempty" toml:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
}

// ServerConfig configures the spin scheduler.
type ServerConfig struct {
	Players int     `json:"players,omitempty" toml:"players,omitempty" yaml:"players,omitempty"`
	Seed    *uint64 `json:"seed,omitempty" toml:"seed,omitempty" yaml:"seed,omitempty"`
	Keep    bool    `json:"keep,omitempty" toml:"keep,omitempty" yaml:"keep,omitempty"`

	WakeWait     Duration `json:"wake_wait,omitempty" toml:"wake_wait,omitempty" yaml:"wake_wait,omitempty"`
	PollInterval Duration `json:"poll_interval,omitempty" toml:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	PassSleep    Duration `json:"pass_sleep,omitempty" toml:"pass_sleep,omitempty" yaml:"pass_sleep,omitempty"`
	SpinDuration Duration `json:"spin_duration,omitempty" toml:"spin_duration,omitempty" yaml:"spin_duration,omitempty"`

	InitialJackpot int64 `json:"initial_jackpot,omitempty" toml:"initial_jackpot,omitempty" yaml:"initial_jackpot,omitempty"`

	// Positions overrides the default circle layout, one entry per player.
	Positions []Position `json:"positions,omitempty" toml:"positions,omitempty" yaml:"positions,omitempty"`
}

// Position is a presentation hint for one player.
type Position struct {
	X float32 `json:"x" toml:"x" yaml:"x"`
	Y float32 `json:"y" toml:"y" yaml:"y"`
}

// PlayerConfig configures the player bet loop.
type PlayerConfig struct {
	BetMin int32 `json:"bet_min,omitempty" toml:"bet_min,omitempty" yaml:"bet_min,omitempty"`
	BetMax int32 `json:"bet_max,omitempty" toml:"bet_max,omitempty" yaml:"bet_max,omitempty"`
}

// WatchConfig configures the observer.
type WatchConfig struct {
	Interval Duration `json:"interval,omitempty" toml:"interval,omitempty" yaml:"interval,omitempty"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
	DotEnv  string // Path to .env if loaded, empty otherwise
}

// Defaults.
const (
	DefaultNamespace = "casino_ipc"
	DefaultPlayers   = 6
	MaxPlayers       = 16
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		Namespace: DefaultNamespace,
		LockLease: Duration(2 * time.Second),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Players:        DefaultPlayers,
			WakeWait:       Duration(16 * time.Millisecond),
			PollInterval:   Duration(2 * time.Millisecond),
			PassSleep:      Duration(16 * time.Millisecond),
			SpinDuration:   Duration(2 * time.Second),
			InitialJackpot: 600,
		},
		Player: PlayerConfig{
			BetMin: 10,
			BetMax: 120,
		},
		Watch: WatchConfig{
			Interval: Duration(100 * time.Millisecond),
		},
	}
}

// ProjectFileNames are the project config files looked up in the work
// directory, in order. The first one that exists is used.
var ProjectFileNames = []string{".casino.json", ".casino.toml", ".casino.yaml"}

// Environment variables read by [Load].
const (
	EnvShmDir    = "CASINO_SHM_DIR"
	EnvNamespace = "CASINO_NAMESPACE"
	EnvLogLevel  = "CASINO_LOG_LEVEL"
	EnvLogFormat = "CASINO_LOG_FORMAT"
	EnvLockLease = "CASINO_LOCK_LEASE"
)

// Overrides are values from global CLI flags. Empty fields do not override.
type Overrides struct {
	ShmDir    string
	Namespace string
	LogLevel  string
	LogFormat string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Env             map[string]string // environment variables
	Overrides       Overrides
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/casino/config.json or ~/.config/casino/config.json)
// 3. Project config in the work directory (.casino.json, .casino.toml or .casino.yaml)
// 4. Explicit config file via ConfigPath (replaces the project file lookup)
// 5. Environment (CASINO_*), with .env from the work directory underneath the real environment
// 6. CLI overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	globalCfg, globalPath, err := loadGlobal(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	env, dotEnvPath, err := withDotEnv(workDir, input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.DotEnv = dotEnvPath

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	applyOverrides(&cfg, input.Overrides)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	if cfg.ShmDir != "" && !filepath.IsAbs(cfg.ShmDir) {
		cfg.ShmDir = filepath.Join(workDir, cfg.ShmDir)
	}

	cfg.EffectiveCwd = workDir

	return cfg, nil
}

// globalPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/casino/config.json if set, otherwise ~/.config/casino/config.json.
// Returns empty string if home directory cannot be determined.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "casino", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "casino", "config.json")
	}

	return ""
}

func loadGlobal(env map[string]string) (Config, string, error) {
	path := globalPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	if configPath != "" {
		path := configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		if _, statErr := os.Stat(path); statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}

		cfg, _, err := loadFile(path, true)
		if err != nil {
			return Config{}, "", err
		}

		return cfg, path, nil
	}

	for _, name := range ProjectFileNames {
		path := filepath.Join(workDir, name)

		cfg, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, "", err
		}

		if loaded {
			return cfg, path, nil
		}
	}

	return Config{}, "", nil
}

// loadFile loads a config file. If mustExist is false, missing files return zero config.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, parseErr := Parse(path, data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, parseErr)
	}

	return cfg, true, nil
}

// Parse decodes data in the format implied by the extension of path: JSON
// with comments (.json, .jsonc), TOML (.toml) or YAML (.yaml, .yml).
func Parse(path string, data []byte) (Config, error) {
	var cfg Config

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".jsonc":
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return Config{}, fmt.Errorf("invalid JSONC: %w", err)
		}

		if err := json.Unmarshal(standardized, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid JSON: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid TOML: %w", err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrConfigFormat, ext)
	}

	return cfg, nil
}

// withDotEnv returns env with the variables from workDir/.env added where
// env does not already define them.
func withDotEnv(workDir string, env map[string]string) (map[string]string, string, error) {
	path := filepath.Join(workDir, ".env")

	dotEnv, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return env, "", nil
		}

		return nil, "", fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	merged := make(map[string]string, len(env)+len(dotEnv))

	for k, v := range dotEnv {
		merged[k] = v
	}

	for k, v := range env {
		merged[k] = v
	}

	return merged, path, nil
}

func applyEnv(cfg *Config, env map[string]string) error {
	if v := env[EnvShmDir]; v != "" {
		cfg.ShmDir = v
	}

	if v := env[EnvNamespace]; v != "" {
		cfg.Namespace = v
	}

	if v := env[EnvLogLevel]; v != "" {
		cfg.Log.Level = v
	}

	if v := env[EnvLogFormat]; v != "" {
		cfg.Log.Format = v
	}

	if v := env[EnvLockLease]; v != "" {
		var d Duration

		if err := d.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%w %s: %w", ErrConfigInvalid, EnvLockLease, err)
		}

		cfg.LockLease = d
	}

	return nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.ShmDir != "" {
		cfg.ShmDir = o.ShmDir
	}

	if o.Namespace != "" {
		cfg.Namespace = o.Namespace
	}

	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}

	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
}

func merge(base, overlay Config) Config {
	if overlay.ShmDir != "" {
		base.ShmDir = overlay.ShmDir
	}

	if overlay.Namespace != "" {
		base.Namespace = overlay.Namespace
	}

	if overlay.LockLease != 0 {
		base.LockLease = overlay.LockLease
	}

	if overlay.Log.Level != "" {
		base.Log.Level = overlay.Log.Level
	}

	if overlay.Log.Format != "" {
		base.Log.Format = overlay.Log.Format
	}

	base.Server = mergeServer(base.Server, overlay.Server)

	if overlay.Player.BetMin != 0 {
		base.Player.BetMin = overlay.Player.BetMin
	}

	if overlay.Player.BetMax != 0 {
		base.Player.BetMax = overlay.Player.BetMax
	}

	if overlay.Watch.Interval != 0 {
		base.Watch.Interval = overlay.Watch.Interval
	}

	return base
}

func mergeServer(base, overlay ServerConfig) ServerConfig {
	if overlay.Players != 0 {
		base.Players = overlay.Players
	}

	if overlay.Seed != nil {
		seed := *overlay.Seed
		base.Seed = &seed
	}

	if overlay.Keep {
		base.Keep = true
	}

	if overlay.WakeWait != 0 {
		base.WakeWait = overlay.WakeWait
	}

	if overlay.PollInterval != 0 {
		base.PollInterval = overlay.PollInterval
	}

	if overlay.PassSleep != 0 {
		base.PassSleep = overlay.PassSleep
	}

	if overlay.SpinDuration != 0 {
		base.SpinDuration = overlay.SpinDuration
	}

	if overlay.InitialJackpot != 0 {
		base.InitialJackpot = overlay.InitialJackpot
	}

	if overlay.Positions != nil {
		base.Positions = append([]Position(nil), overlay.Positions...)
	}

	return base
}

// Validate reports the first invalid value in cfg.
func Validate(cfg Config) error {
	if cfg.Namespace == "" || strings.Contains(strings.TrimPrefix(cfg.Namespace, "/"), "/") {
		return fmt.Errorf("%w: namespace %q", ErrConfigInvalid, cfg.Namespace)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q (want debug|info|warn|error)", ErrConfigInvalid, cfg.Log.Level)
	}

	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log format %q (want console|json)", ErrConfigInvalid, cfg.Log.Format)
	}

	durations := []struct {
		name string
		d    Duration
	}{
		{"lock_lease", cfg.LockLease},
		{"server.wake_wait", cfg.Server.WakeWait},
		{"server.poll_interval", cfg.Server.PollInterval},
		{"server.pass_sleep", cfg.Server.PassSleep},
		{"server.spin_duration", cfg.Server.SpinDuration},
		{"watch.interval", cfg.Watch.Interval},
	}

	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %s", ErrConfigInvalid, d.name, d.d)
		}
	}

	if cfg.Server.InitialJackpot < 0 {
		return fmt.Errorf("%w: server.initial_jackpot must be >= 0", ErrConfigInvalid)
	}

	if len(cfg.Server.Positions) > MaxPlayers {
		return fmt.Errorf("%w: %d positions, at most %d", ErrConfigInvalid, len(cfg.Server.Positions), MaxPlayers)
	}

	if cfg.Player.BetMin < 0 || cfg.Player.BetMax < cfg.Player.BetMin {
		return fmt.Errorf("%w: player bet range [%d, %d]", ErrConfigInvalid, cfg.Player.BetMin, cfg.Player.BetMax)
	}

	return nil
}
