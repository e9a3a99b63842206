package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/casino-ipc/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func Test_Load_Returns_Defaults_When_No_Files(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
	require.NoError(t, err)

	want := config.Default()
	want.EffectiveCwd = dir

	assert.Equal(t, want, cfg)
}

func Test_Load_Reads_Project_JSONC(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".casino.json"), `{
		// trailing commas and comments are fine
		"namespace": "table_two",
		"server": {"players": 3, "seed": 42, "pass_sleep": "8ms",},
	}`)

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, "table_two", cfg.Namespace)
	assert.Equal(t, 3, cfg.Server.Players)
	require.NotNil(t, cfg.Server.Seed)
	assert.Equal(t, uint64(42), *cfg.Server.Seed)
	assert.Equal(t, 8*time.Millisecond, cfg.Server.PassSleep.Std())
	assert.Equal(t, 16*time.Millisecond, cfg.Server.WakeWait.Std(), "unset fields keep defaults")
	assert.Equal(t, filepath.Join(dir, ".casino.json"), cfg.Sources.Project)
}

func Test_Load_Reads_Project_TOML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".casino.toml"), `
namespace = "toml_ns"
lock_lease = "500ms"

[log]
level = "debug"

[[server.positions]]
x = 10.5
y = 20.0
`)

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, "toml_ns", cfg.Namespace)
	assert.Equal(t, 500*time.Millisecond, cfg.LockLease.Std())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []config.Position{{X: 10.5, Y: 20}}, cfg.Server.Positions)
}

func Test_Load_Reads_Explicit_YAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "conf", "casino.yml"), `
shm_dir: segments
player:
  bet_min: 5
  bet_max: 6
watch:
  interval: 250ms
`)

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: dir,
		ConfigPath:      "conf/casino.yml",
		Env:             map[string]string{},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "segments"), cfg.ShmDir)
	assert.Equal(t, int32(5), cfg.Player.BetMin)
	assert.Equal(t, int32(6), cfg.Player.BetMax)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Interval.Std())
}

func Test_Load_Returns_ErrConfigFileNotFound_For_Missing_Explicit_File(t *testing.T) {
	t.Parallel()

	_, err := config.Load(config.LoadInput{
		WorkDirOverride: t.TempDir(),
		ConfigPath:      "nope.json",
		Env:             map[string]string{},
	})
	require.ErrorIs(t, err, config.ErrConfigFileNotFound)
}

func Test_Load_Returns_ErrConfigInvalid_For_Bad_Values(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		content string
	}{
		{name: "BadJSON", content: `{"namespace": }`},
		{name: "BadDuration", content: `{"server": {"wake_wait": "soon"}}`},
		{name: "NegativeDuration", content: `{"server": {"pass_sleep": "-1ms"}}`},
		{name: "NamespaceWithSlash", content: `{"namespace": "a/b"}`},
		{name: "UnknownLogLevel", content: `{"log": {"level": "loud"}}`},
		{name: "InvertedBetRange", content: `{"player": {"bet_min": 50, "bet_max": 10}}`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, ".casino.json"), testCase.content)

			_, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
			require.ErrorIs(t, err, config.ErrConfigInvalid)
		})
	}
}

func Test_Load_Applies_Precedence_Global_Project_Env_Flags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "casino", "config.json"), `{"namespace": "global", "log": {"level": "warn", "format": "json"}}`)
	writeFile(t, filepath.Join(dir, ".casino.json"), `{"namespace": "project", "log": {"level": "error"}}`)
	writeFile(t, filepath.Join(dir, ".env"), "CASINO_NAMESPACE=dotenv\nCASINO_LOG_LEVEL=debug\nCASINO_LOCK_LEASE=750ms\n")

	env := map[string]string{
		"XDG_CONFIG_HOME":  xdg,
		"CASINO_LOG_LEVEL": "info",
	}

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: env})
	require.NoError(t, err)

	assert.Equal(t, "dotenv", cfg.Namespace, ".env beats project file")
	assert.Equal(t, "info", cfg.Log.Level, "real environment beats .env")
	assert.Equal(t, "json", cfg.Log.Format, "global value survives when not overridden")
	assert.Equal(t, 750*time.Millisecond, cfg.LockLease.Std())
	assert.Equal(t, filepath.Join(xdg, "casino", "config.json"), cfg.Sources.Global)
	assert.Equal(t, filepath.Join(dir, ".env"), cfg.Sources.DotEnv)

	cfg, err = config.Load(config.LoadInput{
		WorkDirOverride: dir,
		Env:             env,
		Overrides:       config.Overrides{Namespace: "flag", LogLevel: "warn"},
	})
	require.NoError(t, err)

	assert.Equal(t, "flag", cfg.Namespace)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func Test_Parse_Rejects_Unknown_Extension(t *testing.T) {
	t.Parallel()

	_, err := config.Parse("casino.ini", []byte("x=1"))
	require.ErrorIs(t, err, config.ErrConfigFormat)
}

func Test_Duration_Round_Trips_Text(t *testing.T) {
	t.Parallel()

	var d config.Duration

	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	require.Error(t, d.UnmarshalText([]byte("ninety")))
}
