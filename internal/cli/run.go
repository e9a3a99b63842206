// Package cli implements the casino command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/calvinalkan/casino-ipc/internal/config"
	"github.com/calvinalkan/casino-ipc/internal/logging"
	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

const (
	minArgs      = 2
	consumedOne  = 1
	consumedTwo  = 2
	consumedNone = 0
	helpFlag     = "--help"
)

var (
	errFlagRequiresArg = errors.New("flag requires an argument")
	errUnknownFlag     = errors.New("unknown flag")
)

// env is what every command needs from the process: resolved configuration,
// the logger and the session location.
type env struct {
	cfg  config.Config
	log  *zap.Logger
	vars map[string]string
}

// sessionOptions locates the shared segments.
func (e *env) sessionOptions() casino.Options {
	return casino.Options{
		Dir:       e.cfg.ShmDir,
		Namespace: e.cfg.Namespace,
		LockLease: e.cfg.LockLease.Std(),
	}
}

// Run is the main entry point. Returns exit code.
//
// sigCh, if not nil, cancels the running command on the first signal.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, vars map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < minArgs {
		printUsage(out, nil)

		return 0
	}

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: flags.workDir,
		ConfigPath:      flags.configPath,
		Env:             vars,
		Overrides: config.Overrides{
			ShmDir:    flags.shmDir,
			Namespace: flags.namespace,
			LogLevel:  flags.logLevel,
			LogFormat: flags.logFormat,
		},
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, errOut)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	defer func() { _ = log.Sync() }()

	e := &env{cfg: cfg, log: log, vars: vars}
	commands := allCommands(e)

	if len(flags.remaining) == 0 || flags.remaining[0] == "-h" || flags.remaining[0] == helpFlag {
		printUsage(out, commands)

		return 0
	}

	name := flags.remaining[0]

	var cmd *Command

	for _, c := range commands {
		if c.Name() == name {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case sig := <-sigCh:
				log.Debug("signal received, stopping", zap.Stringer("signal", sig))
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(in, out, errOut), flags.remaining[1:])
}

func allCommands(e *env) []*Command {
	return []*Command{
		ServerCmd(e),
		PlayerCmd(e),
		WatchCmd(e),
		BetCmd(e),
		InspectCmd(e),
		CleanCmd(e),
		LayoutCmd(e),
		PrintConfigCmd(e),
	}
}

type globalFlags struct {
	workDir    string
	configPath string
	shmDir     string
	namespace  string
	logLevel   string
	logFormat  string
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0
	for idx < len(args) {
		consumed, err := parseFlag(args, idx, &flags)
		if err != nil {
			return globalFlags{}, err
		}

		if consumed == 0 {
			// Not a flag, this is the command
			flags.remaining = args[idx:]

			break
		}

		idx += consumed
	}

	return flags, nil
}

// valueFlags maps the global flags that take a value to their destination.
func valueFlags(flags *globalFlags) map[string]*string {
	return map[string]*string{
		"--config":     &flags.configPath,
		"--shm-dir":    &flags.shmDir,
		"--namespace":  &flags.namespace,
		"--log-level":  &flags.logLevel,
		"--log-format": &flags.logFormat,
	}
}

// parseFlag tries to parse a flag at args[idx]. Returns number of args consumed (0 if not a flag).
func parseFlag(args []string, idx int, flags *globalFlags) (int, error) {
	arg := args[idx]

	// -C/--cwd flag (work directory)
	if (arg == "-C" || arg == "--cwd") && idx+1 < len(args) {
		flags.workDir = args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "-C"); ok && after != "" {
		flags.workDir = after

		return consumedOne, nil
	}

	if after, ok := strings.CutPrefix(arg, "--cwd="); ok {
		flags.workDir = after

		return consumedOne, nil
	}

	if arg == "-c" {
		arg = "--config"
	}

	for name, dst := range valueFlags(flags) {
		if arg == name {
			if idx+1 >= len(args) {
				return consumedNone, fmt.Errorf("%w: %s", errFlagRequiresArg, arg)
			}

			*dst = args[idx+1]

			return consumedTwo, nil
		}

		if after, ok := strings.CutPrefix(arg, name+"="); ok {
			*dst = after

			return consumedOne, nil
		}
	}

	// -h/--help flags
	if arg == "-h" || arg == helpFlag {
		flags.remaining = []string{helpFlag}

		return len(args) - idx, nil
	}

	// Unknown flag
	if strings.HasPrefix(arg, "-") && arg != "-" {
		return consumedNone, fmt.Errorf("%w: %s", errUnknownFlag, arg)
	}

	// Not a flag
	return consumedNone, nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(writer io.Writer, commands []*Command) {
	fprintln(writer, `casino - multiplayer slot machine over shared memory

Usage: casino [options] <command> [args]

Options:
  -C, --cwd <dir>         Run as if started in <dir>
  -c, --config <file>     Use specified config file
      --shm-dir <dir>     Directory backing the shared segments
      --namespace <name>  Segment name prefix
      --log-level <lvl>   debug, info, warn or error
      --log-format <fmt>  console or json

Commands:`)

	if commands == nil {
		commands = allCommands(&env{cfg: config.Default(), log: zap.NewNop()})
	}

	for _, c := range commands {
		fprintln(writer, c.HelpLine())
	}
}
