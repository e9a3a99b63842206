package cli

import (
	"context"
	"strconv"

	flag "github.com/spf13/pflag"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(e *env) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, e)
		},
	}
}

func execPrintConfig(io *IO, e *env) error {
	cfg := e.cfg
	opts := e.sessionOptions()

	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("shm_dir=" + opts.ResolvedDir())
	io.Println("namespace=" + cfg.Namespace)
	io.Println("lock_lease=" + cfg.LockLease.String())
	io.Println("log.level=" + cfg.Log.Level)
	io.Println("log.format=" + cfg.Log.Format)
	io.Println("server.players=" + strconv.Itoa(cfg.Server.Players))

	if cfg.Server.Seed != nil {
		io.Println("server.seed=" + strconv.FormatUint(*cfg.Server.Seed, 10))
	}

	io.Println("server.keep=" + strconv.FormatBool(cfg.Server.Keep))
	io.Println("server.wake_wait=" + cfg.Server.WakeWait.String())
	io.Println("server.poll_interval=" + cfg.Server.PollInterval.String())
	io.Println("server.pass_sleep=" + cfg.Server.PassSleep.String())
	io.Println("server.spin_duration=" + cfg.Server.SpinDuration.String())
	io.Println("server.initial_jackpot=" + strconv.FormatInt(cfg.Server.InitialJackpot, 10))

	if n := len(cfg.Server.Positions); n > 0 {
		io.Println("server.positions=" + strconv.Itoa(n) + " overrides")
	}

	io.Println("player.bet_min=" + strconv.Itoa(int(cfg.Player.BetMin)))
	io.Println("player.bet_max=" + strconv.Itoa(int(cfg.Player.BetMax)))
	io.Println("watch.interval=" + cfg.Watch.Interval.String())

	names := opts.Names()
	io.Println("")
	io.Println("# segments")
	io.Println("state=" + names.State)
	io.Println("channel=" + names.Channel)
	io.Println("signal=" + names.Signal)
	io.Println("owner_lock=" + names.Owner)

	io.Println("")
	io.Println("# sources")

	src := cfg.Sources
	if src.Global == "" && src.Project == "" && src.DotEnv == "" {
		io.Println("(defaults only)")
	} else {
		if src.Global != "" {
			io.Println("global_config=" + src.Global)
		}

		if src.Project != "" {
			io.Println("project_config=" + src.Project)
		}

		if src.DotEnv != "" {
			io.Println("dotenv=" + src.DotEnv)
		}
	}

	return nil
}
