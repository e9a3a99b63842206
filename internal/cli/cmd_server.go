package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/calvinalkan/casino-ipc/internal/logging"
	"github.com/calvinalkan/casino-ipc/internal/server"
)

// ServerCmd returns the server command.
func ServerCmd(e *env) *Command {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.Int("players", e.cfg.Server.Players, "Number of players (1-16)")
	fs.Uint64("seed", 0, "Seed for the spin RNG (default: from config, else random)")
	fs.Bool("keep", e.cfg.Server.Keep, "Leave the segments in place on shutdown")

	return &Command{
		Flags: fs,
		Usage: "server [flags]",
		Short: "Run the spin scheduler",
		Long: `Create the shared segments and run the spin scheduler until interrupted.

Only one server may own a namespace at a time. Segments left behind by a
crashed server are replaced on startup. On a clean shutdown the segments are
removed unless --keep is given.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execServer(ctx, o, e, fs)
		},
	}
}

func execServer(ctx context.Context, o *IO, e *env, fs *flag.FlagSet) error {
	players, _ := fs.GetInt("players")
	keep, _ := fs.GetBool("keep")

	seed, err := resolveSeed(e, fs)
	if err != nil {
		return err
	}

	log := logging.Role(e.log, "server", os.Getpid())

	sess, err := server.OpenSession(e.sessionOptions(), log)
	if err != nil {
		return err
	}

	sc := e.cfg.Server

	positions := make([]server.Position, len(sc.Positions))
	for i, p := range sc.Positions {
		positions[i] = server.Position{X: p.X, Y: p.Y}
	}

	if players != server.ClampPlayers(players) {
		log.Warn("player count clamped", zap.Int("requested", players), zap.Int("players", server.ClampPlayers(players)))
	}

	sched := server.New(sess.State, sess.Channel, sess.Waker(), server.Options{
		Players:        players,
		Seed:           seed,
		WakeWait:       sc.WakeWait.Std(),
		PollInterval:   sc.PollInterval.Std(),
		PassSleep:      sc.PassSleep.Std(),
		SpinDuration:   sc.SpinDuration.Std(),
		InitialJackpot: sc.InitialJackpot,
		Positions:      positions,
		Log:            log,
	})

	if err := sched.Init(); err != nil {
		return joinClose(err, sess, keep)
	}

	log.Info("server running",
		zap.Int("players", sched.Players()),
		zap.Uint64("seed", seed),
		zap.Bool("polling", sched.Polling()),
	)

	reason, runErr := sched.Run(ctx)

	stats := sched.Stats()
	log.Info("server stopped",
		zap.Stringer("reason", reason),
		zap.Uint64("passes", stats.Passes),
		zap.Uint64("message_spins", stats.MessageSpins),
		zap.Uint64("auto_spins", stats.AutoSpins),
		zap.Uint64("invalid_bets", stats.InvalidBets),
		zap.Uint64("cooldown_drops", stats.CooldownDrops),
	)

	if keep {
		o.Println("segments kept in", e.sessionOptions().ResolvedDir())
	}

	return joinClose(runErr, sess, keep)
}

func joinClose(err error, sess *server.Session, keep bool) error {
	closeErr := sess.Close(!keep)
	if err != nil {
		return err
	}

	if closeErr != nil {
		return fmt.Errorf("teardown: %w", closeErr)
	}

	return nil
}

// resolveSeed picks --seed, then server.seed from config, then the clock.
func resolveSeed(e *env, fs *flag.FlagSet) (uint64, error) {
	if fs.Changed("seed") {
		return fs.GetUint64("seed")
	}

	if e.cfg.Server.Seed != nil {
		return *e.cfg.Server.Seed, nil
	}

	return uint64(time.Now().UnixNano()), nil
}
