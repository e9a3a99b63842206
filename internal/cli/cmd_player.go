package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/calvinalkan/casino-ipc/internal/logging"
	"github.com/calvinalkan/casino-ipc/internal/player"
)

var errIDRequired = errors.New("player id is required")

// PlayerCmd returns the player command.
func PlayerCmd(e *env) *Command {
	fs := flag.NewFlagSet("player", flag.ContinueOnError)
	fs.Uint64("seed", 0, "Seed for the cadence RNG (default: from the clock)")

	return &Command{
		Flags:    fs,
		Attaches: true,
		Usage:    "player <id>",
		Short:    "Send bets for one player until interrupted",
		Long: `Send one bet per cycle for player <id> (0-15) until interrupted.

Waits up to a few seconds for the server to come up, and reconnects when
the server restarts. Bets sent while the channel is full are dropped.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			id, err := parseID(args)
			if err != nil {
				return err
			}

			seed, _ := fs.GetUint64("seed")

			return execPlayer(ctx, e, id, seed)
		},
	}
}

func execPlayer(ctx context.Context, e *env, id int, seed uint64) error {
	log := logging.Role(e.log, "player", os.Getpid()).With(zap.Int("player", id))

	p, err := player.New(player.Options{
		ID:     id,
		BetMin: e.cfg.Player.BetMin,
		BetMax: e.cfg.Player.BetMax,
		Seed:   seed,
		Log:    log,
	})
	if err != nil {
		return err
	}

	err = p.Serve(ctx, player.Dial(e.sessionOptions(), log))

	stats := p.Stats()
	log.Info("player stopped",
		zap.Uint64("sent", stats.Sent),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("reconnects", stats.Reconnects),
	)

	return err
}

func parseID(args []string) (int, error) {
	if len(args) == 0 {
		return 0, errIDRequired
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", player.ErrInvalidID, args[0])
	}

	if err := player.ValidateID(id); err != nil {
		return 0, err
	}

	return id, nil
}
