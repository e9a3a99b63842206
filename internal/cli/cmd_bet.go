package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/casino-ipc/internal/player"
	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

// BetCmd returns the bet command.
func BetCmd(e *env) *Command {
	fs := flag.NewFlagSet("bet", flag.ContinueOnError)

	return &Command{
		Flags:    fs,
		Attaches: true,
		Usage:    "bet <id> [amount]",
		Short:    "Send a single bet",
		Long: `Send one bet for player <id> and raise the wake signal.

The amount is advisory and defaults to the configured minimum bet. The bet
is dropped by the server if the player is cooling down.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execBet(ctx, o, e, args)
		},
	}
}

func execBet(ctx context.Context, o *IO, e *env, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}

	amount := e.cfg.Player.BetMin

	if len(args) > 1 {
		v, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil || v < 0 {
			return fmt.Errorf("%w: amount %q", casino.ErrInvalidInput, args[1])
		}

		amount = int32(v)
	} else if amount <= 0 {
		amount = player.DefaultBetMin
	}

	link, err := player.Connect(ctx, e.sessionOptions(), e.log)
	if err != nil {
		return err
	}

	defer func() { _ = link.Close() }()

	msg := casino.BetMessage{PlayerID: int32(id), Amount: amount}

	if err := link.Channel.Send(msg); err != nil {
		if errors.Is(err, casino.ErrChannelFull) {
			return fmt.Errorf("bet dropped: %w", err)
		}

		return err
	}

	if link.Signal == nil {
		o.Warn("wake signal unavailable", "the bet is picked up on the server's next poll")
	} else if err := link.Signal.Raise(); err != nil {
		o.Warn("wake signal raise failed", err.Error())
	}

	o.Printf("sent bet player=%d amount=%d\n", id, amount)

	return nil
}
