package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

const (
	connectBackoffMin = 25 * time.Millisecond
	connectBackoffMax = 400 * time.Millisecond
)

// Link holds the player's handles. Signal is nil when the wake signal is
// unavailable.
type Link struct {
	Channel *casino.Channel
	Signal  *casino.Signal
}

// Raiser returns the signal as a [Raiser], or nil.
func (l *Link) Raiser() Raiser {
	if l.Signal == nil {
		return nil
	}

	return l.Signal
}

// Send sends msg on the bet channel.
func (l *Link) Send(msg casino.BetMessage) error {
	return l.Channel.Send(msg)
}

// Replaced reports whether the server was restarted since the link was
// opened, so the channel no longer reaches it.
func (l *Link) Replaced() (bool, error) {
	return l.Channel.Replaced()
}

// Close closes both handles. It never removes the names.
func (l *Link) Close() error {
	var errs []error

	if l.Signal != nil {
		errs = append(errs, l.Signal.Close())
	}

	if l.Channel != nil {
		errs = append(errs, l.Channel.Close())
	}

	return errors.Join(errs...)
}

// Dial returns a [Dialer] backed by [Connect].
func Dial(opts casino.Options, log *zap.Logger) Dialer {
	return func(ctx context.Context) (Conn, error) {
		link, err := Connect(ctx, opts, log)
		if err != nil {
			return nil, err
		}

		return link, nil
	}
}

// Connect opens the bet channel, retrying until opts.AttachTimeout so that
// players may start before the server, then opens the wake signal. A
// missing signal is logged and tolerated.
func Connect(ctx context.Context, opts casino.Options, log *zap.Logger) (*Link, error) {
	if log == nil {
		log = zap.NewNop()
	}

	timeout := opts.AttachTimeout
	if timeout <= 0 {
		timeout = casino.DefaultAttachTimeout
	}

	deadline := time.Now().Add(timeout)
	backoff := connectBackoffMin

	var ch *casino.Channel

	for {
		var err error

		ch, err = casino.OpenChannel(opts)
		if err == nil {
			break
		}

		if !errors.Is(err, casino.ErrSegmentUnavailable) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("bet channel (server not running?): %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect: %w", ctx.Err())
		case <-time.After(min(backoff, remaining)):
		}

		backoff = min(backoff*2, connectBackoffMax)
	}

	link := &Link{Channel: ch}

	sig, err := casino.OpenSignal(opts)
	if err != nil {
		log.Warn("wake signal unavailable, bets rely on server polling", zap.Error(err))
	} else {
		link.Signal = sig
	}

	return link, nil
}
