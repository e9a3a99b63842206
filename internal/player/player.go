// Package player implements the player process: a send/sleep loop that
// feeds bets into the server's bet channel.
package player

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

// Sender is the producer side of the bet channel.
type Sender interface {
	Send(msg casino.BetMessage) error
}

// Raiser is the client side of the wake signal.
type Raiser interface {
	Raise() error
}

// Conn is a connection to a running server.
type Conn interface {
	Sender
	Raiser() Raiser
	Replaced() (bool, error)
	Close() error
}

// Dialer opens a [Conn].
type Dialer func(ctx context.Context) (Conn, error)

// Default bet bounds.
const (
	DefaultBetMin = 10
	DefaultBetMax = 120
)

// Cadence parameters. Player i starts later and pauses longer than player
// i-1 so that bets from different players do not line up.
const (
	startJitterMax = 1200 * time.Millisecond
	startStep      = 150 * time.Millisecond

	pauseBase      = 1200 * time.Millisecond
	pauseStep      = 320 * time.Millisecond
	pauseJitterMin = 600 * time.Millisecond
	pauseJitterMax = 1800 * time.Millisecond
)

// replacedCheckEvery is how many cycles [Player.Serve] sends before it checks
// for a server restart. A dropped bet triggers the check immediately.
const replacedCheckEvery = 5

// ErrInvalidID is returned for a player id outside [0, casino.MaxPlayers).
var ErrInvalidID = errors.New("player: invalid id")

// ValidateID checks that id names a player slot.
func ValidateID(id int) error {
	if id < 0 || id >= casino.MaxPlayers {
		return fmt.Errorf("%w: %d (want 0..%d)", ErrInvalidID, id, casino.MaxPlayers-1)
	}

	return nil
}

// Options configures a [Player].
type Options struct {
	ID int

	// BetMin and BetMax bound the advisory bet amount. Zero means the
	// defaults.
	BetMin int32
	BetMax int32

	// Seed seeds the jitter RNG. Zero derives one from the clock and the id.
	Seed uint64

	// Sleep defaults to a context-aware sleep. It returns false if ctx was
	// cancelled.
	Sleep func(ctx context.Context, d time.Duration) bool

	Log *zap.Logger
}

// Stats counts what a player did.
type Stats struct {
	Sent       uint64
	Dropped    uint64
	Failed     uint64
	Reconnects uint64
}

// Player sends one bet per cycle until cancelled.
type Player struct {
	opts  Options
	rng   *rand.Rand
	stats Stats
}

// New validates opts and returns a player.
func New(opts Options) (*Player, error) {
	if err := ValidateID(opts.ID); err != nil {
		return nil, err
	}

	if opts.BetMin <= 0 {
		opts.BetMin = DefaultBetMin
	}

	if opts.BetMax <= 0 {
		opts.BetMax = DefaultBetMax
	}

	if opts.BetMax < opts.BetMin {
		return nil, fmt.Errorf("%w: bet max %d < min %d", casino.ErrInvalidInput, opts.BetMax, opts.BetMin)
	}

	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano()) + uint64(opts.ID)*31
	}

	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}

	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	return &Player{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, uint64(opts.ID))),
	}, nil
}

// Stats returns the player's counters.
func (p *Player) Stats() Stats { return p.stats }

// StartDelay returns the delay before the first bet.
func (p *Player) StartDelay() time.Duration {
	return p.uniform(0, startJitterMax) + startStep*time.Duration(p.opts.ID)
}

// Pause returns the delay between two bets.
func (p *Player) Pause() time.Duration {
	return pauseBase + pauseStep*time.Duration(p.opts.ID) + p.uniform(pauseJitterMin, pauseJitterMax)
}

// Amount draws a bet amount in [BetMin, BetMax].
func (p *Player) Amount() int32 {
	return p.opts.BetMin + p.rng.Int32N(p.opts.BetMax-p.opts.BetMin+1)
}

// Serve dials the server, sleeps the start delay, then sends a bet and raises
// the wake signal once per cycle until ctx is cancelled.
//
// A full channel drops the bet and the loop keeps its cadence. A failed
// raise is ignored; the server also polls. Any other send error ends the
// loop. When the server restarts, Serve reconnects; a server that does not
// come back within the dialer's timeout ends the loop with that error. A
// cancelled context returns nil.
func (p *Player) Serve(ctx context.Context, dial Dialer) error {
	log := p.opts.Log

	conn, err := dial(ctx)
	if err != nil {
		return err
	}

	defer func() { _ = conn.Close() }()

	log.Info("player connected", zap.Bool("signal", conn.Raiser() != nil))

	if !p.opts.Sleep(ctx, p.StartDelay()) {
		return nil
	}

	for cycle := 1; ; cycle++ {
		dropped := p.stats.Dropped

		if err := p.Step(conn, conn.Raiser()); err != nil {
			return err
		}

		if p.stats.Dropped != dropped || cycle%replacedCheckEvery == 0 {
			next, err := p.follow(ctx, conn, dial)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return err
			}

			conn = next
		}

		if !p.opts.Sleep(ctx, p.Pause()) {
			log.Debug("player stopping",
				zap.Uint64("sent", p.stats.Sent),
				zap.Uint64("dropped", p.stats.Dropped),
				zap.Uint64("reconnects", p.stats.Reconnects),
			)

			return nil
		}
	}
}

// follow returns conn, or a fresh connection if the server was restarted.
// conn is closed when it is replaced.
func (p *Player) follow(ctx context.Context, conn Conn, dial Dialer) (Conn, error) {
	replaced, err := conn.Replaced()
	if err != nil {
		p.opts.Log.Debug("replaced check failed", zap.Error(err))

		return conn, nil
	}

	if !replaced {
		return conn, nil
	}

	p.opts.Log.Info("server restarted, reconnecting")

	_ = conn.Close()

	next, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconnect: %w", err)
	}

	p.stats.Reconnects++

	return next, nil
}

// Step sends a single bet. It returns an error only for channel failures
// other than a full channel.
func (p *Player) Step(ch Sender, sig Raiser) error {
	msg := casino.BetMessage{PlayerID: int32(p.opts.ID), Amount: p.Amount()}

	err := ch.Send(msg)

	switch {
	case err == nil:
		p.stats.Sent++
	case errors.Is(err, casino.ErrChannelFull):
		p.stats.Dropped++
		p.opts.Log.Debug("bet dropped, channel full", zap.Int32("amount", msg.Amount))

		return nil
	default:
		p.stats.Failed++

		return fmt.Errorf("send bet: %w", err)
	}

	if sig != nil {
		if err := sig.Raise(); err != nil {
			p.opts.Log.Debug("wake signal raise failed", zap.Error(err))
		}
	}

	return nil
}

func (p *Player) uniform(lo, hi time.Duration) time.Duration {
	loMs, hiMs := lo.Milliseconds(), hi.Milliseconds()
	if hiMs <= loMs {
		return lo
	}

	return time.Duration(loMs+p.rng.Int64N(hiMs-loMs+1)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
