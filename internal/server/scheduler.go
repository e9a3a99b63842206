// Package server implements the spin scheduler, the sole writer of the
// shared casino record.
package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

// Store is the shared record as seen by its writer.
type Store interface {
	Update(fn func(r *casino.Record)) error
	Recoveries() uint32
}

// BetSource is the consumer side of the bet channel.
type BetSource interface {
	TryReceive() (casino.BetMessage, error)
	Len() (int, error)
}

// Waker is the server side of the wake signal.
type Waker interface {
	WaitTimed(timeout time.Duration) bool
	Value() int
}

// Default timings.
const (
	DefaultWakeWait     = 16 * time.Millisecond
	DefaultPollInterval = 2 * time.Millisecond
	DefaultPassSleep    = 16 * time.Millisecond
	DefaultSpinDuration = 2 * time.Second

	// DefaultPulseDecay is how much pulse is lost per second.
	DefaultPulseDecay = 0.6
)

// Per-player timer parameters. Player i gets slightly longer cooldowns than
// player i-1 so that the players drift apart.
const (
	cooldownMinBase = 2200 * time.Millisecond
	cooldownMinStep = 100 * time.Millisecond
	cooldownMaxBase = 4500 * time.Millisecond
	cooldownMaxStep = 200 * time.Millisecond

	firstAllowedStep      = 200 * time.Millisecond
	firstAllowedJitterMax = 800 * time.Millisecond

	randomStartMin = 1000 * time.Millisecond
	randomStartMax = 4000 * time.Millisecond
)

const (
	pulseWin  = 1.0
	pulseLose = 0.3
)

// Options configures a [Scheduler].
type Options struct {
	// Players is clamped to [1, casino.MaxPlayers].
	Players int
	Seed    uint64
	Economy Economy

	WakeWait     time.Duration
	PollInterval time.Duration
	PassSleep    time.Duration
	SpinDuration time.Duration
	PulseDecay   float64

	// InitialJackpot is written to the record by Init. Negative values are
	// treated as 0.
	InitialJackpot int64

	// Positions overrides the default circle layout for the first
	// len(Positions) players.
	Positions []Position

	// Now defaults to time.Now.
	Now func() time.Time

	// Sleep defaults to a context-aware sleep. It returns false if ctx was
	// cancelled.
	Sleep func(ctx context.Context, d time.Duration) bool

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	o.Players = ClampPlayers(o.Players)

	if o.Economy == (Economy{}) {
		o.Economy = DefaultEconomy()
	}

	if o.WakeWait <= 0 {
		o.WakeWait = DefaultWakeWait
	}

	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}

	if o.PassSleep <= 0 {
		o.PassSleep = DefaultPassSleep
	}

	if o.SpinDuration <= 0 {
		o.SpinDuration = DefaultSpinDuration
	}

	if o.PulseDecay <= 0 {
		o.PulseDecay = DefaultPulseDecay
	}

	if o.InitialJackpot < 0 {
		o.InitialJackpot = 0
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

// ClampPlayers clamps n to [1, casino.MaxPlayers].
func ClampPlayers(n int) int {
	return min(max(n, 1), casino.MaxPlayers)
}

// Timers are the scheduler-private timers of one player.
type Timers struct {
	NextAllowed     time.Time
	NextRandomStart time.Time
	CooldownMin     time.Duration
	CooldownMax     time.Duration
}

// Stats are counters kept by the scheduler process.
type Stats struct {
	Passes        uint64
	MessageSpins  uint64
	AutoSpins     uint64
	InvalidBets   uint64
	CooldownDrops uint64
}

// StopReason says why [Scheduler.Run] returned.
type StopReason int

const (
	// StopCancelled means the context was cancelled. This is a clean exit.
	StopCancelled StopReason = iota + 1

	// StopLockFailed means the shared mutex could not be acquired. The
	// server cannot make progress.
	StopLockFailed
)

func (r StopReason) String() string {
	switch r {
	case StopCancelled:
		return "cancelled"
	case StopLockFailed:
		return "lock-failed"
	default:
		return "unknown"
	}
}

// Scheduler owns the per-player timers and applies spins and decay to the
// shared record.
//
// A Scheduler is not safe for concurrent use; it is driven by one loop.
type Scheduler struct {
	opts  Options
	store Store
	bets  BetSource
	wake  Waker

	rng    *rand.Rand
	timers []Timers

	lastDecay      time.Time
	lastRecoveries uint32
	stats          Stats

	warnedDepth bool
}

// winEvent is collected under the lock and logged after it.
type winEvent struct {
	player int
	symbol casino.Symbol
	payout int32
}

// New returns a scheduler writing to store and draining bets. wake may be
// nil, in which case the scheduler polls every PollInterval.
func New(store Store, bets BetSource, wake Waker, opts Options) *Scheduler {
	opts = opts.withDefaults()

	return &Scheduler{
		opts:  opts,
		store: store,
		bets:  bets,
		wake:  wake,
		rng:   rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9E3779B97F4A7C15)),
	}
}

// Players returns the active player count.
func (s *Scheduler) Players() int { return s.opts.Players }

// Timers returns a copy of player p's timers.
func (s *Scheduler) Timers(p int) Timers {
	return s.timers[p]
}

// Stats returns the scheduler's counters.
func (s *Scheduler) Stats() Stats { return s.stats }

// Polling reports whether the scheduler runs without a wake signal.
func (s *Scheduler) Polling() bool { return s.wake == nil }

// Init seeds the timers and writes the player slots, positions and the
// initial jackpot to the record.
func (s *Scheduler) Init() error {
	now := s.opts.Now()
	n := s.opts.Players

	s.timers = make([]Timers, n)

	for i := range s.timers {
		step := time.Duration(i)

		s.timers[i] = Timers{
			NextAllowed:     now.Add(firstAllowedStep*step + s.uniform(0, firstAllowedJitterMax)),
			CooldownMin:     cooldownMinBase + cooldownMinStep*step,
			CooldownMax:     cooldownMaxBase + cooldownMaxStep*step,
			NextRandomStart: now.Add(s.uniform(randomStartMin, randomStartMax)),
		}
	}

	positions := Layout(n, s.opts.Positions)

	s.lastDecay = now

	err := s.store.Update(func(r *casino.Record) {
		r.PlayerCount = int32(n)
		r.Jackpot = s.opts.InitialJackpot

		for i := range n {
			p := &r.Players[i]
			p.ID = int32(i)
			p.X = positions[i].X
			p.Y = positions[i].Y
			p.Anim = casino.AnimIdle
			p.Pulse = 0
		}
	})
	if err != nil {
		return fmt.Errorf("init players: %w", err)
	}

	s.lastRecoveries = s.store.Recoveries()

	return nil
}

// Run drives scheduling passes until ctx is cancelled or the shared mutex
// fails. A cancelled context is a clean stop and returns a nil error. Spins
// in progress are left at whatever progress they reached.
func (s *Scheduler) Run(ctx context.Context) (StopReason, error) {
	if s.timers == nil {
		if err := s.Init(); err != nil {
			return StopLockFailed, err
		}
	}

	for {
		if ctx.Err() != nil {
			return StopCancelled, nil
		}

		signalValue := s.waitForWake(ctx)

		if err := s.Pass(signalValue); err != nil {
			return StopLockFailed, err
		}

		if !s.opts.Sleep(ctx, s.opts.PassSleep) {
			return StopCancelled, nil
		}
	}
}

// waitForWake blocks on the wake signal up to WakeWait, or sleeps
// PollInterval without one. It returns the signal value observed afterwards.
func (s *Scheduler) waitForWake(ctx context.Context) int32 {
	if s.wake == nil {
		s.opts.Sleep(ctx, s.opts.PollInterval)

		return 0
	}

	s.wake.WaitTimed(s.opts.WakeWait)

	return int32(s.wake.Value())
}

// Pass runs one scheduling pass without waiting: drain the bet channel,
// apply message-triggered spins, autonomous spins and the decay step.
//
// Everything is written under one acquisition of the shared mutex.
func (s *Scheduler) Pass(signalValue int32) error {
	if s.timers == nil {
		return errors.New("scheduler not initialized")
	}

	depth, lenErr := s.bets.Len()
	bets := s.drain()

	if lenErr != nil {
		s.opts.Log.Debug("bet channel depth unavailable", zap.Error(lenErr))
		depth = len(bets)
	}
	now := s.opts.Now()

	var (
		wins          []winEvent
		invalid, drop uint32
	)

	err := s.store.Update(func(r *casino.Record) {
		spun := make([]bool, len(s.timers))

		for _, bet := range bets {
			p := int(bet.PlayerID)

			if bet.PlayerID < 0 || p >= len(s.timers) {
				invalid++

				continue
			}

			t := &s.timers[p]
			if now.Before(t.NextAllowed) {
				drop++

				continue
			}

			t.NextAllowed = now.Add(s.uniform(t.CooldownMin, t.CooldownMax))
			r.Players[p].LastBetAmount = bet.Amount

			if w, ok := s.spin(r, p); ok {
				wins = append(wins, w)
			}

			spun[p] = true
			s.stats.MessageSpins++
		}

		for p := range s.timers {
			t := &s.timers[p]
			if now.Before(t.NextRandomStart) || now.Before(t.NextAllowed) {
				continue
			}

			t.NextAllowed = now.Add(s.uniform(t.CooldownMin, t.CooldownMax))
			t.NextRandomStart = now.Add(s.uniform(randomStartMin, randomStartMax))

			if w, ok := s.spin(r, p); ok {
				wins = append(wins, w)
			}

			spun[p] = true
			s.stats.AutoSpins++
		}

		s.decay(r, now, spun)

		r.Diag.SignalValue = signalValue
		r.Diag.ChannelDepth = int32(depth)
		r.Diag.InvalidBets += invalid
		r.Diag.CooldownDrops += drop
	})
	if err != nil {
		return fmt.Errorf("scheduling pass: %w", err)
	}

	s.stats.Passes++
	s.stats.InvalidBets += uint64(invalid)
	s.stats.CooldownDrops += uint64(drop)

	s.report(wins, invalid, depth)

	return nil
}

// drain empties the bet channel. Channel errors other than "empty" end the
// drain for this pass.
func (s *Scheduler) drain() []casino.BetMessage {
	var bets []casino.BetMessage

	for {
		msg, err := s.bets.TryReceive()
		if err != nil {
			if !errors.Is(err, casino.ErrChannelEmpty) {
				s.opts.Log.Warn("bet channel receive failed", zap.Error(err))
			}

			return bets
		}

		bets = append(bets, msg)
	}
}

// spin draws and settles one spin for player p. The caller holds the lock.
func (s *Scheduler) spin(r *casino.Record, p int) (winEvent, bool) {
	o := s.opts.Economy.Spin(s.rng)

	r.Tick++
	r.Rounds++
	r.Jackpot = max(r.Jackpot+int64(o.Delta), 0)

	pl := &r.Players[p]
	pl.Symbols = o.Symbols
	pl.LastDelta = o.Delta
	pl.LastPayout = o.Payout
	pl.Spinning = true
	pl.SpinProgress = 0

	r.LastWinAmount = o.Payout

	if o.Win {
		pl.Anim = casino.AnimWin
		pl.Pulse = pulseWin
		r.LastWinnerID = int32(p)

		return winEvent{player: p, symbol: o.Symbols[0], payout: o.Payout}, true
	}

	pl.Anim = casino.AnimLose
	pl.Pulse = pulseLose
	r.LastWinnerID = casino.NoWinner

	return winEvent{}, false
}

// decay advances spin progress and fades pulse by the time since the last
// decay step. Players that started a spin in this pass keep progress 0 and
// their fresh pulse. The caller holds the lock.
func (s *Scheduler) decay(r *casino.Record, now time.Time, spun []bool) {
	dt := now.Sub(s.lastDecay).Seconds()
	if dt < 0 {
		dt = 0
	}

	s.lastDecay = now

	r.Tick++

	step := float32(dt / s.opts.SpinDuration.Seconds())
	fade := float32(s.opts.PulseDecay * dt)

	for i := range min(int(r.PlayerCount), len(spun)) {
		if spun[i] {
			continue
		}

		p := &r.Players[i]

		if p.Spinning {
			p.SpinProgress += step
			if p.SpinProgress >= 1 {
				p.Spinning = false
				p.SpinProgress = 1
			}
		}

		p.Pulse = float32(math.Max(0, float64(p.Pulse-fade)))
	}
}

func (s *Scheduler) report(wins []winEvent, invalid uint32, depth int) {
	log := s.opts.Log

	for _, w := range wins {
		log.Info("jackpot win",
			zap.Int("player", w.player),
			zap.Stringer("symbol", w.symbol),
			zap.Int32("payout", w.payout),
		)
	}

	if invalid > 0 {
		log.Debug("discarded out-of-range bets", zap.Uint32("count", invalid))
	}

	switch {
	case depth >= casino.ChannelCapacity && !s.warnedDepth:
		log.Warn("bet channel full, players are dropping bets", zap.Int("depth", depth))
		s.warnedDepth = true
	case depth < casino.ChannelCapacity:
		s.warnedDepth = false
	}

	if rec := s.store.Recoveries(); rec != s.lastRecoveries {
		log.Warn("state lock recovered from a dead or stuck holder",
			zap.Uint32("recoveries", rec),
			zap.Uint32("new", rec-s.lastRecoveries),
		)
		s.lastRecoveries = rec
	}
}

// uniform returns a duration in [lo, hi] with millisecond resolution.
func (s *Scheduler) uniform(lo, hi time.Duration) time.Duration {
	loMs, hiMs := lo.Milliseconds(), hi.Milliseconds()
	if hiMs <= loMs {
		return lo
	}

	return time.Duration(loMs+s.rng.Int64N(hiMs-loMs+1)) * time.Millisecond
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
