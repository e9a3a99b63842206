package casino

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxPlayers is the number of player slots in the record.
	MaxPlayers = 16

	// NoWinner is the lastWinnerId sentinel for "no winner".
	NoWinner = -1

	// NoPlayer is the id of an unused player slot.
	NoPlayer = -1
)

// AnimState is a display hint derived from the last spin outcome.
type AnimState int32

const (
	AnimIdle AnimState = iota
	AnimWalk
	AnimWin
	AnimLose
)

func (a AnimState) String() string {
	switch a {
	case AnimIdle:
		return "idle"
	case AnimWalk:
		return "walk"
	case AnimWin:
		return "win"
	case AnimLose:
		return "lose"
	default:
		return "unknown"
	}
}

func (a AnimState) valid() bool {
	return a >= AnimIdle && a <= AnimLose
}

// Symbol is a reel symbol.
type Symbol int32

const (
	SymbolSeven Symbol = iota
	SymbolDiamond
	SymbolBell
	SymbolStrawberry
)

// SymbolCount is the size of the reel alphabet.
const SymbolCount = 4

func (s Symbol) String() string {
	switch s {
	case SymbolSeven:
		return "7"
	case SymbolDiamond:
		return "diamond"
	case SymbolBell:
		return "bell"
	case SymbolStrawberry:
		return "strawberry"
	default:
		return "?"
	}
}

func (s Symbol) valid() bool {
	return s >= 0 && s < SymbolCount
}

// PlayerState is one player slot.
type PlayerState struct {
	ID int32

	// X and Y are a presentation hint. The core never interprets them.
	X, Y float32

	Anim         AnimState
	Pulse        float32
	Symbols      [3]Symbol
	LastDelta    int32
	Spinning     bool
	SpinProgress float32
	LastPayout   int32

	// LastBetAmount is the amount carried by the last accepted bet message.
	// It is advisory and never affects cost or payout.
	LastBetAmount int32
}

// Won reports whether the last drawn symbols are all identical.
func (p PlayerState) Won() bool {
	return p.Symbols[0] == p.Symbols[1] && p.Symbols[1] == p.Symbols[2]
}

// Diagnostics are instrumentation fields. Nothing relies on them for
// correctness.
type Diagnostics struct {
	// LockLastHeld is when the writer last held the state mutex.
	LockLastHeld time.Time

	// LockRecoveries counts takeovers of the state mutex. Filled by
	// [State.Snapshot], never stored by [State.Update].
	LockRecoveries uint32

	SignalValue  int32
	ChannelDepth int32

	// InvalidBets counts bets discarded for an out-of-range player id.
	InvalidBets uint32

	// CooldownDrops counts bets discarded because the player was cooling down.
	CooldownDrops uint32
}

// Record is a private, in-process copy of the shared state.
type Record struct {
	// Session is set once by the owner at initialization. A new value means
	// the server was restarted.
	Session  uuid.UUID
	OwnerPID int32

	Tick          uint64
	Jackpot       int64
	Rounds        int32
	LastWinnerID  int32
	LastWinAmount int32
	PlayerCount   int32
	Players       [MaxPlayers]PlayerState

	Diag Diagnostics
}

// Active returns a copy of the active player slots.
func (r *Record) Active() []PlayerState {
	n := min(max(int(r.PlayerCount), 0), MaxPlayers)

	out := make([]PlayerState, n)
	copy(out, r.Players[:n])

	return out
}

// HasWinner reports whether LastWinnerID names a player.
func (r *Record) HasWinner() bool {
	return r.LastWinnerID != NoWinner
}

// sanitize corrects out-of-range fields in place so that readers can never
// observe an invalid record.
func (r *Record) sanitize() {
	if r.Jackpot < 0 {
		r.Jackpot = 0
	}

	r.PlayerCount = min(max(r.PlayerCount, 0), MaxPlayers)

	if r.LastWinnerID < 0 || r.LastWinnerID >= r.PlayerCount {
		r.LastWinnerID = NoWinner
	}

	for i := range r.Players {
		p := &r.Players[i]

		if int32(i) < r.PlayerCount {
			p.ID = int32(i)
		} else {
			p.ID = NoPlayer
		}

		if !p.Anim.valid() {
			p.Anim = AnimIdle
		}

		for j := range p.Symbols {
			if !p.Symbols[j].valid() {
				p.Symbols[j] = SymbolSeven
			}
		}

		p.Pulse = clamp01(p.Pulse)
		p.SpinProgress = clamp01(p.SpinProgress)
	}
}

func clamp01(v float32) float32 {
	switch {
	case math.IsNaN(float64(v)), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// emptyRecord is the record written at initialization.
func emptyRecord() Record {
	r := Record{LastWinnerID: NoWinner}

	for i := range r.Players {
		r.Players[i].ID = NoPlayer
	}

	return r
}

// BetMessage is the bet channel payload.
type BetMessage struct {
	PlayerID int32
	Amount   int32
}
