package observer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

// View is the JSON form of a snapshot, as written by --json and --dump.
type View struct {
	Session       string       `json:"session"`
	OwnerPID      int32        `json:"owner_pid"`
	Tick          uint64       `json:"tick"`
	Jackpot       int64        `json:"jackpot"`
	Rounds        int32        `json:"rounds"`
	LastWinnerID  int32        `json:"last_winner_id"`
	LastWinAmount int32        `json:"last_win_amount"`
	PlayerCount   int32        `json:"player_count"`
	Players       []PlayerView `json:"players"`
	Diag          DiagView     `json:"diag"`
}

// PlayerView is one active player in a [View].
type PlayerView struct {
	ID            int32     `json:"id"`
	X             float32   `json:"x"`
	Y             float32   `json:"y"`
	Anim          string    `json:"anim"`
	Pulse         float32   `json:"pulse"`
	Symbols       [3]string `json:"symbols"`
	LastDelta     int32     `json:"last_delta"`
	LastPayout    int32     `json:"last_payout"`
	LastBetAmount int32     `json:"last_bet_amount"`
	Spinning      bool      `json:"spinning"`
	SpinProgress  float32   `json:"spin_progress"`
}

// DiagView carries the instrumentation fields.
type DiagView struct {
	LockLastHeld   string `json:"lock_last_held,omitempty"`
	LockRecoveries uint32 `json:"lock_recoveries"`
	SignalValue    int32  `json:"signal_value"`
	ChannelDepth   int32  `json:"channel_depth"`
	InvalidBets    uint32 `json:"invalid_bets"`
	CooldownDrops  uint32 `json:"cooldown_drops"`
}

// NewView converts a snapshot. Only active players are included.
func NewView(rec casino.Record) View {
	v := View{
		Session:       rec.Session.String(),
		OwnerPID:      rec.OwnerPID,
		Tick:          rec.Tick,
		Jackpot:       rec.Jackpot,
		Rounds:        rec.Rounds,
		LastWinnerID:  rec.LastWinnerID,
		LastWinAmount: rec.LastWinAmount,
		PlayerCount:   rec.PlayerCount,
		Players:       []PlayerView{},
		Diag: DiagView{
			LockRecoveries: rec.Diag.LockRecoveries,
			SignalValue:    rec.Diag.SignalValue,
			ChannelDepth:   rec.Diag.ChannelDepth,
			InvalidBets:    rec.Diag.InvalidBets,
			CooldownDrops:  rec.Diag.CooldownDrops,
		},
	}

	if !rec.Diag.LockLastHeld.IsZero() {
		v.Diag.LockLastHeld = rec.Diag.LockLastHeld.UTC().Format(time.RFC3339Nano)
	}

	for _, p := range rec.Active() {
		pv := PlayerView{
			ID:            p.ID,
			X:             p.X,
			Y:             p.Y,
			Anim:          p.Anim.String(),
			Pulse:         p.Pulse,
			LastDelta:     p.LastDelta,
			LastPayout:    p.LastPayout,
			LastBetAmount: p.LastBetAmount,
			Spinning:      p.Spinning,
			SpinProgress:  p.SpinProgress,
		}

		for i, s := range p.Symbols {
			pv.Symbols[i] = s.String()
		}

		v.Players = append(v.Players, pv)
	}

	return v
}

// MarshalView returns the indented JSON form of rec.
func MarshalView(rec casino.Record) ([]byte, error) {
	data, err := json.MarshalIndent(NewView(rec), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	return append(data, '\n'), nil
}

// WriteJSON writes rec as one compact JSON line.
func WriteJSON(w io.Writer, rec casino.Record) error {
	return json.NewEncoder(w).Encode(NewView(rec))
}

// WriteText writes a short human-readable table of rec.
func WriteText(w io.Writer, rec casino.Record) error {
	var b strings.Builder

	winner := "-"
	if rec.HasWinner() {
		winner = fmt.Sprintf("p%d (+%d)", rec.LastWinnerID, rec.LastWinAmount)
	}

	fmt.Fprintf(&b, "tick %d  jackpot %d  rounds %d  players %d  last winner %s\n",
		rec.Tick, rec.Jackpot, rec.Rounds, rec.PlayerCount, winner)

	for _, p := range rec.Active() {
		reels := "  -  "

		if p.Spinning || p.Anim == casino.AnimWin || p.Anim == casino.AnimLose {
			reels = fmt.Sprintf("%s|%s|%s", p.Symbols[0], p.Symbols[1], p.Symbols[2])
		}

		spin := ""
		if p.Spinning {
			spin = fmt.Sprintf(" spinning %3.0f%%", p.SpinProgress*100)
		}

		fmt.Fprintf(&b, "  p%-2d %-5s %-26s delta %+4d%s\n", p.ID, p.Anim, reels, p.LastDelta, spin)
	}

	d := rec.Diag
	fmt.Fprintf(&b, "  diag: recoveries %d  signal %d  depth %d  invalid %d  cooldown-drops %d\n",
		d.LockRecoveries, d.SignalValue, d.ChannelDepth, d.InvalidBets, d.CooldownDrops)

	_, err := io.WriteString(w, b.String())

	return err
}
