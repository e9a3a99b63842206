package casino

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/calvinalkan/casino-ipc/pkg/shm"
)

// isLittleEndian is true if the CPU uses little-endian byte order.
var isLittleEndian = func() bool {
	var x uint32 = 0x04030201

	return *(*byte)(unsafe.Pointer(&x)) == 0x01
}()

// is64Bit is true if the architecture has 64-bit pointers.
var is64Bit = bits.UintSize == 64

// Format constants shared by every process. All integers are little-endian.
const (
	formatVersion = 1

	stateMagic   uint32 = 0x314E5343 // "CSN1"
	channelMagic uint32 = 0x31515343 // "CSQ1"
	signalMagic  uint32 = 0x31535343 // "CSS1"

	hdrOffMagic   = 0x00
	hdrOffVersion = 0x04
)

// State segment.
const (
	stateOffRecordSize    = 0x008
	stateOffMaxPlayers    = 0x00C
	stateOffMutex         = 0x010
	stateOffSession       = 0x030
	stateOffTick          = 0x040
	stateOffJackpot       = 0x048
	stateOffRounds        = 0x050
	stateOffLastWinnerID  = 0x054
	stateOffLastWinAmount = 0x058
	stateOffPlayerCount   = 0x05C
	stateOffSignalValue   = 0x060
	stateOffChannelDepth  = 0x064
	stateOffInvalidBets   = 0x068
	stateOffCooldownDrops = 0x06C
	stateOffOwnerPID      = 0x070
	stateOffLockLastHeld  = 0x078
	stateOffPlayers       = 0x080

	playerSize = 64

	// StateSize is the exact size of the state segment.
	StateSize = stateOffPlayers + MaxPlayers*playerSize
)

// PlayerState offsets, relative to the slot.
const (
	playerOffID            = 0
	playerOffX             = 4
	playerOffY             = 8
	playerOffAnim          = 12
	playerOffPulse         = 16
	playerOffSymbols       = 20
	playerOffLastDelta     = 32
	playerOffSpinning      = 36
	playerOffSpinProgress  = 40
	playerOffLastPayout    = 44
	playerOffLastBetAmount = 48
)

// Channel segment.
const (
	// ChannelCapacity is the number of pending bets the channel holds.
	ChannelCapacity = 10

	// BetMessageSize is the encoded size of a [BetMessage].
	BetMessageSize = 8

	chanOffCapacity  = 0x08
	chanOffMsgSize   = 0x0C
	chanOffMutex     = 0x10
	chanOffHead      = 0x30
	chanOffCount     = 0x34
	chanOffSent      = 0x38
	chanOffFullDrops = 0x3C
	chanOffSlots     = 0x40

	// ChannelSize is the exact size of the channel segment.
	ChannelSize = chanOffSlots + ChannelCapacity*BetMessageSize
)

// Signal segment.
const (
	sigOffSemaphore = 0x08

	// SignalSize is the exact size of the signal segment.
	SignalSize = 64
)

// Compile-time layout checks.
var (
	_ [stateOffSession - stateOffMutex - shm.MutexSize]struct{}
	_ [chanOffHead - chanOffMutex - shm.MutexSize]struct{}
	_ [SignalSize - sigOffSemaphore - shm.SemaphoreSize]struct{}
)

// Field describes one field of the wire format.
type Field struct {
	Segment string
	Name    string
	Offset  int
	Size    int
	Type    string
}

// Layout returns the wire format of all segments, in offset order.
func Layout() []Field {
	fields := []Field{
		{"state", "magic", hdrOffMagic, 4, "u32 \"CSN1\""},
		{"state", "version", hdrOffVersion, 4, "u32"},
		{"state", "record_size", stateOffRecordSize, 4, "u32"},
		{"state", "max_players", stateOffMaxPlayers, 4, "u32"},
		{"state", "mutex", stateOffMutex, shm.MutexSize, "mutex block"},
		{"state", "session", stateOffSession, 16, "uuid"},
		{"state", "tick", stateOffTick, 8, "u64"},
		{"state", "jackpot", stateOffJackpot, 8, "i64"},
		{"state", "rounds", stateOffRounds, 4, "i32"},
		{"state", "last_winner_id", stateOffLastWinnerID, 4, "i32"},
		{"state", "last_win_amount", stateOffLastWinAmount, 4, "i32"},
		{"state", "player_count", stateOffPlayerCount, 4, "i32"},
		{"state", "signal_value", stateOffSignalValue, 4, "i32"},
		{"state", "channel_depth", stateOffChannelDepth, 4, "i32"},
		{"state", "invalid_bets", stateOffInvalidBets, 4, "u32"},
		{"state", "cooldown_drops", stateOffCooldownDrops, 4, "u32"},
		{"state", "owner_pid", stateOffOwnerPID, 4, "i32"},
		{"state", "lock_last_held", stateOffLockLastHeld, 8, "u64 unix ms"},
		{"state", "players", stateOffPlayers, MaxPlayers * playerSize, fmt.Sprintf("[%d]player", MaxPlayers)},

		{"player", "id", playerOffID, 4, "i32"},
		{"player", "x", playerOffX, 4, "f32"},
		{"player", "y", playerOffY, 4, "f32"},
		{"player", "anim", playerOffAnim, 4, "i32"},
		{"player", "pulse", playerOffPulse, 4, "f32"},
		{"player", "symbols", playerOffSymbols, 12, "[3]i32"},
		{"player", "last_delta", playerOffLastDelta, 4, "i32"},
		{"player", "spinning", playerOffSpinning, 4, "u32 bool"},
		{"player", "spin_progress", playerOffSpinProgress, 4, "f32"},
		{"player", "last_payout", playerOffLastPayout, 4, "i32"},
		{"player", "last_bet_amount", playerOffLastBetAmount, 4, "i32"},

		{"channel", "magic", hdrOffMagic, 4, "u32 \"CSQ1\""},
		{"channel", "version", hdrOffVersion, 4, "u32"},
		{"channel", "capacity", chanOffCapacity, 4, "u32"},
		{"channel", "message_size", chanOffMsgSize, 4, "u32"},
		{"channel", "mutex", chanOffMutex, shm.MutexSize, "mutex block"},
		{"channel", "head", chanOffHead, 4, "u32"},
		{"channel", "count", chanOffCount, 4, "u32"},
		{"channel", "sent", chanOffSent, 4, "u32"},
		{"channel", "full_drops", chanOffFullDrops, 4, "u32"},
		{"channel", "slots", chanOffSlots, ChannelCapacity * BetMessageSize, fmt.Sprintf("[%d]{i32 player_id, i32 amount}", ChannelCapacity)},

		{"signal", "magic", hdrOffMagic, 4, "u32 \"CSS1\""},
		{"signal", "version", hdrOffVersion, 4, "u32"},
		{"signal", "semaphore", sigOffSemaphore, shm.SemaphoreSize, "u32 count, u32 raises"},
	}

	return fields
}

// SegmentSizes returns the total size of each segment kind.
func SegmentSizes() map[string]int {
	return map[string]int{
		"state":   StateSize,
		"player":  playerSize,
		"channel": ChannelSize,
		"signal":  SignalSize,
	}
}

func checkPlatform() error {
	if !is64Bit {
		return fmt.Errorf("casino requires a 64-bit architecture: %w", ErrIncompatible)
	}

	if !isLittleEndian {
		return fmt.Errorf("casino requires a little-endian CPU: %w", ErrIncompatible)
	}

	return nil
}

func magicWord(buf []byte) *uint32 {
	return (*uint32)(unsafe.Pointer(&buf[hdrOffMagic]))
}

// publishHeader stamps the version and then the magic. Attachers treat a
// zero magic as "not initialized yet", so the magic must be written last.
func publishHeader(buf []byte, magic uint32) {
	binary.LittleEndian.PutUint32(buf[hdrOffVersion:], formatVersion)
	atomic.StoreUint32(magicWord(buf), magic)
}

func checkHeader(buf []byte, magic uint32) error {
	got := atomic.LoadUint32(magicWord(buf))
	if got == 0 {
		return fmt.Errorf("%w: not initialized by owner yet", ErrSegmentUnavailable)
	}

	if got != magic {
		return fmt.Errorf("%w: magic %#08x, want %#08x", ErrIncompatible, got, magic)
	}

	if v := binary.LittleEndian.Uint32(buf[hdrOffVersion:]); v != formatVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrIncompatible, v, formatVersion)
	}

	return nil
}

func checkStateHeader(buf []byte) error {
	if err := checkHeader(buf, stateMagic); err != nil {
		return err
	}

	le := binary.LittleEndian

	if n := le.Uint32(buf[stateOffRecordSize:]); n != StateSize {
		return fmt.Errorf("%w: record size %d, want %d", ErrIncompatible, n, StateSize)
	}

	if n := le.Uint32(buf[stateOffMaxPlayers:]); n != MaxPlayers {
		return fmt.Errorf("%w: max players %d, want %d", ErrIncompatible, n, MaxPlayers)
	}

	return nil
}

func checkChannelHeader(buf []byte) error {
	if err := checkHeader(buf, channelMagic); err != nil {
		return err
	}

	le := binary.LittleEndian

	if n := le.Uint32(buf[chanOffCapacity:]); n != ChannelCapacity {
		return fmt.Errorf("%w: channel capacity %d, want %d", ErrIncompatible, n, ChannelCapacity)
	}

	if n := le.Uint32(buf[chanOffMsgSize:]); n != BetMessageSize {
		return fmt.Errorf("%w: message size %d, want %d", ErrIncompatible, n, BetMessageSize)
	}

	return nil
}

// writeStateIdentity writes the fields that are set once per segment lifetime.
func writeStateIdentity(buf []byte, r *Record) {
	le := binary.LittleEndian

	le.PutUint32(buf[stateOffRecordSize:], StateSize)
	le.PutUint32(buf[stateOffMaxPlayers:], MaxPlayers)
	copy(buf[stateOffSession:stateOffSession+16], r.Session[:])
	le.PutUint32(buf[stateOffOwnerPID:], uint32(r.OwnerPID))
}

// decodeRecord copies the state segment into a Record. The caller holds the
// mutex. Lock recoveries are filled in by the caller.
func decodeRecord(buf []byte) Record {
	le := binary.LittleEndian

	var r Record

	copy(r.Session[:], buf[stateOffSession:stateOffSession+16])
	r.OwnerPID = int32(le.Uint32(buf[stateOffOwnerPID:]))

	r.Tick = le.Uint64(buf[stateOffTick:])
	r.Jackpot = int64(le.Uint64(buf[stateOffJackpot:]))
	r.Rounds = int32(le.Uint32(buf[stateOffRounds:]))
	r.LastWinnerID = int32(le.Uint32(buf[stateOffLastWinnerID:]))
	r.LastWinAmount = int32(le.Uint32(buf[stateOffLastWinAmount:]))
	r.PlayerCount = int32(le.Uint32(buf[stateOffPlayerCount:]))

	r.Diag.SignalValue = int32(le.Uint32(buf[stateOffSignalValue:]))
	r.Diag.ChannelDepth = int32(le.Uint32(buf[stateOffChannelDepth:]))
	r.Diag.InvalidBets = le.Uint32(buf[stateOffInvalidBets:])
	r.Diag.CooldownDrops = le.Uint32(buf[stateOffCooldownDrops:])

	if ms := le.Uint64(buf[stateOffLockLastHeld:]); ms != 0 {
		r.Diag.LockLastHeld = time.UnixMilli(int64(ms))
	}

	for i := range r.Players {
		off := stateOffPlayers + i*playerSize
		r.Players[i] = decodePlayer(buf[off : off+playerSize])
	}

	return r
}

// encodeRecord writes the mutable part of r. Session and owner pid are
// written only by initialization. The caller holds the mutex.
func encodeRecord(buf []byte, r *Record) {
	le := binary.LittleEndian

	le.PutUint64(buf[stateOffTick:], r.Tick)
	le.PutUint64(buf[stateOffJackpot:], uint64(r.Jackpot))
	le.PutUint32(buf[stateOffRounds:], uint32(r.Rounds))
	le.PutUint32(buf[stateOffLastWinnerID:], uint32(r.LastWinnerID))
	le.PutUint32(buf[stateOffLastWinAmount:], uint32(r.LastWinAmount))
	le.PutUint32(buf[stateOffPlayerCount:], uint32(r.PlayerCount))

	le.PutUint32(buf[stateOffSignalValue:], uint32(r.Diag.SignalValue))
	le.PutUint32(buf[stateOffChannelDepth:], uint32(r.Diag.ChannelDepth))
	le.PutUint32(buf[stateOffInvalidBets:], r.Diag.InvalidBets)
	le.PutUint32(buf[stateOffCooldownDrops:], r.Diag.CooldownDrops)

	var lastHeld uint64
	if !r.Diag.LockLastHeld.IsZero() {
		lastHeld = uint64(r.Diag.LockLastHeld.UnixMilli())
	}

	le.PutUint64(buf[stateOffLockLastHeld:], lastHeld)

	for i := range r.Players {
		off := stateOffPlayers + i*playerSize
		encodePlayer(buf[off:off+playerSize], &r.Players[i])
	}
}

func decodePlayer(b []byte) PlayerState {
	le := binary.LittleEndian

	p := PlayerState{
		ID:            int32(le.Uint32(b[playerOffID:])),
		X:             math.Float32frombits(le.Uint32(b[playerOffX:])),
		Y:             math.Float32frombits(le.Uint32(b[playerOffY:])),
		Anim:          AnimState(int32(le.Uint32(b[playerOffAnim:]))),
		Pulse:         math.Float32frombits(le.Uint32(b[playerOffPulse:])),
		LastDelta:     int32(le.Uint32(b[playerOffLastDelta:])),
		Spinning:      le.Uint32(b[playerOffSpinning:]) != 0,
		SpinProgress:  math.Float32frombits(le.Uint32(b[playerOffSpinProgress:])),
		LastPayout:    int32(le.Uint32(b[playerOffLastPayout:])),
		LastBetAmount: int32(le.Uint32(b[playerOffLastBetAmount:])),
	}

	for j := range p.Symbols {
		p.Symbols[j] = Symbol(int32(le.Uint32(b[playerOffSymbols+4*j:])))
	}

	return p
}

func encodePlayer(b []byte, p *PlayerState) {
	le := binary.LittleEndian

	le.PutUint32(b[playerOffID:], uint32(p.ID))
	le.PutUint32(b[playerOffX:], math.Float32bits(p.X))
	le.PutUint32(b[playerOffY:], math.Float32bits(p.Y))
	le.PutUint32(b[playerOffAnim:], uint32(p.Anim))
	le.PutUint32(b[playerOffPulse:], math.Float32bits(p.Pulse))

	for j, s := range p.Symbols {
		le.PutUint32(b[playerOffSymbols+4*j:], uint32(s))
	}

	le.PutUint32(b[playerOffLastDelta:], uint32(p.LastDelta))

	var spinning uint32
	if p.Spinning {
		spinning = 1
	}

	le.PutUint32(b[playerOffSpinning:], spinning)
	le.PutUint32(b[playerOffSpinProgress:], math.Float32bits(p.SpinProgress))
	le.PutUint32(b[playerOffLastPayout:], uint32(p.LastPayout))
	le.PutUint32(b[playerOffLastBetAmount:], uint32(p.LastBetAmount))
}

func encodeBet(b []byte, m BetMessage) {
	binary.LittleEndian.PutUint32(b[0:], uint32(m.PlayerID))
	binary.LittleEndian.PutUint32(b[4:], uint32(m.Amount))
}

func decodeBet(b []byte) BetMessage {
	return BetMessage{
		PlayerID: int32(binary.LittleEndian.Uint32(b[0:])),
		Amount:   int32(binary.LittleEndian.Uint32(b[4:])),
	}
}
