package casino

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Layout_Fields_Do_Not_Overlap_And_Fit_Their_Segment(t *testing.T) {
	t.Parallel()

	sizes := SegmentSizes()
	end := map[string]int{}

	for _, f := range Layout() {
		size, ok := sizes[f.Segment]
		require.True(t, ok, "unknown segment %q", f.Segment)

		assert.GreaterOrEqual(t, f.Offset, end[f.Segment], "%s.%s overlaps previous field", f.Segment, f.Name)
		assert.LessOrEqual(t, f.Offset+f.Size, size, "%s.%s exceeds segment", f.Segment, f.Name)

		end[f.Segment] = f.Offset + f.Size
	}

	assert.Equal(t, 1152, StateSize)
	assert.Equal(t, StateSize, end["state"])
}

func Test_Record_Codec_Preserves_Every_Field(t *testing.T) {
	t.Parallel()

	want := emptyRecord()
	want.Session = uuid.MustParse("7b0e4cde-3d25-4bd2-9a53-8d0d0a7d7c11")
	want.OwnerPID = 4242
	want.Tick = 1<<40 + 7
	want.Jackpot = 123456789
	want.Rounds = 77
	want.LastWinnerID = 2
	want.LastWinAmount = 220
	want.PlayerCount = 3
	want.Diag = Diagnostics{
		LockLastHeld:  time.UnixMilli(1_700_000_000_123),
		SignalValue:   1,
		ChannelDepth:  4,
		InvalidBets:   9,
		CooldownDrops: 11,
	}
	want.Players[2] = PlayerState{
		ID:            2,
		X:             960.5,
		Y:             -12.25,
		Anim:          AnimWin,
		Pulse:         0.75,
		Symbols:       [3]Symbol{SymbolDiamond, SymbolDiamond, SymbolDiamond},
		LastDelta:     200,
		Spinning:      true,
		SpinProgress:  0.5,
		LastPayout:    220,
		LastBetAmount: -5,
	}

	buf := make([]byte, StateSize)
	writeStateIdentity(buf, &want)
	encodeRecord(buf, &want)

	got := decodeRecord(buf)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decode(encode(r)) mismatch (-want +got):\n%s", diff)
	}
}

func Test_Record_Sanitize_Clamps_Invalid_Fields(t *testing.T) {
	t.Parallel()

	rec := emptyRecord()
	rec.Jackpot = -50
	rec.PlayerCount = 40
	rec.LastWinnerID = 99
	rec.Players[0] = PlayerState{
		ID:           7,
		Anim:         AnimState(12),
		Pulse:        float32(math.NaN()),
		SpinProgress: 1.5,
		Symbols:      [3]Symbol{-1, 5, SymbolBell},
	}

	rec.sanitize()

	assert.Equal(t, int64(0), rec.Jackpot)
	assert.Equal(t, int32(MaxPlayers), rec.PlayerCount)
	assert.Equal(t, int32(NoWinner), rec.LastWinnerID)

	p := rec.Players[0]
	assert.Equal(t, int32(0), p.ID)
	assert.Equal(t, AnimIdle, p.Anim)
	assert.Equal(t, float32(0), p.Pulse)
	assert.Equal(t, float32(1), p.SpinProgress)
	assert.Equal(t, [3]Symbol{SymbolSeven, SymbolSeven, SymbolBell}, p.Symbols)
}

func Test_Record_Sanitize_Marks_Slots_Beyond_PlayerCount_Unused(t *testing.T) {
	t.Parallel()

	rec := emptyRecord()
	rec.PlayerCount = 2
	rec.Players[5].ID = 5

	rec.sanitize()

	assert.Equal(t, int32(1), rec.Players[1].ID)
	assert.Equal(t, int32(NoPlayer), rec.Players[2].ID)
	assert.Equal(t, int32(NoPlayer), rec.Players[5].ID)
	assert.Len(t, rec.Active(), 2)
}

func Test_Bet_Codec_Uses_Little_Endian_Int32_Pair(t *testing.T) {
	t.Parallel()

	buf := make([]byte, BetMessageSize)
	encodeBet(buf, BetMessage{PlayerID: 1, Amount: -2})

	assert.Equal(t, []byte{1, 0, 0, 0, 0xFE, 0xFF, 0xFF, 0xFF}, buf)
	assert.Equal(t, BetMessage{PlayerID: 1, Amount: -2}, decodeBet(buf))
}

func Test_CheckHeader_Distinguishes_Uninitialized_From_Foreign(t *testing.T) {
	t.Parallel()

	buf := make([]byte, StateSize)
	require.ErrorIs(t, checkStateHeader(buf), ErrSegmentUnavailable)

	publishHeader(buf, channelMagic)
	require.ErrorIs(t, checkStateHeader(buf), ErrIncompatible)

	rec := emptyRecord()
	writeStateIdentity(buf, &rec)
	publishHeader(buf, stateMagic)
	require.NoError(t, checkStateHeader(buf))
}
