package observer_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/casino-ipc/internal/observer"
	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

func newServerState(t *testing.T, opts casino.Options, players int32) (*casino.State, uuid.UUID) {
	t.Helper()

	state, err := casino.CreateState(opts)
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, state.Initialize(id))
	require.NoError(t, state.Update(func(r *casino.Record) {
		r.PlayerCount = players
		r.Jackpot = 600
	}))

	return state, id
}

func noSleep(_ context.Context, _ time.Duration) bool { return true }

func Test_Watcher_Writes_One_JSON_Line_Per_Snapshot(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir()}

	state, id := newServerState(t, opts, 2)
	defer state.Close()

	var out bytes.Buffer

	w := observer.New(observer.Attacher(opts), &out, observer.Options{Count: 3, JSON: true, Sleep: noSleep})
	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 3, w.Polls())

	sc := bufio.NewScanner(&out)
	lines := 0

	for sc.Scan() {
		var v observer.View
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		assert.Equal(t, id.String(), v.Session)
		assert.Equal(t, int64(600), v.Jackpot)
		assert.Len(t, v.Players, 2)

		lines++
	}

	assert.Equal(t, 3, lines)
}

func Test_Watcher_Text_Output_Lists_Active_Players(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir()}

	state, _ := newServerState(t, opts, 3)
	defer state.Close()

	var out bytes.Buffer

	w := observer.New(observer.Attacher(opts), &out, observer.Options{Count: 1})
	require.NoError(t, w.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "jackpot 600")
	assert.Contains(t, text, "p0 ")
	assert.Contains(t, text, "p2 ")
	assert.NotContains(t, text, "p3 ")
}

func Test_Watcher_Reattaches_After_Server_Restart(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir(), AttachTimeout: time.Second}

	first, firstID := newServerState(t, opts, 1)

	w := observer.New(observer.Attacher(opts), &bytes.Buffer{}, observer.Options{Quiet: true})

	ctx := context.Background()
	require.NoError(t, w.Poll(ctx))
	require.NoError(t, first.Close())

	second, secondID := newServerState(t, opts, 4)
	defer second.Close()

	require.NotEqual(t, firstID, secondID)

	dump := filepath.Join(t.TempDir(), "snapshot.json")
	w2 := observer.New(observer.Attacher(opts), &bytes.Buffer{}, observer.Options{Quiet: true, DumpPath: dump})

	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, 1, w.Restarts())

	require.NoError(t, w2.Poll(ctx))

	data, err := os.ReadFile(dump)
	require.NoError(t, err)

	var v observer.View
	require.NoError(t, json.Unmarshal(data, &v))
	assert.Equal(t, secondID.String(), v.Session)
	assert.Equal(t, int32(4), v.PlayerCount)
}

func Test_Watcher_Fails_When_No_Server_Comes_Up(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir(), AttachTimeout: 50 * time.Millisecond}

	w := observer.New(observer.Attacher(opts), &bytes.Buffer{}, observer.Options{Count: 1})

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, observer.IsUnavailable(err))
}

func Test_Watcher_Returns_Nil_When_Cancelled(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir()}

	state, _ := newServerState(t, opts, 1)
	defer state.Close()

	ctx, cancel := context.WithCancel(context.Background())

	polls := 0
	sleep := func(context.Context, time.Duration) bool {
		polls++
		if polls == 2 {
			cancel()

			return false
		}

		return true
	}

	var out bytes.Buffer

	w := observer.New(observer.Attacher(opts), &out, observer.Options{Sleep: sleep})
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, 2, w.Polls())
	assert.Equal(t, 2, strings.Count(out.String(), "jackpot"))
}

// flakySource fails the first lockFailures snapshots with a lock error.
type flakySource struct {
	rec          casino.Record
	lockFailures int
	calls        int
}

func (s *flakySource) Snapshot() (casino.Record, error) {
	s.calls++
	if s.calls <= s.lockFailures {
		return casino.Record{}, fmt.Errorf("%w: mutex not initialized", casino.ErrLockAcquisitionFailed)
	}

	return s.rec, nil
}

func (s *flakySource) Replaced() (bool, error) { return false, nil }
func (s *flakySource) Close() error            { return nil }

func Test_Watcher_Skips_Poll_When_Lock_Fails_Then_Continues(t *testing.T) {
	t.Parallel()

	src := &flakySource{rec: casino.Record{Session: uuid.New(), PlayerCount: 1, Jackpot: 700}, lockFailures: 1}
	attach := func(context.Context) (observer.Source, error) { return src, nil }

	var out bytes.Buffer

	w := observer.New(attach, &out, observer.Options{Count: 2, Sleep: noSleep})
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 2, w.Polls())
	assert.Equal(t, 1, w.Skipped())
	assert.Equal(t, 2, strings.Count(out.String(), "jackpot 700"))
}

func Test_Watcher_Returns_Error_When_Snapshot_Fails_Otherwise(t *testing.T) {
	t.Parallel()

	attach := func(context.Context) (observer.Source, error) { return closedSource{}, nil }

	w := observer.New(attach, &bytes.Buffer{}, observer.Options{Count: 2, Sleep: noSleep})
	err := w.Run(context.Background())

	require.ErrorIs(t, err, casino.ErrClosed)
	assert.Equal(t, 0, w.Skipped())
}

type closedSource struct{}

func (closedSource) Snapshot() (casino.Record, error) { return casino.Record{}, casino.ErrClosed }
func (closedSource) Replaced() (bool, error)          { return false, nil }
func (closedSource) Close() error                     { return nil }

func Test_NewView_Includes_Diagnostics_And_Symbols(t *testing.T) {
	t.Parallel()

	rec := casino.Record{PlayerCount: 1, LastWinnerID: 0, LastWinAmount: 400}
	rec.Players[0] = casino.PlayerState{
		Anim:    casino.AnimWin,
		Symbols: [3]casino.Symbol{casino.SymbolSeven, casino.SymbolSeven, casino.SymbolSeven},
	}
	rec.Diag.InvalidBets = 2
	rec.Diag.LockLastHeld = time.Unix(1700000000, 0)

	v := observer.NewView(rec)

	require.Len(t, v.Players, 1)
	assert.Equal(t, [3]string{"7", "7", "7"}, v.Players[0].Symbols)
	assert.Equal(t, "win", v.Players[0].Anim)
	assert.Equal(t, uint32(2), v.Diag.InvalidBets)
	assert.Equal(t, "2023-11-14T22:13:20Z", v.Diag.LockLastHeld)
}
