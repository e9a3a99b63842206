package player_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/casino-ipc/internal/player"
	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

type recordingSender struct {
	sent []casino.BetMessage
	err  error
}

func (s *recordingSender) Send(msg casino.BetMessage) error {
	if s.err != nil {
		return s.err
	}

	s.sent = append(s.sent, msg)

	return nil
}

type countingRaiser struct {
	raises int
	err    error
}

func (r *countingRaiser) Raise() error {
	r.raises++

	return r.err
}

// scriptedSleep records requested delays and cancels after n sleeps.
type scriptedSleep struct {
	delays []time.Duration
	allow  int
}

func (s *scriptedSleep) Sleep(_ context.Context, d time.Duration) bool {
	s.delays = append(s.delays, d)

	return len(s.delays) <= s.allow
}

func Test_ValidateID_Accepts_Only_Player_Slots(t *testing.T) {
	t.Parallel()

	require.NoError(t, player.ValidateID(0))
	require.NoError(t, player.ValidateID(casino.MaxPlayers-1))
	require.ErrorIs(t, player.ValidateID(-1), player.ErrInvalidID)
	require.ErrorIs(t, player.ValidateID(casino.MaxPlayers), player.ErrInvalidID)

	_, err := player.New(player.Options{ID: 99})
	require.ErrorIs(t, err, player.ErrInvalidID)
}

func Test_New_Rejects_Inverted_Bet_Bounds(t *testing.T) {
	t.Parallel()

	_, err := player.New(player.Options{ID: 1, BetMin: 50, BetMax: 20})
	require.ErrorIs(t, err, casino.ErrInvalidInput)
}

func Test_Cadence_Stays_Within_Bounds_For_Each_Id(t *testing.T) {
	t.Parallel()

	for _, id := range []int{0, 3, 15} {
		p, err := player.New(player.Options{ID: id, Seed: 9})
		require.NoError(t, err)

		step := time.Duration(id)

		for range 500 {
			start := p.StartDelay()
			assert.GreaterOrEqual(t, start, 150*time.Millisecond*step)
			assert.LessOrEqual(t, start, 150*time.Millisecond*step+1200*time.Millisecond)

			pause := p.Pause()
			assert.GreaterOrEqual(t, pause, 1200*time.Millisecond+320*time.Millisecond*step+600*time.Millisecond)
			assert.LessOrEqual(t, pause, 1200*time.Millisecond+320*time.Millisecond*step+1800*time.Millisecond)

			amount := p.Amount()
			assert.GreaterOrEqual(t, amount, int32(player.DefaultBetMin))
			assert.LessOrEqual(t, amount, int32(player.DefaultBetMax))
		}
	}
}

func Test_Serve_Sends_One_Bet_Per_Cycle_Until_Cancelled(t *testing.T) {
	t.Parallel()

	sleep := &scriptedSleep{allow: 4}

	p, err := player.New(player.Options{ID: 2, Seed: 1, Sleep: sleep.Sleep})
	require.NoError(t, err)

	sig := &countingRaiser{}
	conn := &fakeConn{raiser: sig}
	ch := &conn.recordingSender

	require.NoError(t, p.Serve(context.Background(), dialOnce(conn)))

	// One start delay, then a bet before every pause; the fifth sleep stops.
	require.Len(t, sleep.delays, 5)
	require.Len(t, ch.sent, 4)
	assert.Equal(t, 4, sig.raises)

	for _, msg := range ch.sent {
		assert.Equal(t, int32(2), msg.PlayerID)
	}

	assert.Equal(t, player.Stats{Sent: 4}, p.Stats())
}

func Test_Serve_Keeps_Going_When_Channel_Full_Or_Signal_Fails(t *testing.T) {
	t.Parallel()

	sleep := &scriptedSleep{allow: 3}

	p, err := player.New(player.Options{ID: 0, Seed: 1, Sleep: sleep.Sleep})
	require.NoError(t, err)

	full := &fakeConn{recordingSender: recordingSender{err: casino.ErrChannelFull}}
	require.NoError(t, p.Serve(context.Background(), dialOnce(full)))
	assert.Equal(t, uint64(3), p.Stats().Dropped)

	sig := &countingRaiser{err: errors.New("boom")}
	require.NoError(t, p.Step(&recordingSender{}, sig))
	assert.Equal(t, 1, sig.raises)
}

func Test_Serve_Stops_On_Channel_Failure(t *testing.T) {
	t.Parallel()

	sleep := &scriptedSleep{allow: 10}

	p, err := player.New(player.Options{ID: 0, Sleep: sleep.Sleep})
	require.NoError(t, err)

	closed := &fakeConn{recordingSender: recordingSender{err: casino.ErrClosed}}
	err = p.Serve(context.Background(), dialOnce(closed))
	require.ErrorIs(t, err, casino.ErrClosed)
	assert.Equal(t, uint64(1), p.Stats().Failed)
}

func Test_Connect_Delivers_Bets_And_Wakes_Server(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir(), AttachTimeout: time.Second}

	server, err := casino.CreateChannel(opts)
	require.NoError(t, err)

	defer server.Close()

	wake, err := casino.CreateSignal(opts)
	require.NoError(t, err)

	defer wake.Close()

	link, err := player.Connect(context.Background(), opts, nil)
	require.NoError(t, err)

	defer link.Close()

	require.NotNil(t, link.Raiser())

	p, err := player.New(player.Options{ID: 5, BetMin: 40, BetMax: 40})
	require.NoError(t, err)
	require.NoError(t, p.Step(link.Channel, link.Raiser()))

	msg, err := server.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, casino.BetMessage{PlayerID: 5, Amount: 40}, msg)
	assert.True(t, wake.WaitTimed(time.Second))
}

func Test_Connect_Times_Out_Without_Server(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir(), AttachTimeout: 60 * time.Millisecond}

	_, err := player.Connect(context.Background(), opts, nil)
	require.ErrorIs(t, err, casino.ErrSegmentUnavailable)
}

func Test_Connect_Tolerates_Missing_Signal(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir(), Namespace: "nosig"}

	server, err := casino.CreateChannel(opts)
	require.NoError(t, err)

	defer server.Close()

	link, err := player.Connect(context.Background(), opts, nil)
	require.NoError(t, err)

	defer link.Close()

	assert.Nil(t, link.Signal)
	assert.Nil(t, link.Raiser())
}

// fakeConn reports itself replaced once replacedAfter bets were sent to it.
type fakeConn struct {
	recordingSender

	raiser        player.Raiser
	replacedAfter int
	closed        bool
}

func (c *fakeConn) Raiser() player.Raiser { return c.raiser }

func (c *fakeConn) Replaced() (bool, error) {
	return c.replacedAfter > 0 && len(c.sent) >= c.replacedAfter, nil
}

func (c *fakeConn) Close() error {
	c.closed = true

	return nil
}

func dialOnce(c *fakeConn) player.Dialer {
	return func(context.Context) (player.Conn, error) { return c, nil }
}

func Test_Serve_Reconnects_When_Server_Restarts(t *testing.T) {
	t.Parallel()

	conns := []*fakeConn{{replacedAfter: 5}, {}}
	dials := 0

	dial := func(context.Context) (player.Conn, error) {
		c := conns[dials]
		dials++

		return c, nil
	}

	sleep := &scriptedSleep{allow: 8}

	p, err := player.New(player.Options{ID: 1, Seed: 2, Sleep: sleep.Sleep})
	require.NoError(t, err)

	require.NoError(t, p.Serve(context.Background(), dial))

	assert.Equal(t, 2, dials)
	assert.Len(t, conns[0].sent, 5)
	assert.Len(t, conns[1].sent, 3)
	assert.True(t, conns[0].closed)
	assert.True(t, conns[1].closed)
	assert.Equal(t, player.Stats{Sent: 8, Reconnects: 1}, p.Stats())
}

func Test_Serve_Checks_For_Restart_When_Bet_Dropped(t *testing.T) {
	t.Parallel()

	first := &replacedOnDrop{fakeConn: &fakeConn{}}
	first.err = casino.ErrChannelFull
	second := &fakeConn{}

	dials := 0
	dial := func(context.Context) (player.Conn, error) {
		dials++
		if dials == 1 {
			return first, nil
		}

		return second, nil
	}

	sleep := &scriptedSleep{allow: 2}

	p, err := player.New(player.Options{ID: 0, Seed: 2, Sleep: sleep.Sleep})
	require.NoError(t, err)

	require.NoError(t, p.Serve(context.Background(), dial))

	assert.Equal(t, 2, dials)
	assert.Equal(t, uint64(1), p.Stats().Dropped)
	assert.Len(t, second.sent, 1)
}

// replacedOnDrop reports replaced as soon as a send was refused.
type replacedOnDrop struct {
	*fakeConn

	refused bool
}

func (c *replacedOnDrop) Send(msg casino.BetMessage) error {
	err := c.fakeConn.Send(msg)
	if err != nil {
		c.refused = true
	}

	return err
}

func (c *replacedOnDrop) Replaced() (bool, error) { return c.refused, nil }

func Test_Serve_Fails_When_Server_Does_Not_Come_Back(t *testing.T) {
	t.Parallel()

	dials := 0
	dial := func(context.Context) (player.Conn, error) {
		dials++
		if dials == 1 {
			return &fakeConn{replacedAfter: 1}, nil
		}

		return nil, casino.ErrSegmentUnavailable
	}

	sleep := &scriptedSleep{allow: 10}

	p, err := player.New(player.Options{ID: 0, Seed: 2, Sleep: sleep.Sleep})
	require.NoError(t, err)

	err = p.Serve(context.Background(), dial)
	require.ErrorIs(t, err, casino.ErrSegmentUnavailable)
}

func Test_Serve_Follows_Real_Server_Restart(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir(), Namespace: "restart", AttachTimeout: time.Second}

	old, err := casino.CreateChannel(opts)
	require.NoError(t, err)

	defer old.Close()

	var restarted *casino.Channel

	t.Cleanup(func() {
		if restarted != nil {
			_ = restarted.Close()
		}
	})

	sleeps := 0
	sleep := func(context.Context, time.Duration) bool {
		sleeps++
		if sleeps == 3 {
			// Between the second and third bet the server comes back on a new inode.
			ch, err := casino.CreateChannel(opts)
			if err != nil {
				t.Errorf("CreateChannel: %v", err)

				return false
			}

			restarted = ch
		}

		return sleeps <= 7
	}

	p, err := player.New(player.Options{ID: 3, Seed: 4, Sleep: sleep})
	require.NoError(t, err)

	require.NoError(t, p.Serve(context.Background(), player.Dial(opts, nil)))
	require.NotNil(t, restarted)

	assert.Equal(t, uint64(1), p.Stats().Reconnects)

	depth, err := restarted.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, depth, "bets after the reconnect reach the new server")
}
