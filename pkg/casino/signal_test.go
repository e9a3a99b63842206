package casino_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

func Test_Signal_Starts_At_Zero_And_Wait_Times_Out(t *testing.T) {
	t.Parallel()

	sig, err := casino.CreateSignal(casino.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer sig.Close()

	assert.Equal(t, 0, sig.Value())
	assert.False(t, sig.WaitTimed(10*time.Millisecond))
}

func Test_Signal_Raise_From_Other_Handle_Wakes_Waiter(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir()}

	server, err := casino.CreateSignal(opts)
	require.NoError(t, err)
	defer server.Close()

	player, err := casino.OpenSignal(opts)
	require.NoError(t, err)
	defer player.Close()

	woke := make(chan bool, 1)

	go func() { woke <- server.WaitTimed(2 * time.Second) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, player.Raise())

	select {
	case ok := <-woke:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("WaitTimed did not return after Raise")
	}

	assert.Equal(t, uint32(1), server.Raises())
}

func Test_OpenSignal_Returns_ErrSignalUnavailable_When_Missing(t *testing.T) {
	t.Parallel()

	_, err := casino.OpenSignal(casino.Options{Dir: t.TempDir()})
	require.ErrorIs(t, err, casino.ErrSignalUnavailable)
}

func Test_Signal_Raise_After_Close_Is_Not_Fatal(t *testing.T) {
	t.Parallel()

	sig, err := casino.CreateSignal(casino.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, sig.Close())

	require.ErrorIs(t, sig.Raise(), casino.ErrSignalUnavailable)
	assert.False(t, sig.WaitTimed(time.Second))
}
