package casino_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

func Test_DestroyAll_Removes_Every_Segment_And_Is_Idempotent(t *testing.T) {
	t.Parallel()

	opts := casino.Options{Dir: t.TempDir(), Namespace: "destroy_test"}

	state := newOwnerState(t, opts)

	ch, err := casino.CreateChannel(opts)
	require.NoError(t, err)
	defer ch.Close()

	sig, err := casino.CreateSignal(opts)
	require.NoError(t, err)
	defer sig.Close()

	for name, ok := range casino.Present(opts) {
		assert.True(t, ok, "%s missing before teardown", name)
	}

	require.NoError(t, casino.DestroyAll(opts))
	require.NoError(t, casino.DestroyAll(opts))

	for name, ok := range casino.Present(opts) {
		assert.False(t, ok, "%s still present after teardown", name)
	}

	// Mappings stay usable until closed.
	_, err = state.Snapshot()
	require.NoError(t, err)

	_, err = casino.OpenState(opts)
	require.ErrorIs(t, err, casino.ErrSegmentUnavailable)
}

func Test_DestroyAll_On_Fresh_Directory_Is_A_NoOp(t *testing.T) {
	t.Parallel()

	require.NoError(t, casino.DestroyAll(casino.Options{Dir: t.TempDir()}))
}

func Test_Options_Names_Use_Namespace(t *testing.T) {
	t.Parallel()

	names := casino.Options{}.Names()
	assert.Equal(t, casino.Names{
		State:   "casino_ipc_shared",
		Channel: "casino_ipc_mq",
		Signal:  "casino_ipc_sem",
		Owner:   "casino_ipc.owner",
	}, names)

	assert.Equal(t, "game_shared", casino.Options{Namespace: "/game"}.Names().State)
}
