package casino

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateMutexFlags is the initialized-flags word of the state mutex block.
const stateMutexFlags = stateOffMutex + 4

func attachedReader(t *testing.T, opts Options) (*State, *Reader, *uint32) {
	t.Helper()

	state, err := CreateState(opts)
	require.NoError(t, err)

	t.Cleanup(func() { _ = state.Close() })

	require.NoError(t, state.Initialize(uuid.New()))

	r, err := Attach(context.Background(), opts)
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	flags := (*uint32)(unsafe.Pointer(&r.state.seg.Bytes()[stateMutexFlags]))

	return state, r, flags
}

func Test_Reader_Snapshot_Succeeds_When_Lock_Recovers_Within_Backoff(t *testing.T) {
	t.Parallel()

	_, r, flags := attachedReader(t, Options{Dir: t.TempDir()})

	saved := atomic.LoadUint32(flags)
	atomic.StoreUint32(flags, 0)

	restored := make(chan struct{})

	time.AfterFunc(15*time.Millisecond, func() {
		atomic.StoreUint32(flags, saved)
		close(restored)
	})

	rec, err := r.Snapshot()
	<-restored

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rec.Session)
}

func Test_Reader_Snapshot_Returns_ErrLockAcquisitionFailed_When_Retries_Exhausted(t *testing.T) {
	t.Parallel()

	_, r, flags := attachedReader(t, Options{Dir: t.TempDir(), LockRetries: 2})

	saved := atomic.LoadUint32(flags)
	atomic.StoreUint32(flags, 0)

	t.Cleanup(func() { atomic.StoreUint32(flags, saved) })

	start := time.Now()
	_, err := r.Snapshot()
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrLockAcquisitionFailed)
	// Two retries sleep 1x and 2x the backoff step.
	assert.GreaterOrEqual(t, elapsed, 3*snapshotBackoff)
}

func Test_Reader_Snapshot_Does_Not_Retry_When_LockRetries_Negative(t *testing.T) {
	t.Parallel()

	_, r, flags := attachedReader(t, Options{Dir: t.TempDir(), LockRetries: -1})

	saved := atomic.LoadUint32(flags)
	atomic.StoreUint32(flags, 0)

	t.Cleanup(func() { atomic.StoreUint32(flags, saved) })

	start := time.Now()
	_, err := r.Snapshot()

	require.ErrorIs(t, err, ErrLockAcquisitionFailed)
	assert.Less(t, time.Since(start), snapshotBackoff)
}
