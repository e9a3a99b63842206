package casino

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/calvinalkan/casino-ipc/pkg/shm"
)

// State is a handle to the state segment.
//
// A handle from [CreateState] is the owner: it initializes the segment and is
// the only one allowed to [State.Update]. Handles from [OpenState] are
// read-only.
type State struct {
	mu     sync.Mutex
	seg    *shm.Segment
	lock   *shm.Mutex
	owner  bool
	closed bool
}

// CreateState creates and maps a fresh state segment. The caller must hold
// the owner lock (see [shm.AcquireOwner]) and must call [State.Initialize]
// before any other process attaches.
//
// Returns an error wrapping [ErrSegmentUnavailable] if creation fails.
func CreateState(opts Options) (*State, error) {
	if err := checkPlatform(); err != nil {
		return nil, err
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	if err := ensureDir(opts); err != nil {
		return nil, err
	}

	seg, err := shm.Create(opts.ResolvedDir(), opts.Names().State, StateSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}

	return newState(seg, opts, true)
}

// OpenState attaches to a state segment created and initialized by another
// process.
//
// Returns an error wrapping [ErrSegmentUnavailable] if the segment does not
// exist or is not initialized yet, or [ErrIncompatible] if its format differs.
func OpenState(opts Options) (*State, error) {
	if err := checkPlatform(); err != nil {
		return nil, err
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	seg, err := shm.Open(opts.ResolvedDir(), opts.Names().State, StateSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}

	if err := checkStateHeader(seg.Bytes()); err != nil {
		_ = seg.Close()

		return nil, err
	}

	return newState(seg, opts, false)
}

func newState(seg *shm.Segment, opts Options, owner bool) (*State, error) {
	buf := seg.Bytes()

	lock, err := shm.NewMutex(buf[stateOffMutex:stateOffMutex+shm.MutexSize], opts.mutexOptions())
	if err != nil {
		_ = seg.Close()

		return nil, fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}

	return &State{seg: seg, lock: lock, owner: owner}, nil
}

// Initialize runs the one-time owner initialization: sets up the mutex,
// writes an empty record tagged with session and publishes the header.
//
// Owner only, once per segment lifetime.
func (s *State) Initialize(session uuid.UUID) error {
	buf, err := s.ownerBytes()
	if err != nil {
		return err
	}

	if err := s.lock.Init(); err != nil {
		return fmt.Errorf("%w: %w", ErrLockAcquisitionFailed, err)
	}

	rec := emptyRecord()
	rec.Session = session
	rec.OwnerPID = int32(os.Getpid())

	writeStateIdentity(buf, &rec)
	encodeRecord(buf, &rec)
	publishHeader(buf, stateMagic)

	return nil
}

// Update locks the record, decodes it, calls fn on the copy and writes the
// result back. Out-of-range fields are clamped before the write, so fn cannot
// publish an invalid record.
//
// fn runs with the cross-process mutex held. It must be short and must not
// block or do I/O.
//
// Owner only. Returns an error wrapping [ErrLockAcquisitionFailed] if the
// mutex cannot be acquired or was taken over from this handle.
func (s *State) Update(fn func(r *Record)) error {
	buf, err := s.ownerBytes()
	if err != nil {
		return err
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("%w: %w", ErrLockAcquisitionFailed, err)
	}

	rec := decodeRecord(buf)
	rec.Diag.LockLastHeld = s.lock.LastHeld()

	fn(&rec)

	// Restamp the lease before the write-back; a no-op if the lock was
	// already taken over, in which case Unlock reports it.
	s.lock.Touch()

	rec.sanitize()
	encodeRecord(buf, &rec)

	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("%w: %w", ErrLockAcquisitionFailed, err)
	}

	return nil
}

// Snapshot copies the whole record under the mutex.
//
// Returns an error wrapping [ErrLockAcquisitionFailed] if the mutex cannot be
// acquired. See [Reader.Snapshot] for the retrying variant.
func (s *State) Snapshot() (Record, error) {
	buf, err := s.bytes()
	if err != nil {
		return Record{}, err
	}

	if err := s.lock.Lock(); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrLockAcquisitionFailed, err)
	}

	rec := decodeRecord(buf)
	rec.Diag.LockRecoveries = s.lock.Recoveries()

	if err := s.lock.Unlock(); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrLockAcquisitionFailed, err)
	}

	return rec, nil
}

// Replaced reports whether the segment name now refers to a different
// segment (server restarted) or was removed.
func (s *State) Replaced() (bool, error) {
	if _, err := s.bytes(); err != nil {
		return false, err
	}

	return s.seg.Replaced()
}

// Recoveries returns how many times the state mutex was taken over.
func (s *State) Recoveries() uint32 {
	return s.lock.Recoveries()
}

// Owner reports whether this handle created the segment.
func (s *State) Owner() bool { return s.owner }

// Path returns the file backing the segment.
func (s *State) Path() string { return s.seg.Path() }

// Close unmaps the segment. It never removes it; see [DestroyAll].
//
// Close is idempotent.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.seg.Close()
}

func (s *State) bytes() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	return s.seg.Bytes(), nil
}

func (s *State) ownerBytes() ([]byte, error) {
	if !s.owner {
		return nil, ErrNotOwner
	}

	return s.bytes()
}

// isRetryable reports whether an attach error may go away once the owner
// finishes starting up.
func isRetryable(err error) bool {
	return errors.Is(err, ErrSegmentUnavailable) && !errors.Is(err, ErrIncompatible)
}
