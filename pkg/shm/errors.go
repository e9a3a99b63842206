package shm

import "errors"

// Sentinel errors returned by shm operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrUnavailable indicates a segment could not be created, opened or
	// mapped. For [Open] this usually means the owner has not created the
	// segment yet.
	//
	// Recovery: owners fail startup; attachers may retry with backoff.
	ErrUnavailable = errors.New("shm: segment unavailable")

	// ErrOwnerActive indicates another live process holds the owner lock.
	ErrOwnerActive = errors.New("shm: owner already active")

	// ErrInvalidInput indicates invalid arguments (empty name, bad size,
	// misaligned or short memory block).
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("shm: invalid input")

	// ErrLockFailed indicates a mutex could not be acquired or made
	// consistent, for example because it was never initialized.
	ErrLockFailed = errors.New("shm: lock failed")

	// ErrNotOwner indicates Unlock was called by a process that no longer
	// holds the mutex (it was recovered away after the lease expired).
	ErrNotOwner = errors.New("shm: mutex not held by caller")

	// ErrAlreadyInitialized indicates Init was called on a mutex that was
	// already initialized during this segment's lifetime.
	ErrAlreadyInitialized = errors.New("shm: already initialized")

	// ErrClosed indicates the segment has already been closed.
	ErrClosed = errors.New("shm: closed")
)
