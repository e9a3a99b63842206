package casino

import "errors"

// Sentinel errors returned by casino operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, casino.ErrChannelFull) {
//	    // drop the bet and carry on
//	}
var (
	// ErrSegmentUnavailable indicates a segment does not exist, is not yet
	// initialized by its owner, or could not be created or mapped.
	//
	// Recovery: owners fail startup; readers retry with backoff.
	ErrSegmentUnavailable = errors.New("casino: segment unavailable")

	// ErrIncompatible indicates a segment with a different magic, version or
	// record size exists under the name.
	//
	// Recovery: stop the old server, run the teardown and restart.
	ErrIncompatible = errors.New("casino: incompatible segment")

	// ErrLockAcquisitionFailed indicates the shared mutex could not be
	// acquired or made consistent.
	//
	// Readers skip the snapshot and retry. The server stops.
	ErrLockAcquisitionFailed = errors.New("casino: lock acquisition failed")

	// ErrChannelFull indicates the bet channel is at capacity. The message
	// was not queued.
	ErrChannelFull = errors.New("casino: channel full")

	// ErrChannelEmpty indicates there is no message to receive. This is the
	// steady state of a drained channel.
	ErrChannelEmpty = errors.New("casino: channel empty")

	// ErrInvalidMessage indicates a bet for a player id outside the active
	// range. The scheduler discards such messages and only counts them.
	ErrInvalidMessage = errors.New("casino: invalid message")

	// ErrSignalUnavailable indicates the wake signal could not be created or
	// opened. The server falls back to polling.
	ErrSignalUnavailable = errors.New("casino: signal unavailable")

	// ErrNotOwner indicates a write operation on a handle opened without
	// ownership.
	//
	// This is a programming error.
	ErrNotOwner = errors.New("casino: handle is not the owner")

	// ErrInvalidInput indicates invalid arguments (player id or count out of
	// range, bad namespace).
	ErrInvalidInput = errors.New("casino: invalid input")

	// ErrClosed indicates the handle has already been closed.
	ErrClosed = errors.New("casino: closed")
)
