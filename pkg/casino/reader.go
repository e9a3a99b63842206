package casino

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff bounds used while attaching and snapshotting.
const (
	attachBackoffMin = 25 * time.Millisecond
	attachBackoffMax = 400 * time.Millisecond

	snapshotBackoff = 10 * time.Millisecond
)

// Reader is a read-only view of the state segment. It never writes through
// the mapping.
type Reader struct {
	state   *State
	retries int
}

// Attach opens the state segment, retrying with bounded backoff until
// [Options.AttachTimeout] elapses so that readers may start before the server.
//
// Returns an error wrapping [ErrSegmentUnavailable] if the server did not come
// up in time, [ErrIncompatible] immediately on a format mismatch, or the
// context error if ctx is cancelled.
func Attach(ctx context.Context, opts Options) (*Reader, error) {
	deadline := time.Now().Add(opts.attachTimeout())
	backoff := attachBackoffMin

	for {
		state, err := OpenState(opts)
		if err == nil {
			return &Reader{state: state, retries: opts.lockRetries()}, nil
		}

		if !isRetryable(err) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("attach after %s: %w", opts.attachTimeout(), err)
		}

		wait := min(backoff, remaining)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("attach: %w", ctx.Err())
		case <-time.After(wait):
		}

		backoff = min(backoff*2, attachBackoffMax)
	}
}

// Snapshot copies the record. A failed lock call is retried a few times with
// a short backoff before the error is returned.
func (r *Reader) Snapshot() (Record, error) {
	var lastErr error

	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * snapshotBackoff)
		}

		rec, err := r.state.Snapshot()
		if err == nil {
			return rec, nil
		}

		if !errors.Is(err, ErrLockAcquisitionFailed) {
			return Record{}, err
		}

		lastErr = err
	}

	return Record{}, lastErr
}

// Replaced reports whether the server was restarted (or the session torn
// down) since this reader attached. A replaced reader keeps seeing the old,
// frozen segment and should re-attach.
func (r *Reader) Replaced() (bool, error) {
	return r.state.Replaced()
}

// Path returns the file backing the attached segment.
func (r *Reader) Path() string { return r.state.Path() }

// Close detaches. It never removes the segment. Close is idempotent.
func (r *Reader) Close() error {
	return r.state.Close()
}
