package casino

import (
	"fmt"
	"sync"
	"time"

	"github.com/calvinalkan/casino-ipc/pkg/shm"
)

// Signal is the named wake signal: a counting semaphore, initial value 0.
//
// Raising it only shortens the server's idle wait, so callers may ignore
// [Signal.Raise] failures.
type Signal struct {
	mu     sync.Mutex
	seg    *shm.Segment
	sem    *shm.Semaphore
	closed bool
}

// CreateSignal creates the signal with count 0. Owner only.
//
// Returns an error wrapping [ErrSignalUnavailable] on failure.
func CreateSignal(opts Options) (*Signal, error) {
	if err := checkPlatform(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignalUnavailable, err)
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	if err := ensureDir(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignalUnavailable, err)
	}

	seg, err := shm.Create(opts.ResolvedDir(), opts.Names().Signal, SignalSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignalUnavailable, err)
	}

	s, err := newSignal(seg)
	if err != nil {
		return nil, err
	}

	s.sem.Reset()
	publishHeader(seg.Bytes(), signalMagic)

	return s, nil
}

// OpenSignal attaches to the server's signal.
//
// Returns an error wrapping [ErrSignalUnavailable] on failure.
func OpenSignal(opts Options) (*Signal, error) {
	if err := checkPlatform(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignalUnavailable, err)
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	seg, err := shm.Open(opts.ResolvedDir(), opts.Names().Signal, SignalSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignalUnavailable, err)
	}

	if err := checkHeader(seg.Bytes(), signalMagic); err != nil {
		_ = seg.Close()

		return nil, fmt.Errorf("%w: %w", ErrSignalUnavailable, err)
	}

	return newSignal(seg)
}

func newSignal(seg *shm.Segment) (*Signal, error) {
	buf := seg.Bytes()

	sem, err := shm.NewSemaphore(buf[sigOffSemaphore : sigOffSemaphore+shm.SemaphoreSize])
	if err != nil {
		_ = seg.Close()

		return nil, fmt.Errorf("%w: %w", ErrSignalUnavailable, err)
	}

	return &Signal{seg: seg, sem: sem}, nil
}

// Raise increments the count and wakes the server.
func (s *Signal) Raise() error {
	if err := s.check(); err != nil {
		return err
	}

	s.sem.Post()

	return nil
}

// WaitTimed blocks up to timeout for a raise and consumes it. It returns
// false on timeout, which is the common case. A closed signal returns false
// immediately.
func (s *Signal) WaitTimed(timeout time.Duration) bool {
	if s.check() != nil {
		return false
	}

	return s.sem.Wait(timeout)
}

// Value returns the current count.
func (s *Signal) Value() int {
	if s.check() != nil {
		return 0
	}

	return int(s.sem.Value())
}

// Raises returns how many times the signal was raised.
func (s *Signal) Raises() uint32 {
	if s.check() != nil {
		return 0
	}

	return s.sem.Raises()
}

// Close unmaps the signal. It never removes it. Close is idempotent.
func (s *Signal) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.seg.Close()
}

func (s *Signal) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %w", ErrSignalUnavailable, ErrClosed)
	}

	return nil
}
