package server

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
	"github.com/calvinalkan/casino-ipc/pkg/shm"
)

// Session is the set of shared resources owned by a running server.
type Session struct {
	ID      uuid.UUID
	State   *casino.State
	Channel *casino.Channel

	// Signal is nil when the wake signal is unavailable.
	Signal *casino.Signal

	opts  casino.Options
	owner *shm.OwnerLock
	log   *zap.Logger
}

// OpenSession takes the owner lock and creates the state segment, the bet
// channel and the wake signal. Stale segments left by a crashed server are
// replaced.
//
// A missing wake signal is not fatal: it is logged once and [Session.Signal]
// stays nil. Everything else fails startup.
func OpenSession(opts casino.Options, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dir := opts.ResolvedDir()
	names := opts.Names()

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", casino.ErrSegmentUnavailable, err)
		}
	}

	owner, err := shm.AcquireOwner(dir, names.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner lock: %w", err)
	}

	s := &Session{ID: uuid.New(), opts: opts, owner: owner, log: log}

	s.State, err = casino.CreateState(opts)
	if err != nil {
		return nil, s.abort(err)
	}

	if err := s.State.Initialize(s.ID); err != nil {
		return nil, s.abort(err)
	}

	s.Channel, err = casino.CreateChannel(opts)
	if err != nil {
		return nil, s.abort(err)
	}

	s.Signal, err = casino.CreateSignal(opts)
	if err != nil {
		log.Warn("wake signal unavailable, falling back to polling", zap.Error(err))

		s.Signal = nil
	}

	log.Info("session created",
		zap.Stringer("session", s.ID),
		zap.String("dir", dir),
		zap.String("namespace", opts.Namespace),
		zap.Bool("signal", s.Signal != nil),
	)

	return s, nil
}

func (s *Session) abort(cause error) error {
	return errors.Join(cause, s.Close(true))
}

// Waker returns the wake signal as a [Waker], or nil when the signal is
// unavailable.
func (s *Session) Waker() Waker {
	if s.Signal == nil {
		return nil
	}

	return s.Signal
}

// Close unmaps every resource and, if destroy is set, removes the names
// before releasing the owner lock, so a new server never loses its fresh
// segments to an old one's teardown.
func (s *Session) Close(destroy bool) error {
	var errs []error

	if s.Signal != nil {
		errs = append(errs, s.Signal.Close())
	}

	if s.Channel != nil {
		errs = append(errs, s.Channel.Close())
	}

	if s.State != nil {
		errs = append(errs, s.State.Close())
	}

	if destroy {
		errs = append(errs, casino.DestroyAll(s.opts))
	}

	if s.owner != nil {
		errs = append(errs, s.owner.Close())
	}

	return errors.Join(errs...)
}
