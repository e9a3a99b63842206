// Package observer polls snapshots of the shared record and renders them for
// people and for external presentation layers.
package observer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

// DefaultInterval is the default polling cadence.
const DefaultInterval = 100 * time.Millisecond

// Source is an attached read-only view of the record.
type Source interface {
	Snapshot() (casino.Record, error)
	Replaced() (bool, error)
	Close() error
}

// AttachFunc opens a [Source].
type AttachFunc func(ctx context.Context) (Source, error)

// Attacher returns an [AttachFunc] backed by [casino.Attach].
func Attacher(opts casino.Options) AttachFunc {
	return func(ctx context.Context) (Source, error) {
		r, err := casino.Attach(ctx, opts)
		if err != nil {
			return nil, err
		}

		return r, nil
	}
}

// Options configures a [Watcher].
type Options struct {
	Interval time.Duration

	// Count stops the watcher after that many snapshots. Zero means no limit.
	Count int

	// JSON writes one JSON object per line instead of the text table.
	JSON bool

	// Quiet suppresses the per-snapshot output. Dumps are still written.
	Quiet bool

	// DumpPath, if set, is atomically replaced with the latest snapshot after
	// every poll.
	DumpPath string

	// Sleep defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) bool

	Log *zap.Logger
}

// Watcher polls snapshots at a fixed cadence and follows server restarts.
type Watcher struct {
	opts   Options
	attach AttachFunc
	out    io.Writer

	src      Source
	session  uuid.UUID
	polls    int
	restarts int
	skipped  int
}

// New returns a watcher that writes to out.
func New(attach AttachFunc, out io.Writer, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}

	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	return &Watcher{opts: opts, attach: attach, out: out}
}

// Polls returns how many snapshots were rendered.
func (w *Watcher) Polls() int { return w.polls }

// Restarts returns how many server restarts were observed.
func (w *Watcher) Restarts() int { return w.restarts }

// Skipped returns how many polls were skipped because the record's lock could
// not be acquired.
func (w *Watcher) Skipped() int { return w.skipped }

// Run attaches and polls until ctx is cancelled or Count snapshots were
// taken. A cancelled context returns nil.
//
// When the server restarts, the old segment freezes; Run notices that the
// path names a new segment (or none) and re-attaches. A poll whose snapshot
// fails with [casino.ErrLockAcquisitionFailed] is skipped and does not count
// toward Count.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.detach()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if !errors.Is(err, casino.ErrLockAcquisitionFailed) {
				return err
			}

			w.noteSkipped(err)
		}

		if w.opts.Count > 0 && w.polls >= w.opts.Count {
			return nil
		}

		if !w.opts.Sleep(ctx, w.opts.Interval) {
			return nil
		}
	}
}

// Poll takes and renders one snapshot, attaching first if needed.
func (w *Watcher) Poll(ctx context.Context) error {
	if err := w.ensureAttached(ctx); err != nil {
		return err
	}

	rec, err := w.src.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	w.noteSession(rec.Session)

	if err := w.render(rec); err != nil {
		return err
	}

	w.polls++

	return nil
}

func (w *Watcher) ensureAttached(ctx context.Context) error {
	if w.src != nil {
		replaced, err := w.src.Replaced()
		if err != nil {
			w.opts.Log.Debug("replaced check failed", zap.Error(err))
		}

		if !replaced {
			return nil
		}

		w.opts.Log.Info("state segment replaced, re-attaching")
		w.detach()
	}

	src, err := w.attach(ctx)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}

	w.src = src

	return nil
}

func (w *Watcher) noteSession(id uuid.UUID) {
	if id == w.session {
		return
	}

	if w.session != uuid.Nil {
		w.restarts++
		w.opts.Log.Info("server restarted",
			zap.Stringer("previous", w.session),
			zap.Stringer("session", id),
		)
	}

	w.session = id
}

func (w *Watcher) noteSkipped(err error) {
	w.skipped++

	if w.skipped == 1 {
		w.opts.Log.Warn("snapshot skipped, state lock unavailable", zap.Error(err))

		return
	}

	w.opts.Log.Debug("snapshot skipped", zap.Int("skipped", w.skipped), zap.Error(err))
}

func (w *Watcher) render(rec casino.Record) error {
	if !w.opts.Quiet {
		var err error
		if w.opts.JSON {
			err = WriteJSON(w.out, rec)
		} else {
			err = WriteText(w.out, rec)
		}

		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}

	if w.opts.DumpPath != "" {
		if err := Dump(w.opts.DumpPath, rec); err != nil {
			return err
		}
	}

	return nil
}

func (w *Watcher) detach() {
	if w.src == nil {
		return
	}

	if err := w.src.Close(); err != nil {
		w.opts.Log.Debug("detach failed", zap.Error(err))
	}

	w.src = nil
}

// Dump atomically replaces path with the JSON form of rec, so a consumer
// never reads a half-written file.
func Dump(path string, rec casino.Record) error {
	data, err := MarshalView(rec)
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("dump %s: %w", path, err)
	}

	return nil
}

// IsUnavailable reports whether err means there is no server to watch.
func IsUnavailable(err error) bool {
	return errors.Is(err, casino.ErrSegmentUnavailable)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
