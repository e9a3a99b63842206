package casino

import (
	"fmt"
	"strings"
	"time"

	"github.com/calvinalkan/casino-ipc/pkg/shm"
)

// DefaultNamespace prefixes the segment names of a session.
const DefaultNamespace = "casino_ipc"

// Defaults for [Options].
const (
	DefaultAttachTimeout = 5 * time.Second
	DefaultLockRetries   = 3
)

// Options locates a session and tunes its handles.
//
// The zero value is usable: segments live in [shm.DefaultDir] under
// [DefaultNamespace].
type Options struct {
	// Dir is the directory holding the segment files. Empty means
	// [shm.DefaultDir].
	Dir string

	// Namespace prefixes every segment name. Empty means [DefaultNamespace].
	Namespace string

	// LockLease bounds how long a holder may sit on a shared mutex before
	// waiters take it over. Zero means [shm.DefaultLease].
	LockLease time.Duration

	// OnRecover is called (with the lock held) when a handle takes over a
	// mutex from a dead or stuck holder. It must not block.
	OnRecover func(shm.Recovery)

	// AttachTimeout bounds how long [Attach] keeps retrying while the server
	// has not created the state segment yet. Zero means [DefaultAttachTimeout].
	AttachTimeout time.Duration

	// LockRetries is how many extra attempts [Reader.Snapshot] makes when the
	// lock cannot be acquired. Zero means [DefaultLockRetries]; negative
	// disables retries.
	LockRetries int
}

// Names are the resolved segment names of one session.
type Names struct {
	State   string
	Channel string
	Signal  string
	Owner   string
}

// Names resolves the segment names for opts.Namespace.
func (o Options) Names() Names {
	ns := o.namespace()

	return Names{
		State:   ns + "_shared",
		Channel: ns + "_mq",
		Signal:  ns + "_sem",
		Owner:   ns + ".owner",
	}
}

// ResolvedDir returns the segment directory, applying the default.
func (o Options) ResolvedDir() string {
	if o.Dir == "" {
		return shm.DefaultDir()
	}

	return o.Dir
}

func (o Options) namespace() string {
	ns := strings.TrimPrefix(o.Namespace, "/")
	if ns == "" {
		return DefaultNamespace
	}

	return ns
}

func (o Options) validate() error {
	if strings.Contains(o.namespace(), "/") {
		return fmt.Errorf("namespace %q must not contain '/': %w", o.Namespace, ErrInvalidInput)
	}

	return nil
}

func (o Options) mutexOptions() shm.MutexOptions {
	return shm.MutexOptions{
		Lease:     o.LockLease,
		OnRecover: o.OnRecover,
	}
}

func (o Options) attachTimeout() time.Duration {
	if o.AttachTimeout <= 0 {
		return DefaultAttachTimeout
	}

	return o.AttachTimeout
}

func (o Options) lockRetries() int {
	switch {
	case o.LockRetries < 0:
		return 0
	case o.LockRetries == 0:
		return DefaultLockRetries
	default:
		return o.LockRetries
	}
}
