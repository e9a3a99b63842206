package shm

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const ownerLockPerm = 0o666

// OwnerLock is a held owner lock. Call [OwnerLock.Close] to release it.
//
// The lock is a flock on a companion file. flock is tied to the open file
// description, so the kernel releases it when the holder exits for any
// reason, including SIGKILL.
type OwnerLock struct {
	mu   sync.Mutex
	path string
	fd   int
}

// AcquireOwner takes the exclusive, non-blocking owner lock for name in dir.
//
// Returns an error wrapping [ErrOwnerActive] if another live process holds
// it. The lock file is created on demand and is never removed by Close.
func AcquireOwner(dir, name string) (*OwnerLock, error) {
	path, err := namePath(dir, name)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, ownerLockPerm)
	if err != nil {
		return nil, fmt.Errorf("opening owner lock %s: %w", path, err)
	}

	err = flockRetryEINTR(fd, unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = unix.Close(fd)

		if isWouldBlock(err) {
			return nil, fmt.Errorf("%w: %s", ErrOwnerActive, path)
		}

		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &OwnerLock{path: path, fd: fd}, nil
}

// Path returns the lock file path.
func (l *OwnerLock) Path() string { return l.path }

// Close releases the lock and closes the descriptor.
//
// Close is idempotent. If both unlocking and closing fail, the returned
// error wraps both (see [errors.Join]).
func (l *OwnerLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fd < 0 {
		return nil
	}

	unlockErr := flockRetryEINTR(l.fd, unix.LOCK_UN)
	closeErr := unix.Close(l.fd)
	l.fd = -1

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking owner lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing owner lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}

// flockRetryEINTR wraps flock, retrying on EINTR.
//
// Retries are capped so a signal storm cannot spin forever.
func flockRetryEINTR(fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
