package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// segmentPerm is applied with fchmod after creation so every cooperating
	// local user can attach regardless of umask.
	segmentPerm = 0o666

	linuxShmDir = "/dev/shm"
)

// DefaultDir returns the directory that backs named segments.
//
// On Linux this is /dev/shm (tmpfs, RAM backed). Elsewhere, or if /dev/shm
// is missing, the system temp directory is used.
func DefaultDir() string {
	if runtime.GOOS == "linux" {
		if info, err := os.Stat(linuxShmDir); err == nil && info.IsDir() {
			return linuxShmDir
		}
	}

	return os.TempDir()
}

// fileIdentity uniquely identifies a file by device and inode.
type fileIdentity struct {
	dev uint64
	ino uint64
}

// Segment is a mapped, named shared memory region.
//
// Close unmaps the region and releases the descriptor; it never removes the
// name. Use [Remove] for that.
type Segment struct {
	mu   sync.Mutex
	name string
	path string
	fd   int
	data []byte
	id   fileIdentity
}

// Create creates the named segment in dir, sizes it to exactly size bytes and
// maps it read/write.
//
// Any file already at the path is treated as stale and replaced by a new
// inode. Callers must hold the owner lock (see [AcquireOwner]) so that no
// live owner is using the old file. Processes still attached to the stale
// file keep their mapping; [Segment.Replaced] reports the change to them.
//
// The fresh region is zero-filled by the kernel.
func Create(dir, name string, size int) (*Segment, error) {
	path, err := segmentPath(dir, name, size)
	if err != nil {
		return nil, err
	}

	unlinkErr := unix.Unlink(path)
	if unlinkErr != nil && !errors.Is(unlinkErr, unix.ENOENT) {
		return nil, fmt.Errorf("remove stale %s: %w: %w", path, ErrUnavailable, unlinkErr)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, segmentPerm)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w: %w", path, ErrUnavailable, err)
	}

	if err := unix.Fchmod(fd, segmentPerm); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("chmod %s: %w: %w", path, ErrUnavailable, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)

		return nil, fmt.Errorf("truncate %s to %d: %w: %w", path, size, ErrUnavailable, err)
	}

	return mapSegment(fd, name, path, size)
}

// Open attaches to an existing named segment created by another process.
//
// Returns an error wrapping [ErrUnavailable] if the name does not exist or
// the file is smaller than size (the owner may not have sized it yet).
func Open(dir, name string, size int) (*Segment, error) {
	path, err := segmentPath(dir, name, size)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, ErrUnavailable, err)
	}

	var stat unix.Stat_t

	if err := unix.Fstat(fd, &stat); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("stat %s: %w: %w", path, ErrUnavailable, err)
	}

	if stat.Size < int64(size) {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("open %s: size %d is less than %d: %w", path, stat.Size, size, ErrUnavailable)
	}

	return mapSegment(fd, name, path, size)
}

func mapSegment(fd int, name, path string, size int) (*Segment, error) {
	var stat unix.Stat_t

	if err := unix.Fstat(fd, &stat); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("stat %s: %w: %w", path, ErrUnavailable, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("mmap %s: %w: %w", path, ErrUnavailable, err)
	}

	return &Segment{
		name: name,
		path: path,
		fd:   fd,
		data: data,
		id:   fileIdentity{dev: uint64(stat.Dev), ino: stat.Ino}, //nolint:unconvert // Dev is uint32 on some platforms
	}, nil
}

// Name returns the segment name.
func (s *Segment) Name() string { return s.name }

// Path returns the filesystem path backing the segment.
func (s *Segment) Path() string { return s.path }

// Bytes returns the mapped region, or nil after Close.
//
// The slice aliases shared memory. Writes are visible to every attached
// process immediately.
func (s *Segment) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data
}

// Size returns the mapped size in bytes.
func (s *Segment) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.data)
}

// Replaced reports whether the path no longer names the mapped file, either
// because it was removed or because an owner created a new segment there.
func (s *Segment) Replaced() (bool, error) {
	var stat unix.Stat_t

	err := unix.Stat(s.path, &stat)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return true, nil
		}

		return false, fmt.Errorf("stat %s: %w", s.path, err)
	}

	current := fileIdentity{dev: uint64(stat.Dev), ino: stat.Ino} //nolint:unconvert // Dev is uint32 on some platforms

	return current != s.id, nil
}

// Close unmaps the region and closes the descriptor.
//
// Close is idempotent. It never removes the name.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil
	}

	unmapErr := unix.Munmap(s.data)
	closeErr := unix.Close(s.fd)
	s.data = nil
	s.fd = -1

	if unmapErr != nil {
		unmapErr = fmt.Errorf("munmap %s: %w", s.path, unmapErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("close %s: %w", s.path, closeErr)
	}

	return errors.Join(unmapErr, closeErr)
}

// Remove removes the named segment from dir.
//
// Remove is idempotent: a name that is already absent is not an error.
// Mapped views in other processes stay valid until they close.
func Remove(dir, name string) error {
	path, err := namePath(dir, name)
	if err != nil {
		return err
	}

	err = unix.Unlink(path)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}

// Exists reports whether the named segment exists in dir.
func Exists(dir, name string) bool {
	path, err := namePath(dir, name)
	if err != nil {
		return false
	}

	_, err = os.Stat(path)

	return err == nil
}

func segmentPath(dir, name string, size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("size must be > 0, got %d: %w", size, ErrInvalidInput)
	}

	return namePath(dir, name)
}

// namePath accepts POSIX style names ("/casino_ipc_shared") as well as bare
// names and resolves them inside dir.
func namePath(dir, name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid segment name %q: %w", name, ErrInvalidInput)
	}

	if dir == "" {
		dir = DefaultDir()
	}

	return filepath.Join(dir, name), nil
}
