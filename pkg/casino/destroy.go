package casino

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/casino-ipc/pkg/shm"
)

// DestroyAll removes the state segment, the bet channel and the wake signal
// of the session from the namespace.
//
// Names that are already absent are not an error, so DestroyAll is
// idempotent. Attached processes keep their mappings until they close them.
// The owner lock file is left in place; it holds no state.
func DestroyAll(opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}

	dir := opts.ResolvedDir()
	names := opts.Names()

	var errs []error

	for _, name := range []string{names.State, names.Channel, names.Signal} {
		if err := shm.Remove(dir, name); err != nil {
			errs = append(errs, fmt.Errorf("destroy %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Present reports which of the session's segments currently exist, keyed by
// segment name.
func Present(opts Options) map[string]bool {
	dir := opts.ResolvedDir()
	names := opts.Names()

	out := make(map[string]bool, 3)
	for _, name := range []string{names.State, names.Channel, names.Signal} {
		out[name] = shm.Exists(dir, name)
	}

	return out
}

// SegmentPath returns the file path of a segment name inside the session
// directory.
func SegmentPath(opts Options, name string) string {
	return filepath.Join(opts.ResolvedDir(), name)
}

// ensureDir creates a configured segment directory on demand.
func ensureDir(opts Options) error {
	if opts.Dir == "" {
		return nil
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrSegmentUnavailable, opts.Dir, err)
	}

	return nil
}
