// Package shm provides named shared memory segments and the cross-process
// synchronization words that live inside them.
//
// A segment is a regular file on a tmpfs directory (by default /dev/shm),
// sized once by its owner and mapped MAP_SHARED by every attached process.
// The package knows nothing about what is stored in a segment; callers lay
// out their own records and place a [Mutex] or [Semaphore] block at a fixed
// offset.
//
// # Ownership
//
// Exactly one process creates a segment ([Create]); everyone else attaches
// to it ([Open]). [AcquireOwner] takes an advisory flock that the kernel
// drops when the holder exits, so a crashed owner never blocks a restart.
//
// # Crash safety
//
// [Mutex] stores the holder's pid in the shared word. A waiter that finds
// the holder gone (or its lease stamp stale) takes the lock over and counts
// a recovery instead of blocking forever.
//
// Mapping, futex and flock calls are Linux-first. On other Unix systems the
// futex wait degrades to short sleeps.
package shm
