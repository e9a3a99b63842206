//go:build linux

package shm

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex operations. The shared (non-private) variants are required because
// the words live in MAP_SHARED memory used by several processes.
const (
	futexOpWait = 0
	futexOpWake = 1
)

// futexWait sleeps while *addr == val, for at most timeout.
//
// It returns on wake, timeout, signal or when *addr != val. Callers always
// re-check the word; the result carries no information.
func futexWait(addr *uint32, val uint32, timeout time.Duration) {
	if timeout <= 0 {
		return
	}

	ts := unix.NsecToTimespec(timeout.Nanoseconds())

	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *uint32, n int) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(n),
		0,
		0,
		0,
	)
}
