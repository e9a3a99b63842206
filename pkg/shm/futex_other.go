//go:build !linux

package shm

import (
	"sync/atomic"
	"time"
)

// Without futexes waiters poll the word in short sleeps.
const pollSlice = time.Millisecond

func futexWait(addr *uint32, val uint32, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for atomic.LoadUint32(addr) == val {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		time.Sleep(min(pollSlice, remaining))
	}
}

func futexWake(_ *uint32, _ int) {}
