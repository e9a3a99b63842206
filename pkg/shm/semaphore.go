package shm

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"
)

// SemaphoreSize is the size in bytes of a semaphore block: a u32 count
// followed by a u32 raise counter (diagnostic).
const SemaphoreSize = 8

// Semaphore is a counting semaphore stored in a shared segment.
//
// Post never blocks. Wait blocks with a timeout and consumes one count.
// A zero block is a valid semaphore with count 0.
type Semaphore struct {
	count  *uint32
	raises *uint32
}

// NewSemaphore returns a handle for the semaphore block at the start of mem.
//
// mem must hold at least [SemaphoreSize] bytes and be 4-byte aligned.
func NewSemaphore(mem []byte) (*Semaphore, error) {
	if len(mem) < SemaphoreSize {
		return nil, fmt.Errorf("semaphore block needs %d bytes, got %d: %w", SemaphoreSize, len(mem), ErrInvalidInput)
	}

	base := unsafe.Pointer(&mem[0])
	if uintptr(base)%4 != 0 {
		return nil, fmt.Errorf("semaphore block is not 4-byte aligned: %w", ErrInvalidInput)
	}

	return &Semaphore{
		count:  (*uint32)(base),
		raises: (*uint32)(unsafe.Add(base, 4)),
	}, nil
}

// Post increments the count and wakes one waiter.
func (s *Semaphore) Post() {
	atomic.AddUint32(s.count, 1)
	atomic.AddUint32(s.raises, 1)
	futexWake(s.count, 1)
}

// Wait consumes one count, blocking up to timeout for one to appear.
// Reports whether a count was consumed; false means the wait timed out.
func (s *Semaphore) Wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		v := atomic.LoadUint32(s.count)
		if v > 0 {
			if atomic.CompareAndSwapUint32(s.count, v, v-1) {
				return true
			}

			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		futexWait(s.count, 0, remaining)
	}
}

// Value returns the current count.
func (s *Semaphore) Value() uint32 {
	return atomic.LoadUint32(s.count)
}

// Raises returns how many times Post was called over the block's lifetime.
func (s *Semaphore) Raises() uint32 {
	return atomic.LoadUint32(s.raises)
}

// Reset sets the count to 0. Owner only, at initialization.
func (s *Semaphore) Reset() {
	atomic.StoreUint32(s.count, 0)
	atomic.StoreUint32(s.raises, 0)
}
