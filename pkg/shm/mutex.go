package shm

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MutexSize is the size in bytes of a mutex block inside a segment.
//
// Block layout (offsets relative to the block, native byte order, accessed
// only atomically):
//
//	+0  state        u32  holder pid | waiters bit 31, 0 when unlocked
//	+4  flags        u32  bit0 = initialized
//	+8  heldSince    u64  unix ms stamped by the current holder, 0 if none
//	+16 lastHeld     u64  unix ms of the most recent acquisition (diagnostic)
//	+24 recoveries   u32  times the lock was taken over from a dead holder
//	+28 acquisitions u32  acquisition generation
const MutexSize = 32

const (
	mutexOffState        = 0
	mutexOffFlags        = 4
	mutexOffHeldSince    = 8
	mutexOffLastHeld     = 16
	mutexOffRecoveries   = 24
	mutexOffAcquisitions = 28
)

const (
	waitersBit = uint32(1) << 31
	ownerMask  = waitersBit - 1

	mutexFlagInitialized = uint32(1)
)

const (
	// DefaultLease bounds how long a holder may keep the lock without
	// refreshing its stamp before waiters treat it as abandoned.
	DefaultLease = 2 * time.Second

	// livenessPoll is how long a waiter sleeps in the kernel before it
	// re-checks whether the holder is still alive.
	livenessPoll = 20 * time.Millisecond
)

// RecoveryReason says why a lock was taken over.
type RecoveryReason int

const (
	// RecoveredOwnerDead means the holder's process no longer exists.
	RecoveredOwnerDead RecoveryReason = iota + 1

	// RecoveredLeaseExpired means the holder's stamp was older than the lease.
	RecoveredLeaseExpired
)

func (r RecoveryReason) String() string {
	switch r {
	case RecoveredOwnerDead:
		return "owner-dead"
	case RecoveredLeaseExpired:
		return "lease-expired"
	default:
		return "unknown"
	}
}

// Recovery describes a lock takeover, passed to [MutexOptions.OnRecover].
type Recovery struct {
	PrevOwner int
	Reason    RecoveryReason
	HeldSince time.Time
}

// MutexOptions configures a [Mutex] handle.
type MutexOptions struct {
	// Lease is the maximum time a holder may keep the lock between stamps.
	//
	// Default is [DefaultLease].
	Lease time.Duration

	// OnRecover, if set, is called after a takeover while the lock is held.
	// It must not block or perform I/O that could stall other processes.
	OnRecover func(Recovery)

	now   func() time.Time
	alive func(pid int) bool
}

// Mutex is a crash-safe, cross-process mutex stored in a shared segment.
//
// Identity is the process id. A waiter acquires an abandoned lock when the
// holder's process is gone (detected immediately via kill(pid, 0)) or when
// the holder's stamp is older than the lease (bounded staleness). Either way
// the takeover is counted and the caller proceeds; the data guarded by the
// lock may be half updated and must be validated by the new holder.
//
// Each handle also serializes its own in-process callers, so one handle may
// be shared by goroutines. Separate handles in one process over separate
// mappings behave like separate processes with the same pid.
type Mutex struct {
	local sync.Mutex

	state        *uint32
	flags        *uint32
	heldSince    *uint64
	lastHeld     *uint64
	recoveries   *uint32
	acquisitions *uint32

	pid       uint32
	lease     time.Duration
	onRecover func(Recovery)
	now       func() time.Time
	alive     func(pid int) bool

	// heldGen is the acquisition generation of the current hold, 0 if none.
	// Non-zero exactly while this handle holds local.
	heldGen atomic.Uint32
}

// NewMutex returns a handle for the mutex block at the start of mem.
//
// mem must hold at least [MutexSize] bytes and be 8-byte aligned. The block
// must be initialized once per segment lifetime with [Mutex.Init] before any
// process calls Lock.
func NewMutex(mem []byte, opts MutexOptions) (*Mutex, error) {
	if len(mem) < MutexSize {
		return nil, fmt.Errorf("mutex block needs %d bytes, got %d: %w", MutexSize, len(mem), ErrInvalidInput)
	}

	base := unsafe.Pointer(&mem[0])
	if uintptr(base)%8 != 0 {
		return nil, fmt.Errorf("mutex block is not 8-byte aligned: %w", ErrInvalidInput)
	}

	pid := os.Getpid()
	if pid <= 0 || uint32(pid) > ownerMask {
		return nil, fmt.Errorf("pid %d does not fit the mutex word: %w", pid, ErrInvalidInput)
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = DefaultLease
	}

	now := opts.now
	if now == nil {
		now = time.Now
	}

	alive := opts.alive
	if alive == nil {
		alive = processAlive
	}

	return &Mutex{
		state:        (*uint32)(unsafe.Add(base, mutexOffState)),
		flags:        (*uint32)(unsafe.Add(base, mutexOffFlags)),
		heldSince:    (*uint64)(unsafe.Add(base, mutexOffHeldSince)),
		lastHeld:     (*uint64)(unsafe.Add(base, mutexOffLastHeld)),
		recoveries:   (*uint32)(unsafe.Add(base, mutexOffRecoveries)),
		acquisitions: (*uint32)(unsafe.Add(base, mutexOffAcquisitions)),
		pid:          uint32(pid),
		lease:        lease,
		onRecover:    opts.OnRecover,
		now:          now,
		alive:        alive,
	}, nil
}

// Init prepares the block for cross-process use.
//
// Owner only, once per segment lifetime. Returns [ErrAlreadyInitialized] if
// the block was initialized before.
func (m *Mutex) Init() error {
	if atomic.LoadUint32(m.flags)&mutexFlagInitialized != 0 {
		return ErrAlreadyInitialized
	}

	atomic.StoreUint32(m.state, 0)
	atomic.StoreUint64(m.heldSince, 0)
	atomic.StoreUint64(m.lastHeld, 0)
	atomic.StoreUint32(m.recoveries, 0)
	atomic.StoreUint32(m.acquisitions, 0)
	atomic.StoreUint32(m.flags, mutexFlagInitialized)

	return nil
}

// Initialized reports whether Init has run on this block.
func (m *Mutex) Initialized() bool {
	return atomic.LoadUint32(m.flags)&mutexFlagInitialized != 0
}

// Lock blocks until the mutex is acquired.
//
// If the previous holder died (or let its lease expire) while holding the
// lock, Lock takes it over, counts a recovery and returns nil. Lock returns
// an error wrapping [ErrLockFailed] only if the block cannot be used at all,
// which is the case for a block that was never initialized.
func (m *Mutex) Lock() error {
	m.local.Lock()

	err := m.lockShared()
	if err != nil {
		m.local.Unlock()

		return err
	}

	return nil
}

func (m *Mutex) lockShared() error {
	if !m.Initialized() {
		return fmt.Errorf("%w: mutex not initialized", ErrLockFailed)
	}

	waited := false

	for {
		cur := atomic.LoadUint32(m.state)

		owner := cur & ownerMask
		if owner == 0 {
			next := m.pid
			if waited || cur&waitersBit != 0 {
				// Others may still be parked; keep the bit so Unlock wakes them.
				next |= waitersBit
			}

			if atomic.CompareAndSwapUint32(m.state, cur, next) {
				m.markHeld(m.nowMillis())

				return nil
			}

			continue
		}

		stamp := atomic.LoadUint64(m.heldSince)

		if reason, ok := m.abandoned(owner, stamp); ok {
			if m.takeOver(cur, stamp) {
				m.afterRecovery(Recovery{
					PrevOwner: int(owner),
					Reason:    reason,
					HeldSince: millisToTime(stamp),
				})

				return nil
			}

			continue
		}

		if cur&waitersBit == 0 {
			if !atomic.CompareAndSwapUint32(m.state, cur, cur|waitersBit) {
				continue
			}

			cur |= waitersBit
		}

		futexWait(m.state, cur, livenessPoll)

		waited = true

		if !m.Initialized() {
			return fmt.Errorf("%w: mutex reset while waiting", ErrLockFailed)
		}
	}
}

// abandoned reports whether the lock held by owner with the given stamp may
// be taken over.
func (m *Mutex) abandoned(owner uint32, stamp uint64) (RecoveryReason, bool) {
	if owner != m.pid && !m.alive(int(owner)) {
		return RecoveredOwnerDead, true
	}

	if stamp == 0 {
		// Holder has not stamped yet (or is between CAS and stamp).
		return 0, false
	}

	age := m.nowMillis() - int64(stamp)
	if age > m.lease.Milliseconds() {
		return RecoveredLeaseExpired, true
	}

	return 0, false
}

// takeOver claims an abandoned lock. The stamp CAS comes first so that two
// waiters racing on the same dead holder cannot both win.
func (m *Mutex) takeOver(cur uint32, stamp uint64) bool {
	now := m.nowMillis()

	if !atomic.CompareAndSwapUint64(m.heldSince, stamp, uint64(now)) {
		return false
	}

	if !atomic.CompareAndSwapUint32(m.state, cur, m.pid|(cur&waitersBit)) {
		atomic.CompareAndSwapUint64(m.heldSince, uint64(now), stamp)

		return false
	}

	m.markHeld(now)

	return true
}

func (m *Mutex) afterRecovery(rec Recovery) {
	atomic.AddUint32(m.recoveries, 1)

	if m.onRecover != nil {
		m.onRecover(rec)
	}
}

func (m *Mutex) markHeld(now int64) {
	atomic.StoreUint64(m.heldSince, uint64(now))
	atomic.StoreUint64(m.lastHeld, uint64(now))
	m.heldGen.Store(atomic.AddUint32(m.acquisitions, 1))
}

// Unlock releases the mutex.
//
// Returns [ErrNotOwner] if this handle does not hold the lock, or if the lock
// was taken over from this handle after its lease expired. In both cases the
// shared word is left alone.
func (m *Mutex) Unlock() error {
	gen := m.heldGen.Load()
	if gen == 0 {
		return ErrNotOwner
	}

	defer m.local.Unlock()

	m.heldGen.Store(0)

	if atomic.LoadUint32(m.acquisitions) != gen {
		return ErrNotOwner
	}

	atomic.StoreUint64(m.heldSince, 0)

	for {
		cur := atomic.LoadUint32(m.state)
		if cur&ownerMask != m.pid {
			return ErrNotOwner
		}

		if atomic.CompareAndSwapUint32(m.state, cur, 0) {
			if cur&waitersBit != 0 {
				futexWake(m.state, 1)
			}

			return nil
		}
	}
}

// Touch refreshes the holder's lease stamp. It is a no-op if this handle
// does not hold the lock.
//
// A holder whose critical section may outlive the lease calls Touch between
// steps so waiters do not take the lock over.
func (m *Mutex) Touch() {
	gen := m.heldGen.Load()
	if gen == 0 || atomic.LoadUint32(m.acquisitions) != gen {
		return
	}

	atomic.StoreUint64(m.heldSince, uint64(m.nowMillis()))
}

// Held reports whether any process currently holds the lock.
func (m *Mutex) Held() bool {
	return atomic.LoadUint32(m.state)&ownerMask != 0
}

// Owner returns the pid of the current holder, or 0.
func (m *Mutex) Owner() int {
	return int(atomic.LoadUint32(m.state) & ownerMask)
}

// LastHeld returns the time of the most recent acquisition, or the zero time.
func (m *Mutex) LastHeld() time.Time {
	return millisToTime(atomic.LoadUint64(m.lastHeld))
}

// Recoveries returns how many times the lock was taken over.
func (m *Mutex) Recoveries() uint32 {
	return atomic.LoadUint32(m.recoveries)
}

func (m *Mutex) nowMillis() int64 {
	return m.now().UnixMilli()
}

func millisToTime(ms uint64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(int64(ms))
}

// processAlive reports whether pid names a live process. EPERM means the
// process exists but belongs to someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}

	return !errors.Is(err, unix.ESRCH)
}
