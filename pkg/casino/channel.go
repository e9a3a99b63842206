package casino

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/calvinalkan/casino-ipc/pkg/shm"
)

// Channel is a bounded FIFO of [BetMessage] values in its own segment.
//
// Neither side ever waits for space or data: [Channel.Send] fails with
// [ErrChannelFull] and [Channel.TryReceive] with [ErrChannelEmpty]. The ring
// is guarded by a crash-safe mutex held only for a few field updates.
type Channel struct {
	mu     sync.Mutex
	seg    *shm.Segment
	lock   *shm.Mutex
	owner  bool
	closed bool
}

// ChannelStats are the channel's diagnostic counters.
type ChannelStats struct {
	Depth     int
	Sent      uint32
	FullDrops uint32
}

// CreateChannel creates and initializes an empty channel. Owner only.
func CreateChannel(opts Options) (*Channel, error) {
	if err := checkPlatform(); err != nil {
		return nil, err
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	if err := ensureDir(opts); err != nil {
		return nil, err
	}

	seg, err := shm.Create(opts.ResolvedDir(), opts.Names().Channel, ChannelSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}

	c, err := newChannel(seg, opts, true)
	if err != nil {
		return nil, err
	}

	if err := c.lock.Init(); err != nil {
		_ = seg.Close()

		return nil, fmt.Errorf("%w: %w", ErrLockAcquisitionFailed, err)
	}

	buf := seg.Bytes()
	binary.LittleEndian.PutUint32(buf[chanOffCapacity:], ChannelCapacity)
	binary.LittleEndian.PutUint32(buf[chanOffMsgSize:], BetMessageSize)
	publishHeader(buf, channelMagic)

	return c, nil
}

// OpenChannel attaches to a channel created by the server.
func OpenChannel(opts Options) (*Channel, error) {
	if err := checkPlatform(); err != nil {
		return nil, err
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	seg, err := shm.Open(opts.ResolvedDir(), opts.Names().Channel, ChannelSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}

	if err := checkChannelHeader(seg.Bytes()); err != nil {
		_ = seg.Close()

		return nil, err
	}

	return newChannel(seg, opts, false)
}

func newChannel(seg *shm.Segment, opts Options, owner bool) (*Channel, error) {
	buf := seg.Bytes()

	lock, err := shm.NewMutex(buf[chanOffMutex:chanOffMutex+shm.MutexSize], opts.mutexOptions())
	if err != nil {
		_ = seg.Close()

		return nil, fmt.Errorf("%w: %w", ErrSegmentUnavailable, err)
	}

	return &Channel{seg: seg, lock: lock, owner: owner}, nil
}

// Send enqueues msg. Returns [ErrChannelFull] if the channel is at capacity;
// the message is then dropped and counted.
func (c *Channel) Send(msg BetMessage) error {
	return c.locked(func(buf []byte) error {
		le := binary.LittleEndian

		count := le.Uint32(buf[chanOffCount:])
		if count >= ChannelCapacity {
			le.PutUint32(buf[chanOffFullDrops:], le.Uint32(buf[chanOffFullDrops:])+1)

			return ErrChannelFull
		}

		head := le.Uint32(buf[chanOffHead:]) % ChannelCapacity
		tail := (head + count) % ChannelCapacity

		encodeBet(buf[chanOffSlots+int(tail)*BetMessageSize:], msg)

		le.PutUint32(buf[chanOffCount:], count+1)
		le.PutUint32(buf[chanOffSent:], le.Uint32(buf[chanOffSent:])+1)

		return nil
	})
}

// TryReceive dequeues the oldest message. Returns [ErrChannelEmpty] if there
// is none.
func (c *Channel) TryReceive() (BetMessage, error) {
	var msg BetMessage

	err := c.locked(func(buf []byte) error {
		le := binary.LittleEndian

		count := le.Uint32(buf[chanOffCount:])
		if count == 0 {
			return ErrChannelEmpty
		}

		if count > ChannelCapacity {
			// Torn by a writer that died mid-update; drop the backlog.
			le.PutUint32(buf[chanOffCount:], 0)

			return ErrChannelEmpty
		}

		head := le.Uint32(buf[chanOffHead:]) % ChannelCapacity
		msg = decodeBet(buf[chanOffSlots+int(head)*BetMessageSize:])

		le.PutUint32(buf[chanOffHead:], (head+1)%ChannelCapacity)
		le.PutUint32(buf[chanOffCount:], count-1)

		return nil
	})

	return msg, err
}

// Len returns the number of pending messages.
func (c *Channel) Len() (int, error) {
	stats, err := c.Stats()

	return stats.Depth, err
}

// Stats returns the depth and lifetime counters.
func (c *Channel) Stats() (ChannelStats, error) {
	var stats ChannelStats

	err := c.locked(func(buf []byte) error {
		le := binary.LittleEndian

		stats = ChannelStats{
			Depth:     int(min(le.Uint32(buf[chanOffCount:]), ChannelCapacity)),
			Sent:      le.Uint32(buf[chanOffSent:]),
			FullDrops: le.Uint32(buf[chanOffFullDrops:]),
		}

		return nil
	})

	return stats, err
}

// Replaced reports whether the channel name now refers to a different
// segment (server restarted) or was removed. Messages sent to a replaced
// channel are never received.
func (c *Channel) Replaced() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}

	return c.seg.Replaced()
}

// Close unmaps the channel. It never removes it. Close is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	return c.seg.Close()
}

func (c *Channel) locked(fn func(buf []byte) error) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return ErrClosed
	}

	buf := c.seg.Bytes()
	c.mu.Unlock()

	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("%w: %w", ErrLockAcquisitionFailed, err)
	}

	fnErr := fn(buf)

	if err := c.lock.Unlock(); err != nil {
		return fmt.Errorf("%w: %w", ErrLockAcquisitionFailed, err)
	}

	return fnErr
}
