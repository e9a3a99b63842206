// Package casino implements the shared state of a multiplayer slot-machine
// economy that lives in shared memory and is used by several unrelated
// processes at once.
//
// Three named segments make up one session:
//
//   - the state segment holds the [Record] (jackpot, per-player spin results)
//     behind a crash-safe mutex,
//   - the bet channel is a bounded FIFO of [BetMessage] values,
//   - the wake signal is a counting semaphore the server sleeps on.
//
// # Roles
//
// The owner (the server) creates all three segments with [CreateState],
// [CreateChannel] and [CreateSignal], initializes them and is the only
// process that writes the record ([State.Update]). Players open the channel
// and signal; observers attach read-only with [Attach] and copy the record
// with [Reader.Snapshot].
//
//	r, err := casino.Attach(ctx, casino.Options{})
//	if err != nil {
//	    // ErrSegmentUnavailable: no server came up in time
//	}
//	defer r.Close()
//
//	rec, err := r.Snapshot()
//
// # Wire format
//
// Every field has a fixed little-endian offset (see layout.go). The only code
// that touches record bytes is the encode/decode pair; the rest of the program
// works on [Record] values.
//
// # Error Handling
//
// Startup errors ([ErrSegmentUnavailable], [ErrIncompatible]) are fatal for
// owners and retried with backoff by [Attach]. [ErrChannelFull] is expected
// under load and means the bet was dropped. [ErrChannelEmpty] is the normal
// result of draining the channel.
package casino
