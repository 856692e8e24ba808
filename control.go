package dytor

import (
	"sync/atomic"
)

// controlBlock is the shared cell backing the runtime's distributed
// termination oracle. Its counter tracks every event the system still owes
// work for: in-flight cross-context messages, live accessors whose drop
// token has not been consumed yet, and the startup holds the runtime and
// each context release once initialization completes.
//
// The counter starts at 1 (the runtime's own hold) and reaches zero exactly
// once. The goroutine whose decrement observes the transition to zero owns
// the shutdown cascade: it broadcasts the stop token to every peer context
// and exits.
//
// Go's atomic operations are sequentially consistent, which subsumes the
// release/acquire pairing the final decrement needs to order all prior
// event handling before shutdown.
type controlBlock struct {
	unhandled atomic.Int64

	// aborted is set when a startup failure stops the world. While set,
	// sends to already-terminated contexts are dropped instead of being
	// treated as invariant violations: during an abort, in-flight
	// messages legitimately race with exiting contexts.
	aborted atomic.Bool
}

// markAborted flags the run as aborting.
func (cb *controlBlock) markAborted() {
	cb.aborted.Store(true)
}

// isAborted reports whether the run is aborting.
func (cb *controlBlock) isAborted() bool {
	return cb.aborted.Load()
}

// newControlBlock creates the block with the runtime's initial hold.
func newControlBlock() *controlBlock {
	cb := &controlBlock{}
	cb.unhandled.Store(1)

	return cb
}

// add records n new unhandled events.
func (cb *controlBlock) add(n int64) {
	cb.unhandled.Add(n)
}

// completeOne consumes one unhandled event. It returns true iff this call
// performed the final decrement, i.e. the system is now globally quiescent.
func (cb *controlBlock) completeOne() bool {
	n := cb.unhandled.Add(-1)
	if n < 0 {
		panic("dytor: control block underflow")
	}

	return n == 0
}

// pending returns the current number of unhandled events. Diagnostic only;
// the value is stale the moment it is read.
func (cb *controlBlock) pending() int64 {
	return cb.unhandled.Load()
}
