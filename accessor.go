package dytor

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"unsafe"

	"github.com/scaredginger/dytor/internal/metrics"
	"github.com/scaredginger/dytor/internal/queue"
)

// Accessor is a thread-safe handle to one actor. Unlike a Key it is an
// owning reference: while any accessor for a run is alive, the run cannot
// quiesce. Accessors may be handed to other goroutines — including
// goroutines entirely outside the runtime, such as timer or I/O bridges —
// and used to post message closures into the target actor's context.
//
// Every construction or clone increments the run's unhandled-event counter;
// Close posts a drop token to the target context, whose dequeue performs
// the matching decrement. Forgetting to close an accessor therefore keeps
// the whole system alive.
type Accessor[T any] struct {
	loc     Loc
	conv    func(p unsafe.Pointer) any
	inbox   *queue.Inbox[queueItem]
	control *controlBlock
	closed  atomic.Bool
}

// newAccessor builds an accessor for a resolved target and takes its
// control-block reference.
func newAccessor[T any](loc Loc, conv func(p unsafe.Pointer) any,
	inbox *queue.Inbox[queueItem], control *controlBlock,
) *Accessor[T] {
	control.add(1)
	metrics.AccessorsLive.Inc()

	return &Accessor[T]{
		loc:     loc,
		conv:    conv,
		inbox:   inbox,
		control: control,
	}
}

// SelfAccessor returns an accessor to the actor currently being
// constructed. The handle type must be the pointer form of the actor's own
// type; requesting anything else is a programming error and panics.
func SelfAccessor[T any](args *InitArgs) *Accessor[T] {
	handle := reflect.TypeOf((*T)(nil)).Elem()
	want := reflect.PointerTo(args.selfVT.typ)
	if handle != want {
		panic(fmt.Sprintf("dytor: self accessor requested as %v, "+
			"actor handle is %v", handle, want))
	}

	loc := Loc{Context: args.ctx.id, Offset: args.actorOffset}

	return newAccessor[T](
		loc, args.selfVT.self,
		args.ctx.inboxOf(args.ctx.id), args.ctx.control,
	)
}

// AccessorForKey upgrades a key into an owning, sendable accessor for the
// same actor.
func AccessorForKey[T any](args *InitArgs, key Key[T]) *Accessor[T] {
	return newAccessor[T](
		key.loc, key.conv,
		args.ctx.inboxOf(key.loc.Context), args.ctx.control,
	)
}

// ContextID returns the context that owns the target actor.
func (a *Accessor[T]) ContextID() ContextID {
	return a.loc.Context
}

// Clone returns an independent accessor to the same actor, taking its own
// control-block reference. Safe to call from any goroutine.
func (a *Accessor[T]) Clone() *Accessor[T] {
	if a.closed.Load() {
		panic(fmt.Sprintf("dytor: clone of closed accessor: %v",
			ErrAccessorClosed))
	}

	return newAccessor[T](a.loc, a.conv, a.inbox, a.control)
}

// Send posts a message closure to the target actor's context. The closure
// runs on that context's thread with a reconstituted handle to the actor.
// The send itself never blocks: the inbox is unbounded.
//
// Sending through a closed accessor, or to a context that has already
// terminated, is an invariant violation and panics — the quiescence
// protocol guarantees the target outlives every accessor that refers to
// it, so either condition indicates a logic error in the caller.
func (a *Accessor[T]) Send(f func(args *MainArgs, actor T)) {
	if a.closed.Load() {
		panic(fmt.Sprintf("dytor: send through closed accessor: %v",
			ErrAccessorClosed))
	}

	// Count the message as in flight before it becomes visible to the
	// consumer, so the counter can never dip to zero with the message
	// still queued.
	a.control.add(1)

	item := msgItem(a.loc.Offset, a.conv, f)
	if err := a.inbox.Send(item); err != nil {
		if a.control.isAborted() {
			return
		}
		panic(fmt.Sprintf("dytor: accessor send to context %d: %v",
			a.loc.Context, ErrPeerTerminated))
	}
}

// Close releases the accessor's hold on the run. The drop token is posted
// to the target context; the matching counter decrement happens when that
// context dequeues it. Close is idempotent; a second call is a no-op.
func (a *Accessor[T]) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}

	metrics.AccessorsLive.Dec()

	if err := a.inbox.Send(queueItem{kind: itemAccessorDropped}); err != nil {
		if a.control.isAborted() {
			return
		}
		panic(fmt.Sprintf("dytor: accessor drop for context %d: %v",
			a.loc.Context, ErrPeerTerminated))
	}
}
