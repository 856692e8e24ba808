package dytor

import (
	"fmt"
	"iter"
	"reflect"
	"unsafe"

	"github.com/scaredginger/dytor/internal/arena"
)

// Loc pins an actor to its storage: the context that owns it and the byte
// offset of its slot inside that context's arena.
type Loc struct {
	// Context is the owning context.
	Context ContextID

	// Offset is the slot's byte offset in the context's arena.
	Offset arena.Offset
}

// actorEntry is one row of the actor tree.
type actorEntry struct {
	id  ActorID
	vt  *vtable
	loc Loc
}

// ActorTree is the immutable snapshot of every actor in the process, built
// once during startup and shared read-only across all contexts. Entries
// appear in partition order followed by per-partition configuration order;
// every enumeration the lookup layer produces follows that order.
type ActorTree struct {
	entries []actorEntry
	reg     *registry
}

// NumActors returns the number of actors in the tree.
func (t *ActorTree) NumActors() int {
	return len(t.entries)
}

// Key is a copyable, stateless reference to an actor: its location plus the
// conversion metadata needed to reconstitute a typed handle from the slot
// address. The type parameter T is the handle type — either a pointer to a
// registered actor struct (*MyActor) or an interface the actor implements.
// For pointer handles the conversion is an address cast; for interface
// handles it applies the per-(interface, concrete type) thunk recorded in
// the registry.
type Key[T any] struct {
	loc  Loc
	conv func(p unsafe.Pointer) any
}

// ContextID returns the context that owns the referenced actor.
func (k Key[T]) ContextID() ContextID {
	return k.loc.Context
}

// String implements fmt.Stringer.
func (k Key[T]) String() string {
	return fmt.Sprintf("Key[%v]", reflect.TypeOf((*T)(nil)).Elem())
}

// lookupHandles enumerates the tree entries matching the handle type T,
// yielding each actor's ID and a key for it. For a pointer handle the match
// is type-identity with the recorded vtable; for an interface handle the
// registry's interface index supplies the matching concrete types along
// with their conversion thunks.
func lookupHandles[T any](tree *ActorTree) iter.Seq2[ActorID, Key[T]] {
	handle := reflect.TypeOf((*T)(nil)).Elem()

	switch handle.Kind() {
	case reflect.Pointer:
		concrete := handle.Elem()
		return func(yield func(ActorID, Key[T]) bool) {
			for _, e := range tree.entries {
				if e.vt.typ != concrete {
					continue
				}
				k := Key[T]{loc: e.loc, conv: e.vt.self}
				if !yield(e.id, k) {
					return
				}
			}
		}

	case reflect.Interface:
		convs := make(map[reflect.Type]func(unsafe.Pointer) any)
		for _, impl := range tree.reg.ifaceImpls[handle] {
			convs[impl.concrete] = impl.convert
		}
		return func(yield func(ActorID, Key[T]) bool) {
			for _, e := range tree.entries {
				conv, ok := convs[e.vt.typ]
				if !ok {
					continue
				}
				k := Key[T]{loc: e.loc, conv: conv}
				if !yield(e.id, k) {
					return
				}
			}
		}

	default:
		panic(fmt.Sprintf("dytor: lookup handle %v must be a pointer "+
			"to a registered actor type or an interface", handle))
	}
}

// Query enumerates the actors matching a handle type on behalf of an actor
// under construction. Obtain one with Lookup during init.
type Query[T any] struct {
	args *InitArgs
}

// Lookup starts a query over the actor tree for handles of type T, scoped
// to the actor currently being constructed.
func Lookup[T any](args *InitArgs) Query[T] {
	return Query[T]{args: args}
}

// AllKeys returns a lazy sequence over every matching actor, in tree order,
// yielding each actor's ID and key.
func (q Query[T]) AllKeys() iter.Seq2[ActorID, Key[T]] {
	return lookupHandles[T](q.args.ctx.tree)
}

// AllAccessors returns a lazy sequence of accessors, one per matching actor,
// in tree order. Every accessor yielded holds a live reference in the
// control block; the caller owns it and must eventually close it.
func (q Query[T]) AllAccessors() iter.Seq[*Accessor[T]] {
	return func(yield func(*Accessor[T]) bool) {
		for _, key := range lookupHandles[T](q.args.ctx.tree) {
			if !yield(AccessorForKey(q.args, key)) {
				return
			}
		}
	}
}

// BroadcastGroup materializes the matching actors into an immutable,
// grouped-by-context collection usable with Broadcast. Within each context
// the targets keep tree order; the context groups themselves are ordered by
// context ID.
func (q Query[T]) BroadcastGroup() *BroadcastGroup[T] {
	numContexts := q.args.ctx.numContexts()
	legs := make([]broadcastLeg, numContexts)
	total := 0

	for _, key := range lookupHandles[T](q.args.ctx.tree) {
		leg := &legs[key.loc.Context.Index()]
		leg.ctx = key.loc.Context
		leg.targets = append(leg.targets, broadcastTarget{
			offset: key.loc.Offset,
			conv:   key.conv,
		})
		total++
	}

	// Drop contexts with no targets so dispatch never schedules empty
	// closures.
	compact := legs[:0]
	for _, leg := range legs {
		if len(leg.targets) > 0 {
			compact = append(compact, leg)
		}
	}

	return &BroadcastGroup[T]{legs: compact, total: total}
}

// AcyclicLocalKey resolves the query to exactly one actor that lives in the
// same context as the querying actor and records the direct-access
// dependence edge. It fails if the query matches zero or multiple actors,
// if the match lives in another context, or if it is the querying actor
// itself. The accumulated edges are checked for cycles after the context's
// init phase; a cycle is a fatal startup error.
func (q Query[T]) AcyclicLocalKey() (AcyclicLocalKey[T], error) {
	var (
		zero    AcyclicLocalKey[T]
		matchID ActorID
		match   Key[T]
		count   int
	)
	for id, key := range lookupHandles[T](q.args.ctx.tree) {
		matchID, match = id, key
		count++
		if count > 1 {
			break
		}
	}

	handle := reflect.TypeOf((*T)(nil)).Elem()
	switch {
	case count == 0:
		return zero, fmt.Errorf("dytor: no actor matches %v", handle)
	case count > 1:
		return zero, fmt.Errorf("dytor: multiple actors match %v; "+
			"a direct key requires a unique target", handle)
	case match.loc.Context != q.args.ctx.id:
		return zero, fmt.Errorf("dytor: direct key to %v would cross "+
			"from context %d to %d; use an accessor instead",
			handle, q.args.ctx.id, match.loc.Context)
	case matchID == q.args.actorID:
		return zero, fmt.Errorf("dytor: actor %d requested a direct "+
			"key to itself", q.args.actorID)
	}

	q.args.recordEdge(q.args.actorID, matchID)

	return AcyclicLocalKey[T]{
		offset: match.loc.Offset,
		conv:   match.conv,
	}, nil
}

// broadcastTarget is one recipient inside a broadcast leg.
type broadcastTarget struct {
	offset arena.Offset
	conv   func(p unsafe.Pointer) any
}

// broadcastLeg covers every recipient within a single context.
type broadcastLeg struct {
	ctx     ContextID
	targets []broadcastTarget
}

// BroadcastGroup is an immutable, grouped-by-context set of actors used to
// fan a closure out to every actor matching a type or interface. Dispatch
// visits all recipients of the producing context inside one scheduled
// closure, and sends each remote context one message covering all of its
// recipients.
type BroadcastGroup[T any] struct {
	legs  []broadcastLeg
	total int
}

// NumTargets returns the total number of recipients across all contexts.
func (g *BroadcastGroup[T]) NumTargets() int {
	return g.total
}

// AcyclicLocalKey is a key to another actor in the holder's own context,
// tracked in the dependence graph. The target may be constructed before or
// after the holder; ordering is not checked, only the absence of cycles. It
// supports direct, synchronous access during handler execution, without a
// message round trip. It must not leave the owning context.
type AcyclicLocalKey[T any] struct {
	offset arena.Offset
	conv   func(p unsafe.Pointer) any
}

// Borrow returns the referenced actor for direct mutation. The handle is
// only valid for the duration of the current handler; callers must not
// retain it across messages.
func (k AcyclicLocalKey[T]) Borrow(args *MainArgs) T {
	return k.conv(args.ctx.arena.Pointer(k.offset)).(T)
}

// Call invokes f once with the current handler args and the referenced
// actor.
func (k AcyclicLocalKey[T]) Call(args *MainArgs, f func(*MainArgs, T)) {
	f(args, k.Borrow(args))
}
