package dytor

import (
	"context"
	"fmt"
	"reflect"
	"time"
	"unsafe"

	"github.com/scaredginger/dytor/internal/arena"
	"github.com/scaredginger/dytor/internal/graph"
	"github.com/scaredginger/dytor/internal/metrics"
	"github.com/scaredginger/dytor/internal/queue"
)

// itemKind discriminates the items a context's inbox carries.
type itemKind uint8

const (
	// itemMsg is a message closure targeting an actor of this context.
	itemMsg itemKind = iota

	// itemAccessorDropped is the token an accessor posts when closed.
	// Dequeuing it consumes the accessor's control-block reference.
	itemAccessorDropped

	// itemStop tells the context to leave its main loop. Posted by
	// whichever context observed global quiescence, or by the runtime on
	// a startup failure.
	itemStop
)

// queueItem is one unit of work delivered to a context's inbox.
type queueItem struct {
	kind itemKind
	run  func(c *Context)
}

// stagedMsg is an outbound message produced during the current scheduling
// quantum, held back until the quantum's quiescence accounting runs.
type stagedMsg struct {
	target ContextID
	item   queueItem
}

// Context is a single-threaded execution domain. It owns an arena holding
// its actors, a local FIFO for deferred same-context work, the inbox its
// peers post messages to, and one outbound link per peer. A Context must
// never be touched from outside its worker goroutine once the first actor
// has been constructed.
type Context struct {
	id ContextID

	// arena holds every actor of this context.
	arena *arena.Arena

	// slots records each constructed actor's slot, in construction
	// order; destructors run over it in reverse.
	slots []slotEntry

	// local is the deferred-work FIFO, drained to emptiness after every
	// inbox item.
	local queue.Local[func(c *Context)]

	// inbox receives work from peer contexts and external accessors.
	inbox *queue.Inbox[queueItem]

	// senders holds every context's inbox indexed by ContextID-1,
	// including this context's own. Immutable after startup; accessors
	// and links draw from it.
	senders []*queue.Inbox[queueItem]

	// staged buffers outbound messages produced during the current
	// quantum, flushed by finishQuantum.
	staged []stagedMsg

	// control is the shared quiescence cell.
	control *controlBlock

	// tree is the immutable actor snapshot.
	tree *ActorTree

	// cleanupTimeout bounds each actor's OnStop during shutdown.
	cleanupTimeout time.Duration
}

// slotEntry ties an arena slot offset to the vtable that constructed it.
type slotEntry struct {
	offset arena.Offset
	vt     *vtable
}

func (c *Context) numContexts() int {
	return len(c.senders)
}

// inboxOf returns the inbox of any context, the caller's own included.
// The sender table covers every context, so it serves both as the outbound
// link index and as the accessor constructor the lookup layer draws from.
func (c *Context) inboxOf(id ContextID) *queue.Inbox[queueItem] {
	return c.senders[id.Index()]
}

// postToPeer delivers an item to a peer context. A closed peer inbox during
// normal operation means the quiescence invariant was violated, which the
// runtime treats as fatal.
func (c *Context) postToPeer(peer ContextID, item queueItem) {
	if err := c.inboxOf(peer).Send(item); err != nil {
		if c.control.isAborted() {
			return
		}
		panic(fmt.Sprintf("dytor: send from context %d to context "+
			"%d: %v", c.id, peer, ErrPeerTerminated))
	}
}

// route places a message produced by this context: same-context messages go
// on the local queue, cross-context messages are staged until the quantum's
// accounting flushes them.
func (c *Context) route(target ContextID, item queueItem) {
	if target == c.id {
		c.local.Push(item.run)
		return
	}

	c.staged = append(c.staged, stagedMsg{target: target, item: item})
}

// drainLocal consumes the local queue to emptiness. Closures may push more
// local work; that work is consumed in the same drain, in push order.
func (c *Context) drainLocal() {
	for {
		f, ok := c.local.Pop()
		if !ok {
			return
		}
		metrics.LocalWorkDrained.Inc()
		f(c)
	}
}

// finishQuantum settles the quiescence accounting for one scheduling
// quantum. The quantum owes the control block exactly one event (the
// message that triggered it, or the startup hold). With no outbound
// messages the debt is paid by a decrement; with n staged messages the
// counter absorbs n-1 before any are sent, transferring the owed event to
// the outbound batch so the books balance when the receivers settle.
//
// Returns true iff the decrement observed global quiescence, in which case
// the caller must broadcast stop and exit.
func (c *Context) finishQuantum() bool {
	n := len(c.staged)
	if n == 0 {
		return c.control.completeOne()
	}

	if n > 1 {
		c.control.add(int64(n - 1))
	}
	for _, m := range c.staged {
		c.postToPeer(m.target, m.item)
	}
	c.staged = c.staged[:0]

	return false
}

// broadcastStop posts the stop token to every peer inbox. Peers that have
// already terminated are skipped: in the startup-failure path several
// contexts can race to stop the world.
func (c *Context) broadcastStop() {
	log.DebugS(context.Background(), "Broadcasting stop",
		"context_id", c.id)

	for peer := range c.senders {
		id := ContextID(peer + 1)
		if id == c.id {
			continue
		}

		// Tolerate closed peers; see above.
		_ = c.inboxOf(id).Send(queueItem{kind: itemStop})
	}
}

// runMain is the context's main phase. It first drains work produced during
// init and releases the context's startup hold, then serves the inbox until
// stop: each message closure runs to completion, the local queue drains to
// emptiness, and the quantum's outbound batch flushes. Stop received
// mid-stream exits immediately; still-queued items are dropped, not
// drained.
func (c *Context) runMain() {
	metrics.ContextsRunning.Inc()
	defer metrics.ContextsRunning.Dec()

	c.drainLocal()
	if c.finishQuantum() {
		c.broadcastStop()
		return
	}

	for {
		item, ok := c.inbox.Recv()
		if !ok {
			return
		}

		switch item.kind {
		case itemMsg:
			metrics.MessagesDelivered.Inc()
			item.run(c)
			c.drainLocal()
			if c.finishQuantum() {
				c.broadcastStop()
				return
			}

		case itemAccessorDropped:
			if c.control.completeOne() {
				c.broadcastStop()
				return
			}

		case itemStop:
			return
		}
	}
}

// shutdown closes the inbox and tears the context down. Only the normal
// exit path closes the inbox; the abort path leaves it open so racing
// senders observe a slow peer rather than a terminated one.
func (c *Context) shutdown() {
	c.inbox.Close()
	c.teardown()
}

// teardown runs per-slot destructors in reverse construction order and
// releases the arena. Actors implementing Stoppable get their OnStop hook,
// bounded by the configured cleanup timeout.
func (c *Context) teardown() {
	for i := len(c.slots) - 1; i >= 0; i-- {
		s := c.slots[i]
		handle := s.vt.self(c.arena.Pointer(s.offset))
		if stoppable, ok := handle.(Stoppable); ok {
			ctx, cancel := context.WithTimeout(
				context.Background(), c.cleanupTimeout,
			)
			if err := stoppable.OnStop(ctx); err != nil {
				log.WarnS(ctx, "Actor cleanup error during "+
					"shutdown", err,
					"context_id", c.id,
					"actor_type", s.vt.name)
			}
			cancel()
		}

		c.arena.ZeroSlot(i)
	}
	c.slots = nil
	c.arena.Release()

	log.DebugS(context.Background(), "Context terminated",
		"context_id", c.id)
}

// actorInit carries one actor's construction inputs into the init phase.
type actorInit struct {
	id     ActorID
	vt     *vtable
	offset arena.Offset
	cfg    *configPayload
}

// configPayload wraps the undecoded config payload. A nil pointer or a zero
// node decodes to the config type's zero value.
type configPayload struct {
	decode func(vt *vtable) (any, error)
}

// runInit constructs every actor scheduled on this context, in
// configuration order. Each construction deserializes the actor's payload
// through its vtable, then runs Init with an InitArgs scoped to the actor.
// Dependence edges recorded by direct-key queries accumulate in edges; the
// caller checks them for cycles once every actor is built.
func (c *Context) runInit(actors []actorInit,
	edges *[]graph.Edge,
) error {
	for _, a := range actors {
		cfg, err := a.cfg.decode(a.vt)
		if err != nil {
			return fmt.Errorf("dytor: decoding config for actor "+
				"%q (id %d): %w", a.vt.name, a.id, err)
		}

		slot, err := c.arena.Slot(a.offset, a.vt.layout)
		if err != nil {
			return fmt.Errorf("dytor: placing actor %q: %w",
				a.vt.name, err)
		}

		args := &InitArgs{
			ctx:         c,
			edges:       edges,
			actorID:     a.id,
			actorOffset: a.offset,
			selfVT:      a.vt,
		}
		if err := a.vt.construct(args, slot, cfg); err != nil {
			return fmt.Errorf("dytor: init of actor %q (id %d): "+
				"%w", a.vt.name, a.id, err)
		}

		c.slots = append(c.slots, slotEntry{
			offset: a.offset,
			vt:     a.vt,
		})

		log.TraceS(context.Background(), "Actor constructed",
			"context_id", c.id,
			"actor_id", a.id,
			"actor_type", a.vt.name)
	}

	return nil
}

// InitArgs is the window an actor gets onto the runtime while it is being
// constructed. It exposes the actor tree for discovery, message sending
// (buffered until the context enters its main phase), broadcast dispatch,
// and accessor construction. An InitArgs is only valid for the duration of
// the Init call it was passed to.
type InitArgs struct {
	ctx         *Context
	edges       *[]graph.Edge
	actorID     ActorID
	actorOffset arena.Offset
	selfVT      *vtable
}

// ActorID returns the ID of the actor being constructed.
func (ia *InitArgs) ActorID() ActorID {
	return ia.actorID
}

// ContextID returns the ID of the owning context.
func (ia *InitArgs) ContextID() ContextID {
	return ia.ctx.id
}

// Tree returns the immutable actor snapshot.
func (ia *InitArgs) Tree() *ActorTree {
	return ia.ctx.tree
}

func (ia *InitArgs) context() *Context {
	return ia.ctx
}

// recordEdge appends one direct-access dependence edge.
func (ia *InitArgs) recordEdge(from, to ActorID) {
	*ia.edges = append(*ia.edges, graph.Edge{
		From: uint32(from),
		To:   uint32(to),
	})
}

// MainArgs is the window a message handler gets onto its context. Handlers
// use it to send messages, broadcast, schedule deferred local work, and
// borrow direct keys. A MainArgs is only valid for the duration of the
// handler invocation it was passed to.
type MainArgs struct {
	ctx *Context
}

// ContextID returns the ID of the executing context.
func (ma *MainArgs) ContextID() ContextID {
	return ma.ctx.id
}

// Schedule queues f onto the local queue. It runs after the current handler
// returns, in schedule order, before the context considers its next inbox
// item.
func (ma *MainArgs) Schedule(f func(args *MainArgs)) {
	ma.ctx.local.Push(func(c *Context) {
		args := MainArgs{ctx: c}
		f(&args)
	})
}

func (ma *MainArgs) context() *Context {
	return ma.ctx
}

// Sender is the capability common to InitArgs and MainArgs that lets the
// generic messaging helpers route through the owning context. It is sealed:
// only the runtime's argument types implement it.
type Sender interface {
	context() *Context
}

// msgItem wraps a user closure into an inbox item that reconstitutes the
// typed handle from the target context's arena before invoking it.
func msgItem[T any](offset arena.Offset,
	conv func(p unsafe.Pointer) any, f func(args *MainArgs, actor T),
) queueItem {
	return queueItem{
		kind: itemMsg,
		run: func(c *Context) {
			args := MainArgs{ctx: c}
			f(&args, conv(c.arena.Pointer(offset)).(T))
		},
	}
}

// SendTo posts a message closure to the actor a key refers to. Same-context
// messages append to the local queue and run within the current quantum;
// cross-context messages join the quantum's outbound batch and are flushed
// when the quantum's accounting settles. Messages between a fixed pair of
// contexts are delivered in the order they were produced.
func SendTo[T any](s Sender, key Key[T], f func(args *MainArgs, actor T)) {
	ctx := s.context()
	ctx.route(key.loc.Context, msgItem(key.loc.Offset, key.conv, f))
}

// Broadcast fans a closure out to every actor in the group. Recipients in
// the producing context are visited in group order within one locally
// scheduled closure; each remote context receives a single message covering
// all of its recipients. Broadcasting over an empty group is a no-op.
func Broadcast[T any](s Sender, g *BroadcastGroup[T],
	f func(args *MainArgs, actor T),
) {
	ctx := s.context()

	for _, leg := range g.legs {
		targets := leg.targets
		item := queueItem{
			kind: itemMsg,
			run: func(c *Context) {
				for _, tgt := range targets {
					metrics.BroadcastTargets.Inc()
					args := MainArgs{ctx: c}
					handle := tgt.conv(
						c.arena.Pointer(tgt.offset),
					).(T)
					f(&args, handle)
				}
			},
		}
		ctx.route(leg.ctx, item)
	}
}

// Resource returns the process-wide shared resource of type T registered
// via RegisterResource, constructing it on first use.
func Resource[T any](args *InitArgs) (T, error) {
	var zero T
	typ := reflect.TypeOf((*T)(nil)).Elem()

	cell, ok := args.ctx.tree.reg.resources[typ]
	if !ok {
		return zero, fmt.Errorf("dytor: no resource registered for "+
			"type %v", typ)
	}

	return cell.get().(T), nil
}
