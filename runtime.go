package dytor

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"gopkg.in/yaml.v3"

	"github.com/scaredginger/dytor/config"
	"github.com/scaredginger/dytor/internal/arena"
	"github.com/scaredginger/dytor/internal/graph"
	"github.com/scaredginger/dytor/internal/queue"
)

const (
	// defaultCleanupTimeout bounds each actor's OnStop hook during
	// context shutdown when no override is configured.
	defaultCleanupTimeout = 5 * time.Second
)

// runConfig holds the optional knobs of a Run invocation.
type runConfig struct {
	cleanupTimeout fn.Option[time.Duration]
}

// RunOption is a functional option for Run.
type RunOption func(*runConfig)

// WithCleanupTimeout overrides the per-actor OnStop timeout applied during
// shutdown. Use a longer timeout for actors that manage external processes
// or connections needing graceful teardown.
func WithCleanupTimeout(d time.Duration) RunOption {
	return func(rc *runConfig) {
		rc.cleanupTimeout = fn.Some(d)
	}
}

// workerState carries everything one context worker needs across the init
// and main phases.
type workerState struct {
	ctx      *Context
	actors   []actorInit
	affinity []int
}

// Run is the runtime's single entry point. It validates the configuration,
// partitions the actors across their contexts, allocates the per-context
// arenas, runs the init phase (cycle-checking the dependence graph), then
// drives every context's main loop until global quiescence. The first
// context runs on the calling goroutine; the rest get a goroutine each.
//
// Run returns only after every context has terminated. A nil return means
// the system quiesced cleanly; any startup failure — config validation,
// unknown typename, config decoding, an actor's Init returning an error, a
// dependence cycle — aborts all contexts and is returned.
func Run(cfg *config.Config, opts ...RunOption) error {
	rc := &runConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	reg, err := getRegistry()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	workers, control, err := buildWorkers(reg, cfg, rc)
	if err != nil {
		return err
	}

	runID := uuid.New()
	log.InfoS(context.Background(), "Runtime starting",
		"run_id", runID,
		"num_contexts", len(workers),
		"num_actors", workers[0].ctx.tree.NumActors())

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for i := 1; i < len(workers); i++ {
		w := workers[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(w, fail)
		}()
	}

	// The runtime's own startup hold is released only once every worker
	// has been spawned, so no context can observe quiescence before the
	// full topology is running. The release cannot reach zero while any
	// context still holds its own startup reference, but the generic
	// path keeps the accounting uniform.
	if control.completeOne() {
		stopAll(workers[0].ctx)
	}

	runWorker(workers[0], fail)
	wg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	if firstErr != nil {
		log.ErrorS(context.Background(), "Runtime aborted", firstErr,
			"run_id", runID)
		return firstErr
	}

	log.InfoS(context.Background(), "Runtime quiesced",
		"run_id", runID)

	return nil
}

// buildWorkers partitions the configured actors into their contexts,
// computes each context's arena layout, assembles the actor tree and the
// shared control block, and returns one worker per context.
func buildWorkers(reg *registry, cfg *config.Config,
	rc *runConfig,
) ([]*workerState, *controlBlock, error) {
	numContexts := len(cfg.Contexts)

	// Partition actors by context, preserving configuration order and
	// assigning dense 1-based actor IDs in that order.
	type pendingActor struct {
		id  ActorID
		vt  *vtable
		cfg yaml.Node
	}
	partitions := make([][]pendingActor, numContexts)
	for i, ac := range cfg.Root.Actors {
		vt, err := reg.lookupName(ac.Typename)
		if err != nil {
			return nil, nil, err
		}
		idx := ac.Context.Index()
		partitions[idx] = append(partitions[idx], pendingActor{
			id:  ActorID(i + 1),
			vt:  vt,
			cfg: ac.Config,
		})
	}

	// Every context's inbox exists before any worker starts, so links
	// can be wired eagerly and immutably.
	senders := make([]*queue.Inbox[queueItem], numContexts)
	for i := range senders {
		senders[i] = queue.NewInbox[queueItem]()
	}

	control := newControlBlock()
	tree := &ActorTree{reg: reg}
	cleanupTimeout := rc.cleanupTimeout.UnwrapOr(defaultCleanupTimeout)

	workers := make([]*workerState, numContexts)
	for i := 0; i < numContexts; i++ {
		id := ContextID(i + 1)
		part := partitions[i]

		types := make([]reflect.Type, len(part))
		for j, pa := range part {
			types[j] = pa.vt.typ
		}
		ar, offsets, err := arena.FromTypes(types)
		if err != nil {
			return nil, nil, fmt.Errorf("dytor: laying out "+
				"context %d: %w", id, err)
		}

		actors := make([]actorInit, len(part))
		for j, pa := range part {
			loc := Loc{Context: id, Offset: offsets[j]}
			tree.entries = append(tree.entries, actorEntry{
				id:  pa.id,
				vt:  pa.vt,
				loc: loc,
			})

			node := pa.cfg
			actors[j] = actorInit{
				id:     pa.id,
				vt:     pa.vt,
				offset: offsets[j],
				cfg: &configPayload{
					decode: func(vt *vtable) (any, error) {
						return vt.deserialize(&node)
					},
				},
			}
		}

		workers[i] = &workerState{
			ctx: &Context{
				id:             id,
				arena:          ar,
				inbox:          senders[i],
				senders:        senders,
				control:        control,
				tree:           tree,
				cleanupTimeout: cleanupTimeout,
			},
			actors:   actors,
			affinity: cfg.Contexts[i].ThreadAffinity,
		}
	}

	// Each context holds one startup reference on top of the runtime's
	// initial hold; workers release them once their init work is done.
	control.add(int64(numContexts))

	return workers, control, nil
}

// runWorker drives one context through both phases. On init failure it
// reports the error, stops the world, and tears down whatever was already
// constructed; the context's startup hold is deliberately never released in
// that path, so the counter cannot reach zero during an abort.
func runWorker(w *workerState, fail func(error)) {
	c := w.ctx

	if len(w.affinity) > 0 {
		// Affinity is advisory: pin the goroutine to an OS thread and
		// ask the scheduler, but carry on if the platform refuses.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := setThreadAffinity(w.affinity); err != nil {
			log.WarnS(context.Background(),
				"Thread affinity not applied", err,
				"context_id", c.id,
				"cpus", fmt.Sprintf("%v", w.affinity))
		}
	}

	var edges []graph.Edge
	if err := c.runInit(w.actors, &edges); err != nil {
		fail(err)
		abortRun(c)
		return
	}

	if graph.HasCycles(edges) {
		fail(fmt.Errorf("dytor: dependence cycle detected in "+
			"context %d", c.id))
		abortRun(c)
		return
	}

	log.DebugS(context.Background(), "Context initialized",
		"context_id", c.id,
		"num_actors", len(w.actors),
		"arena_bytes", c.arena.Capacity())

	c.runMain()
	c.shutdown()
}

// abortRun marks the run as aborting, stops every context, and tears down
// the failing context's already-constructed actors. The failing context's
// startup hold is deliberately never released and its inbox stays open, so
// peers racing messages at it observe a slow context rather than a
// terminated one.
func abortRun(c *Context) {
	c.control.markAborted()
	stopAll(c)
	c.teardown()
}

// stopAll posts stop to every context including the caller's own, for the
// abort path where a context must also interrupt itself if it has already
// queued work. Closed inboxes are tolerated: several contexts may abort
// concurrently.
func stopAll(c *Context) {
	for _, inbox := range c.senders {
		_ = inbox.Send(queueItem{kind: itemStop})
	}
}
