// Package dytor implements a static, single-process actor runtime. A
// configuration enumerates a fixed set of typed actors partitioned across a
// fixed set of contexts (single-threaded execution domains). At startup the
// runtime packs each context's actors into one arena, constructs them in an
// init phase that lets every actor discover its peers by type or interface,
// then enters a main phase in which actors communicate exclusively by
// posting closures to each other's contexts. Shutdown is driven by a
// reference-counted quiescence protocol: the process stops once no messages
// are in flight and no external accessors are alive.
package dytor

import (
	"context"
	"errors"

	"github.com/scaredginger/dytor/config"
)

// ContextID identifies one execution domain. IDs are dense: 1..=N for a run
// with N contexts.
type ContextID = config.ContextID

// ActorID identifies one actor instance. IDs are dense: 1..=M for a run
// with M actors, assigned in configuration order.
type ActorID uint32

// Index returns the zero-based index for the ID.
func (id ActorID) Index() int {
	return int(id) - 1
}

// ErrPeerTerminated indicates a message was posted to a context that has
// already left its main loop. The quiescence protocol guarantees this never
// happens in a correct program, so the runtime treats it as fatal.
var ErrPeerTerminated = errors.New("dytor: peer context terminated")

// ErrAccessorClosed indicates a send through an accessor that was already
// closed.
var ErrAccessorClosed = errors.New("dytor: accessor closed")

// Actor is the capability every registered actor type provides. The type
// parameter C is the actor's configuration payload: the runtime decodes the
// actor's serialized config into a C and hands it to Init together with the
// InitArgs granting access to the actor tree.
//
// Init runs exactly once, on the owning context's thread, in configuration
// order relative to the other actors of the same context. Returning an error
// aborts startup.
type Actor[C any] interface {
	Init(args *InitArgs, cfg C) error
}

// Stoppable is an optional interface actor types can implement to release
// external resources when their context shuts down. OnStop runs on the
// owning context's thread, in reverse construction order, after the main
// loop has exited. The context carries the configured cleanup deadline.
// Errors are logged, not propagated: shutdown never fails.
type Stoppable interface {
	OnStop(ctx context.Context) error
}
