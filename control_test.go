package dytor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestControlBlockStartsAtOne verifies the runtime hold is present on
// creation and that consuming it observes quiescence.
func TestControlBlockStartsAtOne(t *testing.T) {
	t.Parallel()

	cb := newControlBlock()
	require.EqualValues(t, 1, cb.pending())
	require.True(t, cb.completeOne())
	require.Zero(t, cb.pending())
}

// TestControlBlockBatchedAccounting replays the outbound batching rule: a
// quantum that owes one event and produces n messages pre-charges n-1, so
// the books balance once every receiver settles.
func TestControlBlockBatchedAccounting(t *testing.T) {
	t.Parallel()

	cb := newControlBlock()

	// One message in flight.
	cb.add(1)
	require.EqualValues(t, 2, cb.pending())

	// Its handler produces three outbound messages: +2 before sending.
	cb.add(2)
	require.EqualValues(t, 4, cb.pending())

	// The three receivers settle, then the runtime hold releases.
	require.False(t, cb.completeOne())
	require.False(t, cb.completeOne())
	require.False(t, cb.completeOne())
	require.True(t, cb.completeOne())
}

// TestControlBlockUnderflowPanics verifies the counter treats going
// negative as a runtime bug.
func TestControlBlockUnderflowPanics(t *testing.T) {
	t.Parallel()

	cb := newControlBlock()
	require.True(t, cb.completeOne())
	require.Panics(t, func() {
		cb.completeOne()
	})
}

// TestControlBlockConcurrentBalance verifies that exactly one of many
// concurrent decrements observes the transition to zero.
func TestControlBlockConcurrentBalance(t *testing.T) {
	t.Parallel()

	const events = 128

	cb := newControlBlock()
	cb.add(events - 1)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		zeros int
	)
	for i := 0; i < events; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.completeOne() {
				mu.Lock()
				zeros++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, zeros)
	require.Zero(t, cb.pending())
}
