package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func edges(pairs ...[2]uint32) []Edge {
	out := make([]Edge, len(pairs))
	for i, p := range pairs {
		out[i] = Edge{From: p[0], To: p[1]}
	}
	return out
}

// TestHasCyclesTwoCycle verifies detection of the minimal two-node cycle.
func TestHasCyclesTwoCycle(t *testing.T) {
	t.Parallel()

	require.True(t, HasCycles(edges([2]uint32{1, 2}, [2]uint32{2, 1})))
}

// TestHasCyclesDiamond verifies that a diamond of shared dependencies is not
// reported as a cycle.
func TestHasCyclesDiamond(t *testing.T) {
	t.Parallel()

	require.False(t, HasCycles(edges(
		[2]uint32{1, 2}, [2]uint32{1, 3},
		[2]uint32{2, 4}, [2]uint32{3, 4},
	)))
}

// TestHasCyclesThreeCycleWithOffshoot verifies a longer cycle is found even
// when acyclic branches hang off it.
func TestHasCyclesThreeCycleWithOffshoot(t *testing.T) {
	t.Parallel()

	require.True(t, HasCycles(edges(
		[2]uint32{1, 2}, [2]uint32{2, 3},
		[2]uint32{3, 4}, [2]uint32{3, 1},
	)))
}

// TestHasCyclesSelfLoop verifies that a self edge counts as a cycle.
func TestHasCyclesSelfLoop(t *testing.T) {
	t.Parallel()

	require.True(t, HasCycles(edges([2]uint32{5, 5})))
}

// TestHasCyclesEmpty verifies the empty graph is acyclic.
func TestHasCyclesEmpty(t *testing.T) {
	t.Parallel()

	require.False(t, HasCycles(nil))
}

// TestHasCyclesLongChain verifies that a deep linear chain neither reports a
// cycle nor exhausts the stack.
func TestHasCyclesLongChain(t *testing.T) {
	t.Parallel()

	var es []Edge
	for i := uint32(1); i < 100_000; i++ {
		es = append(es, Edge{From: i, To: i + 1})
	}
	require.False(t, HasCycles(es))

	es = append(es, Edge{From: 100_000, To: 1})
	require.True(t, HasCycles(es))
}

// TestHasCyclesRandomDAG checks the cycle property in both directions: edges
// generated to respect a topological order can never form a cycle, so
// HasCycles must return false. Adding the reverse of any one of those edges
// closes a two-node cycle, so HasCycles must then return true.
func TestHasCyclesRandomDAG(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 40).Draw(t, "nodes")
		m := rapid.IntRange(1, 120).Draw(t, "edges")

		var es []Edge
		for i := 0; i < m; i++ {
			a := rapid.IntRange(1, n-1).Draw(t, "a")
			b := rapid.IntRange(a+1, n).Draw(t, "b")
			es = append(es, Edge{From: uint32(a), To: uint32(b)})
		}

		// Forward edges only: must be acyclic.
		require.False(t, HasCycles(es))

		// Close a loop along an existing edge and the answer flips.
		pick := es[rapid.IntRange(0, len(es)-1).Draw(t, "pick")]
		withBack := append(append([]Edge{}, es...), Edge{
			From: pick.To,
			To:   pick.From,
		})
		require.True(t, HasCycles(withBack))
	})
}
