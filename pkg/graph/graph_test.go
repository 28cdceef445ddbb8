package graph

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/proficiency"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	return New(proficiency.NewCalculator(proficiency.DefaultConfig()))
}

func TestNew(t *testing.T) {
	t.Run("panics on nil calculator", func(t *testing.T) {
		assert.Panics(t, func() { New(nil) })
	})

	t.Run("starts empty", func(t *testing.T) {
		g := newTestGraph(t)
		assert.Equal(t, int64(0), g.NodeCount())
		assert.Equal(t, int64(0), g.EdgeCount())
	})
}

func TestUpsertNode(t *testing.T) {
	g := newTestGraph(t)

	t.Run("creates with identity fields", func(t *testing.T) {
		require.NoError(t, g.UpsertNode("fn:Parse", KindFunction, "Parse"))
		n, err := g.GetNode("fn:Parse")
		require.NoError(t, err)
		assert.Equal(t, KindFunction, n.Kind)
		assert.Equal(t, "Parse", n.Name)
		assert.Zero(t, n.Interactions)
	})

	t.Run("is idempotent on identity fields", func(t *testing.T) {
		// Re-upserting with different kind/name must not overwrite.
		require.NoError(t, g.UpsertNode("fn:Parse", KindFile, "other"))
		n, err := g.GetNode("fn:Parse")
		require.NoError(t, err)
		assert.Equal(t, KindFunction, n.Kind)
		assert.Equal(t, "Parse", n.Name)
	})

	t.Run("rejects empty id", func(t *testing.T) {
		assert.ErrorIs(t, g.UpsertNode("", KindFile, "x"), ErrInvalidID)
	})

	t.Run("defaults kind and name", func(t *testing.T) {
		require.NoError(t, g.UpsertNode("mystery", "", ""))
		n, err := g.GetNode("mystery")
		require.NoError(t, err)
		assert.Equal(t, KindUnclassified, n.Kind)
		assert.Equal(t, "mystery", n.Name)
	})
}

func TestRecordInteraction(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("creates missing node implicitly", func(t *testing.T) {
		g := newTestGraph(t)
		require.NoError(t, g.RecordInteraction("fn:New", OutcomeSuccess, now, "evt-1"))
		n, err := g.GetNode("fn:New")
		require.NoError(t, err)
		assert.Equal(t, KindUnclassified, n.Kind)
		assert.Equal(t, int64(1), n.Interactions)
		assert.Equal(t, int64(1), n.Successes)
	})

	t.Run("counts outcomes separately", func(t *testing.T) {
		g := newTestGraph(t)
		require.NoError(t, g.RecordInteraction("n", OutcomeSuccess, now, "e1"))
		require.NoError(t, g.RecordInteraction("n", OutcomeFailure, now, "e2"))
		require.NoError(t, g.RecordInteraction("n", OutcomeNeutral, now, "e3"))

		n, err := g.GetNode("n")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n.Interactions)
		assert.Equal(t, int64(1), n.Successes)
		assert.Equal(t, int64(1), n.Failures)
	})

	t.Run("replayed event leaves counters unchanged", func(t *testing.T) {
		g := newTestGraph(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, g.RecordInteraction("n", OutcomeSuccess, now, "evt-dup"))
		}
		n, err := g.GetNode("n")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n.Interactions, "replays must not double-count")
	})

	t.Run("empty eventID disables dedup", func(t *testing.T) {
		g := newTestGraph(t)
		require.NoError(t, g.RecordInteraction("n", OutcomeSuccess, now, ""))
		require.NoError(t, g.RecordInteraction("n", OutcomeSuccess, now, ""))
		n, err := g.GetNode("n")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n.Interactions)
	})

	t.Run("same event applies to different nodes", func(t *testing.T) {
		g := newTestGraph(t)
		require.NoError(t, g.RecordInteraction("a", OutcomeSuccess, now, "evt"))
		require.NoError(t, g.RecordInteraction("b", OutcomeSuccess, now, "evt"))
		assert.Equal(t, int64(2), g.NodeCount())
	})

	t.Run("out-of-order timestamp never regresses LastInteraction", func(t *testing.T) {
		g := newTestGraph(t)
		require.NoError(t, g.RecordInteraction("n", OutcomeSuccess, now, "e1"))
		require.NoError(t, g.RecordInteraction("n", OutcomeFailure, now.Add(-time.Hour), "e2"))

		n, err := g.GetNode("n")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n.Interactions, "late event still counts")
		assert.Equal(t, now, n.LastInteraction, "timestamp must stay monotone")
	})
}

func TestSetComplexity(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.UpsertNode("n", KindClass, "N"))

	require.NoError(t, g.SetComplexity("n", 0.7))
	n, err := g.GetNode("n")
	require.NoError(t, err)
	assert.Equal(t, 0.7, n.ComplexityWeight)

	t.Run("clamps out-of-range weights", func(t *testing.T) {
		require.NoError(t, g.SetComplexity("n", 4.2))
		n, _ := g.GetNode("n")
		assert.Equal(t, 1.0, n.ComplexityWeight)
	})

	t.Run("unknown node", func(t *testing.T) {
		assert.ErrorIs(t, g.SetComplexity("ghost", 0.5), ErrNotFound)
	})
}

func TestAddDependency(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.UpsertNode("a", KindFunction, "a"))
	require.NoError(t, g.UpsertNode("b", KindFunction, "b"))

	t.Run("requires both endpoints", func(t *testing.T) {
		assert.ErrorIs(t, g.AddDependency("a", "ghost"), ErrNotFound)
		assert.ErrorIs(t, g.AddDependency("ghost", "a"), ErrNotFound)
	})

	t.Run("is idempotent", func(t *testing.T) {
		require.NoError(t, g.AddDependency("a", "b"))
		require.NoError(t, g.AddDependency("a", "b"))
		assert.Equal(t, int64(1), g.EdgeCount())
	})

	t.Run("permits self-loops and cycles", func(t *testing.T) {
		require.NoError(t, g.AddDependency("a", "a"))
		require.NoError(t, g.AddDependency("b", "a"))
		assert.Equal(t, int64(3), g.EdgeCount())
	})
}

func TestRelated(t *testing.T) {
	g := newTestGraph(t)
	for _, id := range []NodeID{"a", "b", "c", "x"} {
		require.NoError(t, g.UpsertNode(id, KindFunction, string(id)))
	}
	require.NoError(t, g.AddDependency("a", "b"))
	require.NoError(t, g.AddDependency("c", "b"))

	assert.True(t, g.Related("a", "a"), "a node relates to itself")
	assert.True(t, g.Related("a", "b"), "direct edge")
	assert.True(t, g.Related("b", "a"), "direction does not matter")
	assert.True(t, g.Related("a", "c"), "shared neighbor b")
	assert.False(t, g.Related("a", "x"), "no connection")
	assert.False(t, g.Related("a", "ghost"), "unknown node is unrelated")
}

func TestReachable(t *testing.T) {
	g := newTestGraph(t)
	for _, id := range []NodeID{"a", "b", "c", "d"} {
		require.NoError(t, g.UpsertNode(id, KindFunction, string(id)))
	}
	require.NoError(t, g.AddDependency("a", "b"))
	require.NoError(t, g.AddDependency("b", "c"))
	require.NoError(t, g.AddDependency("c", "a")) // cycle

	t.Run("terminates on cycles", func(t *testing.T) {
		got, err := g.Reachable("a", 0)
		require.NoError(t, err)
		assert.Equal(t, []NodeID{"b", "c"}, got)
	})

	t.Run("respects depth limit", func(t *testing.T) {
		got, err := g.Reachable("a", 1)
		require.NoError(t, err)
		assert.Equal(t, []NodeID{"b"}, got)
	})

	t.Run("unknown root", func(t *testing.T) {
		_, err := g.Reachable("ghost", 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestQueryWeakAreas(t *testing.T) {
	g := newTestGraph(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// strong: many recent successes. weak: recent failures. stale: old.
	for i := 0; i < 20; i++ {
		require.NoError(t, g.RecordInteraction("strong", OutcomeSuccess, now.Add(-time.Hour), ""))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, g.RecordInteraction("weak", OutcomeFailure, now.Add(-time.Hour), ""))
	}
	require.NoError(t, g.RecordInteraction("stale", OutcomeFailure, now.AddDate(0, 0, -40), ""))

	t.Run("orders weakest first", func(t *testing.T) {
		areas := g.QueryWeakAreas(now, 0, 0)
		require.Len(t, areas, 3)
		assert.Equal(t, NodeID("stale"), areas[0].ID)
		assert.Equal(t, NodeID("weak"), areas[1].ID)
		assert.Equal(t, NodeID("strong"), areas[2].ID)
	})

	t.Run("age filter excludes stale nodes", func(t *testing.T) {
		areas := g.QueryWeakAreas(now, 30, 0)
		require.Len(t, areas, 2)
		assert.Equal(t, NodeID("weak"), areas[0].ID)
	})

	t.Run("limit truncates", func(t *testing.T) {
		areas := g.QueryWeakAreas(now, 0, 1)
		require.Len(t, areas, 1)
		assert.Equal(t, NodeID("stale"), areas[0].ID)
	})
}

func TestPruneStale(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	buildGraph := func(t *testing.T) *Graph {
		g := newTestGraph(t)
		// Stale and weak: one failure, 31 days ago. Prune candidate.
		require.NoError(t, g.RecordInteraction("stale-weak", OutcomeFailure, now.AddDate(0, 0, -31), ""))
		// Stale but strong: saturated successes keep the score up.
		for i := 0; i < 20; i++ {
			require.NoError(t, g.RecordInteraction("stale-strong", OutcomeSuccess, now.AddDate(0, 0, -31), ""))
		}
		// Weak but fresh.
		require.NoError(t, g.RecordInteraction("fresh-weak", OutcomeFailure, now.Add(-time.Hour), ""))
		return g
	}

	t.Run("removes only weak AND stale nodes", func(t *testing.T) {
		g := buildGraph(t)
		removed := g.PruneStale(now, 35, 30)
		require.Len(t, removed, 1)
		assert.Equal(t, NodeID("stale-weak"), removed[0].ID)
		assert.InDelta(t, 31, removed[0].AgeDays, 0.1)

		assert.False(t, g.HasNode("stale-weak"))
		assert.True(t, g.HasNode("stale-strong"))
		assert.True(t, g.HasNode("fresh-weak"))
	})

	t.Run("removes edges touching pruned nodes", func(t *testing.T) {
		g := buildGraph(t)
		require.NoError(t, g.AddDependency("stale-weak", "fresh-weak"))
		require.NoError(t, g.AddDependency("fresh-weak", "stale-weak"))
		require.NoError(t, g.AddDependency("stale-weak", "stale-weak"))

		g.PruneStale(now, 35, 30)

		assert.Equal(t, int64(0), g.EdgeCount())
		deps, err := g.Dependencies("fresh-weak")
		require.NoError(t, err)
		assert.Empty(t, deps, "no dangling edges to the removed node")
	})

	t.Run("empty sweep returns no records", func(t *testing.T) {
		g := buildGraph(t)
		removed := g.PruneStale(now, 0.0001, 365)
		assert.Empty(t, removed)
		assert.Equal(t, int64(3), g.NodeCount())
	})
}

func TestExportImportRoundTrip(t *testing.T) {
	g := newTestGraph(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, g.RecordInteraction("a", OutcomeSuccess, now, "e1"))
	require.NoError(t, g.RecordInteraction("b", OutcomeFailure, now, "e2"))
	require.NoError(t, g.AddDependency("a", "b"))
	require.NoError(t, g.SetComplexity("a", 0.4))

	snap := g.Export()
	require.Len(t, snap.Nodes, 2)
	require.Len(t, snap.Edges, 1)

	restored := newTestGraph(t)
	require.NoError(t, restored.Import(snap))

	assert.Equal(t, g.NodeCount(), restored.NodeCount())
	assert.Equal(t, g.EdgeCount(), restored.EdgeCount())

	a, err := restored.GetNode("a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Successes)
	assert.Equal(t, 0.4, a.ComplexityWeight)
	assert.Equal(t, []NodeID{"b"}, a.Dependencies)

	t.Run("skips edges with missing endpoints", func(t *testing.T) {
		snap.Edges = append(snap.Edges, Edge{From: "a", To: "ghost"})
		fresh := newTestGraph(t)
		require.NoError(t, fresh.Import(snap))
		assert.Equal(t, int64(1), fresh.EdgeCount())
	})
}

func TestStats(t *testing.T) {
	g := newTestGraph(t)
	now := time.Now()
	require.NoError(t, g.UpsertNode("f", KindFile, "f"))
	require.NoError(t, g.UpsertNode("g", KindFunction, "g"))
	require.NoError(t, g.UpsertNode("h", KindFunction, "h"))
	require.NoError(t, g.AddDependency("f", "g"))

	s := g.Stats(now)
	assert.Equal(t, int64(3), s.Nodes)
	assert.Equal(t, int64(1), s.Edges)
	assert.Equal(t, int64(2), s.ByKind[KindFunction])
	assert.Greater(t, s.MeanProficiency, 0.0)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	// Readers and writers race freely; the run is correct if nothing panics
	// and final counters are exact. Run with -race.
	g := newTestGraph(t)
	now := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = g.RecordInteraction(NodeID(rune('a'+w)), OutcomeSuccess, now, "")
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				g.ProficiencyMap(now)
				g.QueryWeakAreas(now, 0, 10)
				g.NodeCount()
			}
		}()
	}
	wg.Wait()

	var total int64
	for _, id := range []NodeID{"a", "b", "c", "d"} {
		n, err := g.GetNode(id)
		require.NoError(t, err)
		total += n.Interactions
	}
	assert.Equal(t, int64(800), total)
}

func TestKindFromString(t *testing.T) {
	kind, ok := KindFromString("function")
	assert.True(t, ok)
	assert.Equal(t, KindFunction, kind)

	kind, ok = KindFromString("widget")
	assert.False(t, ok)
	assert.Equal(t, KindUnclassified, kind)
}

func TestErrorsAreSentinels(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.GetNode("ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}
