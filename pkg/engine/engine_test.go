package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/orneryd/muninn/pkg/events"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/signals"
	"github.com/orneryd/muninn/pkg/struggle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func editAt(id string, node graph.NodeID, at time.Time, outcome graph.Outcome) events.Event {
	return events.Event{
		ID:        id,
		Type:      events.TypeEdit,
		Timestamp: at,
		Outcome:   outcome,
		Nodes:     []events.NodeRef{{ID: node, Kind: "function", Name: string(node)}},
	}
}

// hairTrigger returns an aggregator config that raises on any signal, so
// pipeline tests do not need to stage all five detectors.
func hairTrigger() struggle.Config {
	cfg := struggle.DefaultConfig()
	cfg.BaseThreshold = 0.01
	return cfg
}

func TestEngineAppliesEventsToGraph(t *testing.T) {
	eng := New(Config{BatchWindow: 5 * time.Millisecond})
	eng.Start(context.Background())

	now := time.Now()
	eng.Ingest(editAt("e1", "fn:Parse", now, graph.OutcomeFailure))
	eng.Ingest(editAt("e2", "fn:Parse", now.Add(time.Second), graph.OutcomeSuccess))
	eng.Stop()

	n, err := eng.Graph().GetNode("fn:Parse")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.Interactions)
	assert.Equal(t, int64(1), n.Successes)
	assert.Equal(t, int64(1), n.Failures)
	assert.Equal(t, graph.KindFunction, n.Kind)
}

func TestEngineCountsNeutralInteractions(t *testing.T) {
	eng := New(Config{BatchWindow: 5 * time.Millisecond})
	eng.Start(context.Background())

	// A plain edit carries no outcome yet still counts as contact with the
	// concept: frequency and recency must move even when nothing concluded.
	now := time.Now()
	eng.Ingest(editAt("e1", "fn:Walk", now, graph.OutcomeNeutral))
	eng.Ingest(editAt("e2", "fn:Walk", now.Add(time.Second), ""))
	eng.Stop()

	n, err := eng.Graph().GetNode("fn:Walk")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.Interactions)
	assert.Zero(t, n.Successes)
	assert.Zero(t, n.Failures)
	assert.True(t, n.LastInteraction.Equal(now.Add(time.Second)))
}

func TestEngineDeduplicatesReplayedEvents(t *testing.T) {
	eng := New(Config{BatchWindow: 5 * time.Millisecond})
	eng.Start(context.Background())

	now := time.Now()
	for i := 0; i < 4; i++ {
		eng.Ingest(editAt("same-event", "n", now, graph.OutcomeSuccess))
	}
	eng.Stop()

	n, err := eng.Graph().GetNode("n")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Interactions, "replays must not double-count")
}

func TestEngineRaisesDecision(t *testing.T) {
	eng := New(Config{BatchWindow: 5 * time.Millisecond},
		WithAggregator(struggle.NewAggregator(hairTrigger(), nil)))
	eng.Start(context.Background())

	// 4 edits to one node inside 5 minutes: repeated_edits fires.
	now := time.Now()
	for i := 0; i < 4; i++ {
		eng.Ingest(editAt(string(rune('a'+i)), "fn:Busy", now.Add(time.Duration(i)*time.Second), graph.OutcomeFailure))
	}
	eng.Stop()

	var decisions []*struggle.Decision
	for dec := range eng.Decisions() {
		decisions = append(decisions, dec)
	}
	require.NotEmpty(t, decisions)
	assert.Equal(t, graph.NodeID("fn:Busy"), decisions[0].Node)
	assert.Greater(t, decisions[0].Score, 0.0)
}

func searchFor(id string, node graph.NodeID, at time.Time) events.Event {
	return events.Event{
		ID:        id,
		Type:      events.TypeSearch,
		Timestamp: at,
		Query:     string(node),
		Nodes:     []events.NodeRef{{ID: node, Kind: "function", Name: string(node)}},
	}
}

func TestEngineFlagsSearchesForUnknownSymbols(t *testing.T) {
	eng := New(Config{BatchWindow: 5 * time.Millisecond},
		WithAggregator(struggle.NewAggregator(hairTrigger(), nil)))
	eng.Start(context.Background())

	require.False(t, eng.Graph().HasNode("fn:Obscure"))
	eng.Ingest(searchFor("s1", "fn:Obscure", time.Now()))
	eng.Stop()

	var decisions []*struggle.Decision
	for dec := range eng.Decisions() {
		decisions = append(decisions, dec)
	}
	require.NotEmpty(t, decisions, "searching an unknown symbol must surface frequent_search")
	var types []signals.Type
	for _, sig := range decisions[0].Signals {
		types = append(types, sig.Type)
	}
	assert.Contains(t, types, signals.TypeFrequentSearch)

	// The search itself must not record the symbol; only a real interaction
	// (edit, diagnostic) makes it known.
	assert.False(t, eng.Graph().HasNode("fn:Obscure"))
}

func TestEngineDiscardsExpiredDecisions(t *testing.T) {
	cfg := hairTrigger()
	cfg.DecisionTTL = time.Nanosecond // everything expires before delivery
	eng := New(Config{BatchWindow: 5 * time.Millisecond},
		WithAggregator(struggle.NewAggregator(cfg, nil)))
	eng.Start(context.Background())

	now := time.Now()
	for i := 0; i < 4; i++ {
		eng.Ingest(editAt(string(rune('a'+i)), "n", now.Add(time.Duration(i)*time.Second), graph.OutcomeFailure))
	}
	eng.Stop()

	var delivered int
	for range eng.Decisions() {
		delivered++
	}
	assert.Zero(t, delivered, "expired decisions must be discarded, not delivered")
}

func TestEngineDeliverFunc(t *testing.T) {
	got := make(chan *struggle.Decision, 8)
	eng := New(Config{BatchWindow: 5 * time.Millisecond},
		WithAggregator(struggle.NewAggregator(hairTrigger(), nil)),
		WithDeliver(func(d *struggle.Decision) { got <- d }))
	eng.Start(context.Background())

	now := time.Now()
	for i := 0; i < 5; i++ {
		eng.Ingest(editAt(string(rune('a'+i)), "n", now.Add(time.Duration(i)*time.Second), graph.OutcomeFailure))
	}
	eng.Stop()
	close(got)

	var count int
	for range got {
		count++
	}
	assert.GreaterOrEqual(t, count, 1)
}

func TestEngineQueuedOps(t *testing.T) {
	eng := New(Config{BatchWindow: 5 * time.Millisecond})
	eng.Start(context.Background())

	now := time.Now()
	eng.Ingest(editAt("e1", "a", now, graph.OutcomeSuccess))
	eng.Ingest(editAt("e2", "b", now, graph.OutcomeSuccess))

	// Let the batch land the nodes before the edge references them.
	require.Eventually(t, func() bool {
		return eng.Graph().HasNode("a") && eng.Graph().HasNode("b")
	}, time.Second, 5*time.Millisecond)

	eng.AddDependency("a", "b")
	eng.SetComplexity("a", 0.6)
	eng.Stop()

	assert.True(t, eng.Graph().Related("a", "b"))
	n, err := eng.Graph().GetNode("a")
	require.NoError(t, err)
	assert.Equal(t, 0.6, n.ComplexityWeight)
}

func TestEngineOpsOverflowBeforeStart(t *testing.T) {
	eng := New(Config{BatchWindow: time.Hour})
	g := eng.Graph()
	require.NoError(t, g.UpsertNode("a", graph.KindFunction, "a"))
	require.NoError(t, g.UpsertNode("b", graph.KindFunction, "b"))

	// Fill the op queue, then overflow it: with no writer loop running the
	// overflowing op is applied by the caller instead of being lost.
	for i := 0; i < opsQueueDepth; i++ {
		eng.SetComplexity("a", 0.5)
	}
	eng.AddDependency("a", "b")
	assert.True(t, g.Related("a", "b"))

	// The queued ops land once the writer loop runs.
	eng.Start(context.Background())
	eng.Stop()
	n, err := g.GetNode("a")
	require.NoError(t, err)
	assert.Equal(t, 0.5, n.ComplexityWeight)
}

func TestEngineEventsBeforeStopAreNotLost(t *testing.T) {
	// Ingest and stop immediately: the final drain must still process the
	// buffered events.
	eng := New(Config{BatchWindow: time.Hour}) // ticker never fires
	eng.Start(context.Background())

	now := time.Now()
	eng.Ingest(editAt("e1", "n", now, graph.OutcomeSuccess))
	eng.Stop()

	assert.True(t, eng.Graph().HasNode("n"))
}

func TestEngineStartStopIdempotent(t *testing.T) {
	eng := New(Config{})
	eng.Start(context.Background())
	eng.Start(context.Background()) // no-op
	eng.Stop()
	eng.Stop() // no-op
}

func TestEngineStopWithoutStart(t *testing.T) {
	eng := New(Config{})
	eng.Stop() // must not panic or block
}

func TestEngineDropOldestUnderBurst(t *testing.T) {
	// Buffer of 8 with a slow ticker: a burst of 20 keeps only the last 8.
	eng := New(Config{BufferCapacity: 8, BatchWindow: time.Hour})
	eng.Start(context.Background())

	now := time.Now()
	for i := 0; i < 20; i++ {
		eng.Ingest(editAt(string(rune('a'+i)), graph.NodeID(rune('a'+i)), now, graph.OutcomeSuccess))
	}
	eng.Stop()

	assert.Equal(t, int64(8), eng.Graph().NodeCount())
	assert.False(t, eng.Graph().HasNode("a"), "oldest events are the ones dropped")
	assert.True(t, eng.Graph().HasNode(graph.NodeID(rune('a'+19))))
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10000, cfg.BufferCapacity)
	assert.Equal(t, 100*time.Millisecond, cfg.BatchWindow)
}
