package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orneryd/muninn/pkg/graph"
)

func edit(id string, at time.Time) Event {
	return Event{
		ID:        "evt-" + id + at.Format("150405"),
		Type:      TypeEdit,
		Timestamp: at,
		Nodes:     []NodeRef{{ID: graph.NodeID(id)}},
	}
}

func TestEventNodeIDs(t *testing.T) {
	ev := Event{Nodes: []NodeRef{{ID: "a"}, {ID: "b"}}}
	assert.Equal(t, []graph.NodeID{"a", "b"}, ev.NodeIDs())

	assert.Empty(t, Event{}.NodeIDs())
}

func TestWindowAppend(t *testing.T) {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	t.Run("retains events inside the lookback", func(t *testing.T) {
		w := NewWindow(5*time.Minute, 100)
		w.Append(edit("a", base))
		w.Append(edit("b", base.Add(time.Minute)))
		assert.Equal(t, 2, w.Len())
	})

	t.Run("evicts events older than the lookback", func(t *testing.T) {
		w := NewWindow(5*time.Minute, 100)
		w.Append(edit("a", base))
		w.Append(edit("b", base.Add(6*time.Minute)))

		snap := w.Snapshot()
		assert.Len(t, snap, 1)
		assert.Equal(t, graph.NodeID("b"), snap[0].Nodes[0].ID)
	})

	t.Run("enforces the count cap oldest-first", func(t *testing.T) {
		w := NewWindow(time.Hour, 3)
		for i := 0; i < 5; i++ {
			w.Append(edit("n", base.Add(time.Duration(i)*time.Second)))
		}
		assert.Equal(t, 3, w.Len())
		snap := w.Snapshot()
		assert.Equal(t, base.Add(2*time.Second), snap[0].Timestamp)
	})
}

func TestWindowSnapshotIsACopy(t *testing.T) {
	w := NewWindow(time.Hour, 10)
	base := time.Now()
	w.Append(edit("a", base))

	snap := w.Snapshot()
	snap[0].Nodes = nil // mutating the snapshot must not touch the window

	again := w.Snapshot()
	assert.NotNil(t, again[0].Nodes)
}

func TestNewWindowFallbacks(t *testing.T) {
	w := NewWindow(0, 0)
	assert.NotNil(t, w)
	// An append works with defaulted bounds.
	w.Append(edit("a", time.Now()))
	assert.Equal(t, 1, w.Len())
}
