// Package events defines the normalized user-event model consumed by Muninn
// and the bounded rolling window the signal detectors evaluate.
//
// Events are produced by the external editor-integration collector, already
// normalized and already filtered against the sensitive-path exclusion list.
// Once ingested they are treated as immutable.
//
// The Window is both time-bounded (a look-back horizon, default 10 minutes)
// and count-bounded (a hard cap) so recent-history state can never grow
// without limit, no matter how fast events arrive.
package events

import (
	"time"

	"github.com/orneryd/muninn/pkg/graph"
)

// Type classifies a normalized user event.
type Type string

const (
	// TypeEdit is a buffer modification touching one or more concepts.
	TypeEdit Type = "edit"
	// TypeDwell is a measured pause on an open file with no keystrokes.
	// Duration carries the dwell time; the collector only reports dwell for
	// files that remain open.
	TypeDwell Type = "dwell"
	// TypeDiagnostic is a compiler/linter error surfacing at Location.
	TypeDiagnostic Type = "diagnostic"
	// TypeSearch is a search or documentation query; Query carries the text.
	TypeSearch Type = "search"
	// TypeFileSwitch is a focus change to the file concept in Nodes.
	TypeFileSwitch Type = "file_switch"
)

// NodeRef names one concept implicated by an event, with the collector's
// kind/name hints used for implicit node creation.
type NodeRef struct {
	ID   graph.NodeID `json:"id"`
	Kind string       `json:"kind,omitempty"`
	Name string       `json:"name,omitempty"`
}

// Event is one normalized developer-interaction event.
//
// ID is used for (nodeID, eventID) replay dedup in the store; collectors
// that cannot supply one get a generated UUID at ingest. Immutable once
// ingested.
type Event struct {
	ID        string        `json:"id"`
	Type      Type          `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Nodes     []NodeRef     `json:"nodes"`
	Outcome   graph.Outcome `json:"outcome,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`

	// Location is a stable diagnostic/location key (file:line or diagnostic
	// code) for error-cycle tracking. Only meaningful on diagnostics.
	Location string `json:"location,omitempty"`

	// Query is the raw search text. Only meaningful on searches.
	Query string `json:"query,omitempty"`
}

// NodeIDs returns the ids of every concept the event implicates.
func (e Event) NodeIDs() []graph.NodeID {
	ids := make([]graph.NodeID, 0, len(e.Nodes))
	for _, n := range e.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Window is a bounded rolling window of recent events.
//
// Not safe for concurrent use on its own; the engine's single writer owns it
// and hands immutable snapshots to the detectors.
type Window struct {
	lookback time.Duration
	maxCount int
	buf      []Event
}

// Default window bounds.
const (
	DefaultLookback = 10 * time.Minute
	DefaultMaxCount = 2048
)

// NewWindow creates a rolling window with the given look-back horizon and
// count cap. Non-positive arguments fall back to the defaults.
func NewWindow(lookback time.Duration, maxCount int) *Window {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	return &Window{lookback: lookback, maxCount: maxCount}
}

// Append adds an event and evicts anything outside the window bounds.
// Events older than the look-back relative to the newest event are dropped,
// then the count cap is enforced oldest-first.
func (w *Window) Append(ev Event) {
	w.buf = append(w.buf, ev)
	w.evict(ev.Timestamp)
}

// evict drops events older than the look-back horizon and enforces maxCount.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.lookback)
	start := 0
	for start < len(w.buf) && w.buf[start].Timestamp.Before(cutoff) {
		start++
	}
	if over := len(w.buf) - start - w.maxCount; over > 0 {
		start += over
	}
	if start > 0 {
		w.buf = append(w.buf[:0], w.buf[start:]...)
	}
}

// Snapshot returns a copy of the window contents in arrival order. The copy
// is immutable from the window's point of view, so detector goroutines can
// share it without locking.
func (w *Window) Snapshot() []Event {
	out := make([]Event, len(w.buf))
	copy(out, w.buf)
	return out
}

// Len returns the number of events currently in the window.
func (w *Window) Len() int {
	return len(w.buf)
}
