// Package signals implements Muninn's struggle-signal detectors.
//
// A struggle signal is one weak, independently computed indicator that the
// user is having difficulty: repeated edits to the same spot, a long pause,
// cycling on the same error, frantic searching, or rapid switching between
// unrelated concepts. No single signal is trusted on its own; the struggle
// aggregator combines them into a calibrated decision.
//
// Every detector is a pure function over an immutable snapshot of the recent
// event window. Detectors hold no mutable state and never touch the
// knowledge graph beyond two read-only concept-identity probes (known-concept
// lookup and relatedness) injected at construction. That purity is what lets
// the evaluator run all detectors concurrently against the same snapshot and
// treat any failure or timeout as "signal absent" for the cycle instead of an
// error.
//
// Signals are ephemeral: recomputed each evaluation, never persisted.
package signals

import (
	"time"

	"github.com/orneryd/muninn/pkg/events"
	"github.com/orneryd/muninn/pkg/graph"
)

// Type identifies one of the five struggle-signal kinds.
type Type string

const (
	TypeRepeatedEdits    Type = "repeated_edits"
	TypeLongPause        Type = "long_pause"
	TypeErrorCycle       Type = "error_cycle"
	TypeFrequentSearch   Type = "frequent_search"
	TypeContextSwitching Type = "context_switching"
)

// Signal is one detected struggle indicator.
type Signal struct {
	Type Type `json:"type"`

	// Confidence in [0, 1], per the detector's documented formula.
	Confidence float64 `json:"confidence"`

	// Nodes are the concepts implicated by the signal.
	Nodes []graph.NodeID `json:"nodes"`

	// Measurement is the raw value that produced the signal (edit count,
	// dwell seconds, cycle count, switch count).
	Measurement float64 `json:"measurement"`
}

// Detector evaluates one signal kind over a window snapshot.
//
// Detect must be a pure function of (window, now): no side effects, no
// shared mutable state. It may return zero signals (nothing detected),
// several signals (one per implicated concept), or an error, which the
// evaluator converts to "signal absent".
type Detector interface {
	Type() Type
	Detect(window []events.Event, now time.Time) ([]Signal, error)
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
