// Package graph implements the per-user knowledge graph store for Muninn.
//
// The store owns every KnowledgeNode and every dependency edge for one user
// profile. A node represents one trackable concept - a file, function, class,
// pattern, or library - and accumulates interaction counters that the
// proficiency calculator turns into a 0-100 mastery estimate on demand.
//
// Design Principles:
//   - Exclusive ownership: external components receive read-only copies and
//     projections (proficiency maps, weak-area lists), never live pointers.
//   - Identifier-keyed edges: cyclic concept dependencies are stored in an
//     owned arena + index, never as direct cross-referencing object links.
//   - Bounded memory: event dedup is an LRU cache, and the maintenance sweep
//     prunes nodes that are both stale and low-proficiency.
//   - Explicit instantiation: one Graph per user profile, passed by reference
//     into every component. No process-wide singleton.
//
// Example Usage:
//
//	calc := proficiency.NewCalculator(proficiency.DefaultConfig())
//	g := graph.New(calc)
//
//	g.UpsertNode("file:auth.go", graph.KindFile, "auth.go")
//	g.RecordInteraction("file:auth.go", graph.OutcomeSuccess, time.Now(), "evt-1")
//	g.AddDependency("file:auth.go", "lib:jwt")
//
//	weak := g.QueryWeakAreas(time.Now(), 14, 10)
//	for _, w := range weak {
//		fmt.Printf("%s: %.1f\n", w.Name, w.Proficiency)
//	}
//
// ELI12 (Explain Like I'm 12):
//
// Imagine a map of everything you've ever touched in a codebase, where every
// file and function is a sticker on a board, and strings connect stickers
// that depend on each other. Every time you work on something, its sticker
// gets a tally mark (and a gold star if it went well). Stickers you haven't
// touched in a month and never really learned get quietly taken off the
// board so it doesn't overflow.
package graph

import (
	"errors"
	"time"
)

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when an operation references a node that is
	// not present in the store. Only UpsertNode and RecordInteraction create
	// implicitly; every other mutation requires an existing node.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidID is returned for empty node identifiers.
	ErrInvalidID = errors.New("invalid node id")
)

// NodeID is a strongly-typed unique identifier for concept nodes.
//
// Identifiers are unique within one user's graph. Using a custom type keeps
// node ids from being confused with event ids or free-form strings at API
// boundaries.
type NodeID string

// Kind classifies what a concept node represents.
type Kind string

const (
	KindFile     Kind = "file"
	KindFunction Kind = "function"
	KindClass    Kind = "class"
	KindPattern  Kind = "pattern"
	KindLibrary  Kind = "library"

	// KindUnclassified is assigned to events referencing a concept kind the
	// store does not recognize. Accepting them keeps the event path lossless;
	// the caller logs the anomaly.
	KindUnclassified Kind = "unclassified"
)

// KindFromString maps a collector-supplied kind string onto a Kind.
//
// Unknown strings map to KindUnclassified with ok=false so the caller can
// record the anomaly without rejecting the event.
func KindFromString(s string) (kind Kind, ok bool) {
	switch Kind(s) {
	case KindFile, KindFunction, KindClass, KindPattern, KindLibrary:
		return Kind(s), true
	case KindUnclassified:
		return KindUnclassified, true
	default:
		return KindUnclassified, false
	}
}

// Outcome is the result of one user interaction with a concept.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNeutral Outcome = "neutral"
)

// Node is the read-only projection of one concept node.
//
// Invariants maintained by the store:
//   - ID is unique within the graph
//   - Successes + Failures ≤ Interactions (neutral outcomes count toward
//     Interactions only)
//   - LastInteraction never moves backward, even for out-of-order events
//   - Every entry in Dependencies refers to a node currently in the store
//
// Node values returned by the store are copies; mutating them has no effect
// on the graph.
type Node struct {
	ID               NodeID    `json:"id"`
	Kind             Kind      `json:"kind"`
	Name             string    `json:"name"`
	Interactions     int64     `json:"interactions"`
	Successes        int64     `json:"successes"`
	Failures         int64     `json:"failures"`
	LastInteraction  time.Time `json:"lastInteraction"`
	ComplexityWeight float64   `json:"complexityWeight"`
	Dependencies     []NodeID  `json:"dependencies,omitempty"`
}

// WeakArea is one entry of a weak-area query result: a recently touched node
// with its current proficiency.
type WeakArea struct {
	ID              NodeID    `json:"id"`
	Kind            Kind      `json:"kind"`
	Name            string    `json:"name"`
	Proficiency     float64   `json:"proficiency"`
	LastInteraction time.Time `json:"lastInteraction"`
}

// PruneRecord is the audit projection of one pruned node: its identity, the
// proficiency it was removed at, and how stale it was. Returned by PruneStale
// and written to the pruning audit log.
type PruneRecord struct {
	ID              NodeID    `json:"id"`
	Kind            Kind      `json:"kind"`
	Name            string    `json:"name"`
	Proficiency     float64   `json:"proficiency"`
	LastInteraction time.Time `json:"lastInteraction"`
	AgeDays         float64   `json:"ageDays"`
}

// Edge is one directed dependency edge in an exported snapshot.
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// Snapshot is a self-contained export of one profile's graph, suitable for
// JSON serialization and re-import. The dedup cache is deliberately not part
// of a snapshot; replay protection is a runtime concern.
type Snapshot struct {
	ExportedAt time.Time `json:"exportedAt"`
	Nodes      []Node    `json:"nodes"`
	Edges      []Edge    `json:"edges"`
}

// Stats holds aggregate statistics over one profile's graph, exposed
// read-only for analytics and reporting collaborators.
type Stats struct {
	Nodes           int64          `json:"nodes"`
	Edges           int64          `json:"edges"`
	ByKind          map[Kind]int64 `json:"byKind"`
	MeanProficiency float64        `json:"meanProficiency"`
}
