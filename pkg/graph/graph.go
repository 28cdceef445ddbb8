package graph

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/muninn/pkg/proficiency"
)

// DefaultDedupCacheSize bounds the (nodeID, eventID) replay-protection cache.
// Old entries are evicted LRU-first, so a sufficiently ancient replay can
// double-count; bounded memory wins that tradeoff.
const DefaultDedupCacheSize = 8192

// Graph is a thread-safe in-memory knowledge graph for one user profile.
//
// Concurrency contract:
//   - All mutations (UpsertNode, RecordInteraction, AddDependency,
//     SetComplexity, PruneStale, Import) take the write lock, so callers that
//     funnel mutations through a single writer goroutine get strict
//     serialization for free, and callers that don't still get consistency.
//   - Read-only queries take the read lock and therefore observe either the
//     state before or after a prune sweep, never a partially-pruned graph.
//
// Performance Characteristics:
//   - Node lookup by ID: O(1)
//   - RecordInteraction: O(1) (counters only; proficiency is lazy)
//   - QueryWeakAreas: O(n log n) over recent nodes
//   - PruneStale: O(n + removed·degree)
//
// Example:
//
//	g := graph.New(proficiency.NewCalculator(proficiency.DefaultConfig()))
//	g.RecordInteraction("fn:Parse", graph.OutcomeFailure, time.Now(), "evt-9")
//	score, _ := g.Proficiency("fn:Parse", time.Now())
type Graph struct {
	mu   sync.RWMutex
	calc *proficiency.Calculator

	nodes    map[NodeID]*Node
	outgoing map[NodeID]map[NodeID]struct{}
	incoming map[NodeID]map[NodeID]struct{}

	// Replay protection for (nodeID, eventID) pairs. LRU-bounded so replays
	// cannot grow memory without limit.
	seen *lru.Cache[[32]byte, struct{}]

	edgeCount int64
}

// Option configures a Graph at construction time.
type Option func(*options)

type options struct {
	dedupCacheSize int
}

// WithDedupCacheSize overrides the size of the replay-protection cache.
func WithDedupCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.dedupCacheSize = n
		}
	}
}

// New creates an empty Graph for one user profile.
//
// calc must not be nil: weak-area queries and prune decisions are defined in
// terms of current proficiency, so the store cannot operate without a scoring
// function.
func New(calc *proficiency.Calculator, opts ...Option) *Graph {
	if calc == nil {
		panic("graph: nil proficiency calculator")
	}
	o := options{dedupCacheSize: DefaultDedupCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	// Only errors on non-positive size, which the option guards against.
	seen, _ := lru.New[[32]byte, struct{}](o.dedupCacheSize)
	return &Graph{
		calc:     calc,
		nodes:    make(map[NodeID]*Node),
		outgoing: make(map[NodeID]map[NodeID]struct{}),
		incoming: make(map[NodeID]map[NodeID]struct{}),
		seen:     seen,
	}
}

// UpsertNode creates the node if absent, and is a no-op on identity fields if
// it already exists. Idempotent by design: the event path calls this for
// every referenced concept without checking existence first.
//
// A created node starts with zero counters; the creating event's
// RecordInteraction immediately increments them.
func (g *Graph) UpsertNode(id NodeID, kind Kind, name string) error {
	if id == "" {
		return ErrInvalidID
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertLocked(id, kind, name)
	return nil
}

func (g *Graph) upsertLocked(id NodeID, kind Kind, name string) *Node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	if kind == "" {
		kind = KindUnclassified
	}
	if name == "" {
		name = string(id)
	}
	n := &Node{ID: id, Kind: kind, Name: name}
	g.nodes[id] = n
	return n
}

// RecordInteraction applies one interaction outcome to a node's counters.
//
// Behavior:
//   - Creates the node (KindUnclassified) if it does not exist yet.
//   - Increments Interactions, and Successes or Failures per the outcome.
//     Neutral outcomes touch Interactions only.
//   - Advances LastInteraction to max(current, timestamp): out-of-order
//     events are still counted but never move the timestamp backward.
//   - Deduplicates by (nodeID, eventID) when eventID is non-empty, so event
//     replays produce the same counters as a single delivery.
//
// Returns ErrInvalidID for an empty node id; never ErrNotFound.
func (g *Graph) RecordInteraction(id NodeID, outcome Outcome, timestamp time.Time, eventID string) error {
	if id == "" {
		return ErrInvalidID
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if eventID != "" {
		key := dedupKey(id, eventID)
		if _, dup := g.seen.Get(key); dup {
			return nil
		}
		g.seen.Add(key, struct{}{})
	}

	n := g.upsertLocked(id, KindUnclassified, "")
	n.Interactions++
	switch outcome {
	case OutcomeSuccess:
		n.Successes++
	case OutcomeFailure:
		n.Failures++
	}
	if timestamp.After(n.LastInteraction) {
		n.LastInteraction = timestamp
	}
	return nil
}

// SetComplexity records the analyzer-supplied complexity weight (0-1) for an
// existing node. Values outside [0, 1] are clamped.
func (g *Graph) SetComplexity(id NodeID, weight float64) error {
	if weight < 0 {
		weight = 0
	} else if weight > 1 {
		weight = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return ErrNotFound
	}
	n.ComplexityWeight = weight
	return nil
}

// AddDependency inserts the directed edge from → to. Idempotent; self-loops
// and cycles are permitted because code artifacts legitimately reference each
// other circularly. Both endpoints must already exist.
func (g *Graph) AddDependency(from, to NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return ErrNotFound
	}
	if _, ok := g.nodes[to]; !ok {
		return ErrNotFound
	}
	if g.outgoing[from] == nil {
		g.outgoing[from] = make(map[NodeID]struct{})
	}
	if _, exists := g.outgoing[from][to]; exists {
		return nil
	}
	g.outgoing[from][to] = struct{}{}
	if g.incoming[to] == nil {
		g.incoming[to] = make(map[NodeID]struct{})
	}
	g.incoming[to][from] = struct{}{}
	g.edgeCount++
	return nil
}

// GetNode returns a copy of the node, including a sorted snapshot of its
// outgoing dependency ids. The copy is safe to retain and mutate.
func (g *Graph) GetNode(id NodeID) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *n
	out.Dependencies = g.dependenciesLocked(id)
	return &out, nil
}

// HasNode reports whether the concept is currently present. Used by the
// unfamiliar-symbol detector as its read-only concept-identity probe.
func (g *Graph) HasNode(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Related reports whether two concepts share a dependency edge: a direct
// edge in either direction, or a common direct neighbor. Used by the
// context-switching detector to decide whether two focus targets are
// unrelated.
func (g *Graph) Related(a, b NodeID) bool {
	if a == b {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.hasEdgeLocked(a, b) || g.hasEdgeLocked(b, a) {
		return true
	}
	// Shared direct neighbor, in either direction.
	na := g.neighborsLocked(a)
	if len(na) == 0 {
		return false
	}
	for n := range g.neighborsLocked(b) {
		if _, ok := na[n]; ok {
			return true
		}
	}
	return false
}

func (g *Graph) hasEdgeLocked(from, to NodeID) bool {
	_, ok := g.outgoing[from][to]
	return ok
}

func (g *Graph) neighborsLocked(id NodeID) map[NodeID]struct{} {
	set := make(map[NodeID]struct{}, len(g.outgoing[id])+len(g.incoming[id]))
	for n := range g.outgoing[id] {
		set[n] = struct{}{}
	}
	for n := range g.incoming[id] {
		set[n] = struct{}{}
	}
	return set
}

// Dependencies returns the sorted outgoing dependency ids of a node.
func (g *Graph) Dependencies(id NodeID) ([]NodeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil, ErrNotFound
	}
	return g.dependenciesLocked(id), nil
}

func (g *Graph) dependenciesLocked(id NodeID) []NodeID {
	if len(g.outgoing[id]) == 0 {
		return nil
	}
	deps := make([]NodeID, 0, len(g.outgoing[id]))
	for to := range g.outgoing[id] {
		deps = append(deps, to)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	return deps
}

// Reachable returns every node reachable from id by following dependency
// edges, up to maxDepth hops (maxDepth ≤ 0 means unlimited). The traversal
// keeps a visited set, so cyclic and self-referencing structures terminate.
func (g *Graph) Reachable(id NodeID, maxDepth int) ([]NodeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil, ErrNotFound
	}

	visited := map[NodeID]struct{}{id: {}}
	var result []NodeID
	frontier := []NodeID{id}
	for depth := 0; len(frontier) > 0 && (maxDepth <= 0 || depth < maxDepth); depth++ {
		var next []NodeID
		for _, cur := range frontier {
			for to := range g.outgoing[cur] {
				if _, ok := visited[to]; ok {
					continue
				}
				visited[to] = struct{}{}
				result = append(result, to)
				next = append(next, to)
			}
		}
		frontier = next
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

// Proficiency computes the node's current 0-100 proficiency. Lazy by design:
// the score is derived from stored counters and now, never cached.
func (g *Graph) Proficiency(id NodeID, now time.Time) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return 0, ErrNotFound
	}
	return g.calc.Score(nodeStats(n), now), nil
}

// ProficiencyMap returns the proficiency of every node at the given instant.
// This is the read-only projection handed to analytics collaborators.
func (g *Graph) ProficiencyMap(now time.Time) map[NodeID]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m := make(map[NodeID]float64, len(g.nodes))
	for id, n := range g.nodes {
		m[id] = g.calc.Score(nodeStats(n), now)
	}
	return m
}

// QueryWeakAreas returns up to limit nodes interacted with within the last
// maxAgeDays, ordered ascending by current proficiency (weakest first).
// maxAgeDays ≤ 0 disables the age filter; limit ≤ 0 means no limit.
func (g *Graph) QueryWeakAreas(now time.Time, maxAgeDays int, limit int) []WeakArea {
	var cutoff time.Time
	if maxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -maxAgeDays)
	}

	g.mu.RLock()
	areas := make([]WeakArea, 0, len(g.nodes))
	for _, n := range g.nodes {
		if maxAgeDays > 0 && n.LastInteraction.Before(cutoff) {
			continue
		}
		areas = append(areas, WeakArea{
			ID:              n.ID,
			Kind:            n.Kind,
			Name:            n.Name,
			Proficiency:     g.calc.Score(nodeStats(n), now),
			LastInteraction: n.LastInteraction,
		})
	}
	g.mu.RUnlock()

	sort.Slice(areas, func(i, j int) bool {
		if areas[i].Proficiency != areas[j].Proficiency {
			return areas[i].Proficiency < areas[j].Proficiency
		}
		return areas[i].ID < areas[j].ID
	})
	if limit > 0 && len(areas) > limit {
		areas = areas[:limit]
	}
	return areas
}

// PruneStale atomically removes every node whose current proficiency is below
// minProficiency AND whose last interaction is older than maxAgeDays,
// together with all edges touching it. Returns the removed set for audit.
//
// The whole sweep holds the write lock, so concurrent readers observe either
// the pre-sweep or post-sweep graph and mutations queue behind it rather
// than being dropped. Pruning is irreversible.
func (g *Graph) PruneStale(now time.Time, minProficiency float64, maxAgeDays int) []PruneRecord {
	cutoff := now.AddDate(0, 0, -maxAgeDays)

	g.mu.Lock()
	defer g.mu.Unlock()

	var removed []PruneRecord
	for id, n := range g.nodes {
		if !n.LastInteraction.Before(cutoff) {
			continue
		}
		score := g.calc.Score(nodeStats(n), now)
		if score >= minProficiency {
			continue
		}
		removed = append(removed, PruneRecord{
			ID:              id,
			Kind:            n.Kind,
			Name:            n.Name,
			Proficiency:     score,
			LastInteraction: n.LastInteraction,
			AgeDays:         now.Sub(n.LastInteraction).Hours() / 24,
		})
		g.removeNodeLocked(id)
	}

	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

// removeNodeLocked deletes a node and every edge touching it. Tombstones are
// not kept: dangling edges to removed nodes must not exist afterwards.
func (g *Graph) removeNodeLocked(id NodeID) {
	for to := range g.outgoing[id] {
		delete(g.incoming[to], id)
		if len(g.incoming[to]) == 0 {
			delete(g.incoming, to)
		}
		g.edgeCount--
	}
	delete(g.outgoing, id)
	for from := range g.incoming[id] {
		// The self-loop case was already removed with outgoing above.
		if _, ok := g.outgoing[from][id]; ok {
			delete(g.outgoing[from], id)
			if len(g.outgoing[from]) == 0 {
				delete(g.outgoing, from)
			}
			g.edgeCount--
		}
	}
	delete(g.incoming, id)
	delete(g.nodes, id)
}

// NodeCount returns the number of nodes currently stored.
func (g *Graph) NodeCount() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return int64(len(g.nodes))
}

// EdgeCount returns the number of dependency edges currently stored.
func (g *Graph) EdgeCount() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgeCount
}

// Stats computes aggregate statistics for analytics surfaces.
func (g *Graph) Stats(now time.Time) Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		Nodes:  int64(len(g.nodes)),
		Edges:  g.edgeCount,
		ByKind: make(map[Kind]int64),
	}
	var total float64
	for _, n := range g.nodes {
		s.ByKind[n.Kind]++
		total += g.calc.Score(nodeStats(n), now)
	}
	if s.Nodes > 0 {
		s.MeanProficiency = total / float64(s.Nodes)
	}
	return s
}

// Export produces a self-contained snapshot of the graph for persistence.
func (g *Graph) Export() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := &Snapshot{
		ExportedAt: time.Now(),
		Nodes:      make([]Node, 0, len(g.nodes)),
	}
	for id, n := range g.nodes {
		out := *n
		out.Dependencies = nil
		snap.Nodes = append(snap.Nodes, out)
		for to := range g.outgoing[id] {
			snap.Edges = append(snap.Edges, Edge{From: id, To: to})
		}
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].From != snap.Edges[j].From {
			return snap.Edges[i].From < snap.Edges[j].From
		}
		return snap.Edges[i].To < snap.Edges[j].To
	})
	return snap
}

// Import replaces the graph's contents with a previously exported snapshot.
// Edges referencing nodes absent from the snapshot are skipped, preserving
// referential integrity. The dedup cache is not restored.
func (g *Graph) Import(snap *Snapshot) error {
	if snap == nil {
		return ErrInvalidID
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[NodeID]*Node, len(snap.Nodes))
	g.outgoing = make(map[NodeID]map[NodeID]struct{})
	g.incoming = make(map[NodeID]map[NodeID]struct{})
	g.edgeCount = 0

	for i := range snap.Nodes {
		n := snap.Nodes[i]
		if n.ID == "" {
			continue
		}
		n.Dependencies = nil
		copied := n
		g.nodes[n.ID] = &copied
	}
	for _, e := range snap.Edges {
		if _, ok := g.nodes[e.From]; !ok {
			continue
		}
		if _, ok := g.nodes[e.To]; !ok {
			continue
		}
		if g.outgoing[e.From] == nil {
			g.outgoing[e.From] = make(map[NodeID]struct{})
		}
		if _, dup := g.outgoing[e.From][e.To]; dup {
			continue
		}
		g.outgoing[e.From][e.To] = struct{}{}
		if g.incoming[e.To] == nil {
			g.incoming[e.To] = make(map[NodeID]struct{})
		}
		g.incoming[e.To][e.From] = struct{}{}
		g.edgeCount++
	}
	return nil
}

// nodeStats projects a node's counters into the calculator's input form.
func nodeStats(n *Node) proficiency.Stats {
	return proficiency.Stats{
		Interactions:     n.Interactions,
		Successes:        n.Successes,
		Failures:         n.Failures,
		LastInteraction:  n.LastInteraction,
		ComplexityWeight: n.ComplexityWeight,
	}
}

// dedupKey derives a fixed-size replay-protection key from a (nodeID,
// eventID) pair. blake2b keeps the key compact and collision-resistant
// regardless of identifier length.
func dedupKey(id NodeID, eventID string) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(eventID))
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}
