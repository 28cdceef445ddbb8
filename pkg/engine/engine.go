// Package engine orchestrates the full pipeline: event ingestion, graph
// updates, signal detection, struggle aggregation, decision delivery, and
// periodic maintenance sweeps.
//
// Architecture:
//
//	producers -> Ingest() -> bounded ring buffer (drop-oldest)
//	                              |
//	                   writer loop (single goroutine)
//	          every batch window: drain -> update graph -> append window
//	                 -> run detectors -> aggregate -> decision queue
//	          every sweep interval: prune stale nodes (between batches)
//	                              |
//	               delivery goroutine -> Decisions() / DeliverFunc
//
// All graph mutations flow through the writer loop, so per-profile updates
// are strictly ordered without fine-grained coordination. Reads (weak-area
// queries, snapshots, proficiency lookups) take the graph's read lock
// directly and may run concurrently with ingestion; they observe the state
// as of the last completed batch.
//
// Ingest never blocks the producer: when the buffer is full the OLDEST
// pending event is discarded and a drop counter incremented. Losing a stale
// event under burst load costs a little signal fidelity; stalling the
// caller's editor would cost the user.
//
// ELI12 (Explain Like I'm 12):
//
// Imagine a mail room with one sorter. Letters pile into a tray that holds
// 10,000 at most - when it overflows, the oldest unread letter goes in the
// bin, because week-old news is worth less than today's. Every tenth of a
// second the sorter empties the tray, files everything, and checks whether
// anyone looks stuck. Once an hour they also clean out the dead files.
// Nobody else ever touches the filing cabinet while the sorter works.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/events"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/maintenance"
	"github.com/orneryd/muninn/pkg/proficiency"
	"github.com/orneryd/muninn/pkg/signals"
	"github.com/orneryd/muninn/pkg/struggle"
)

// Defaults for the ingestion pipeline.
const (
	DefaultBufferCapacity  = 10000
	DefaultBatchWindow     = 100 * time.Millisecond
	DefaultDecisionBacklog = 64

	// opsQueueDepth buffers out-of-band graph operations (dependency edges,
	// complexity updates) awaiting the writer loop.
	opsQueueDepth = 64
)

// Config controls the pipeline's buffering and cadence. Component tuning
// (proficiency weights, signal thresholds, aggregation weights) lives with
// the components themselves; inject configured instances via Options.
type Config struct {
	// BufferCapacity bounds the ingest ring buffer. When full, the oldest
	// pending event is dropped to admit the newest.
	BufferCapacity int `yaml:"buffer_capacity"`

	// BatchWindow is the writer loop's drain cadence.
	BatchWindow time.Duration `yaml:"batch_window"`

	// DecisionBacklog bounds the delivered-decision channel.
	DecisionBacklog int `yaml:"decision_backlog"`
}

// DefaultConfig returns the documented defaults: 10,000-event buffer,
// 100ms batch windows.
func DefaultConfig() Config {
	return Config{
		BufferCapacity:  DefaultBufferCapacity,
		BatchWindow:     DefaultBatchWindow,
		DecisionBacklog: DefaultDecisionBacklog,
	}
}

// DeliverFunc receives intervention decisions that survived the validity
// check. It runs on the delivery goroutine, never the writer loop, so a
// slow consumer delays other decisions but never event processing.
type DeliverFunc func(*struggle.Decision)

// Option customizes an Engine.
type Option func(*Engine)

// WithGraph injects a pre-built (possibly pre-loaded) graph.
func WithGraph(g *graph.Graph) Option {
	return func(e *Engine) { e.graph = g }
}

// WithAggregator injects a configured struggle aggregator.
func WithAggregator(a *struggle.Aggregator) Option {
	return func(e *Engine) { e.agg = a }
}

// WithSweeper enables periodic maintenance sweeps.
func WithSweeper(s *maintenance.Sweeper) Option {
	return func(e *Engine) { e.sweeper = s }
}

// WithDeliver installs a decision callback instead of the Decisions channel.
func WithDeliver(fn DeliverFunc) Option {
	return func(e *Engine) { e.deliver = fn }
}

// WithLogger sets the structured logger (default zap.NewNop).
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegistry sets the Prometheus registerer for engine metrics
// (default: a private registry, i.e. metrics collected but not exported).
func WithRegistry(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registry = reg }
}

// WithWindow injects a custom event window (lookback / size bounds).
func WithWindow(w *events.Window) Option {
	return func(e *Engine) { e.window = w }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the single-writer pipeline coordinator. Create with New,
// start with Start, feed with Ingest, stop with Stop.
type Engine struct {
	config   Config
	graph    *graph.Graph
	window   *events.Window
	eval     *signals.Evaluator
	agg      *struggle.Aggregator
	sweeper  *maintenance.Sweeper
	deliver  DeliverFunc
	logger   *zap.Logger
	registry prometheus.Registerer
	metrics  *Metrics
	now      func() time.Time

	buffer *ringBuffer

	pending   chan *struggle.Decision
	decisions chan *struggle.Decision
	ops       chan func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New assembles an Engine. Zero-valued config fields fall back to
// defaults; components not injected via Options are built with their
// package defaults (a fresh graph, the five standard detectors wired to
// that graph, a balanced-frequency aggregator, no sweeper).
func New(config Config, opts ...Option) *Engine {
	if config.BufferCapacity <= 0 {
		config.BufferCapacity = DefaultBufferCapacity
	}
	if config.BatchWindow <= 0 {
		config.BatchWindow = DefaultBatchWindow
	}
	if config.DecisionBacklog <= 0 {
		config.DecisionBacklog = DefaultDecisionBacklog
	}

	e := &Engine{
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	if e.graph == nil {
		e.graph = graph.New(proficiency.NewCalculator(proficiency.DefaultConfig()))
	}
	if e.window == nil {
		e.window = events.NewWindow(events.DefaultLookback, events.DefaultMaxCount)
	}
	if e.eval == nil {
		e.eval = signals.NewEvaluator(defaultDetectors(e.graph), signals.DefaultDetectorTimeout, e.logger)
	}
	if e.agg == nil {
		e.agg = struggle.NewAggregator(struggle.DefaultConfig(), e.logger)
	}
	e.metrics = NewMetrics(e.registry)
	e.buffer = newRingBuffer(config.BufferCapacity)
	e.pending = make(chan *struggle.Decision, config.DecisionBacklog)
	e.decisions = make(chan *struggle.Decision, config.DecisionBacklog)
	e.ops = make(chan func(), opsQueueDepth)
	return e
}

// defaultDetectors wires the five standard detectors against g: symbol
// familiarity comes from graph membership and concept relatedness from
// graph adjacency.
func defaultDetectors(g *graph.Graph) []signals.Detector {
	return []signals.Detector{
		signals.NewRepeatedEdits(),
		signals.NewLongPause(),
		signals.NewErrorCycle(),
		signals.NewFrequentSearch(g.HasNode),
		signals.NewContextSwitching(g.Related),
	}
}

// Graph exposes the underlying graph for concurrent reads (weak areas,
// snapshots, proficiency queries). Mutations must go through the engine.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Decisions is the delivered-decision stream when no DeliverFunc was
// installed. Decisions on this channel already passed the validity check
// at delivery time; a consumer that buffers them further should re-check
// Expired before acting. Closed by Stop.
func (e *Engine) Decisions() <-chan *struggle.Decision {
	return e.decisions
}

// Start launches the writer loop and the delivery goroutine. Returns
// immediately. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go e.writerLoop()
	go e.deliveryLoop()
	e.logger.Info("engine started",
		zap.Int("buffer_capacity", e.config.BufferCapacity),
		zap.Duration("batch_window", e.config.BatchWindow))
}

// Stop shuts the pipeline down: the writer loop drains and processes any
// buffered events in one final batch, then the delivery goroutine drains
// remaining decisions, then both exit. Safe to call once after Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	close(e.decisions)
	e.logger.Info("engine stopped")
}

// Ingest offers an event to the pipeline without blocking. If the buffer
// is full the oldest pending event is discarded. Events ingested after
// Stop are silently dropped.
func (e *Engine) Ingest(ev events.Event) {
	dropped := e.buffer.push(ev)
	e.metrics.EventsIngested.Inc()
	if dropped {
		e.metrics.EventsDropped.Inc()
	}
}

// AddDependency enqueues a dependency edge insertion. The edge is applied
// by the writer loop between batches, keeping the single-writer ordering;
// failures (unknown endpoints) are logged, not returned.
func (e *Engine) AddDependency(from, to graph.NodeID) {
	e.enqueueOp(func() {
		if err := e.graph.AddDependency(from, to); err != nil {
			e.logger.Warn("add dependency failed",
				zap.String("from", string(from)),
				zap.String("to", string(to)),
				zap.Error(err))
		}
	})
}

// SetComplexity enqueues a complexity-weight update for a concept.
func (e *Engine) SetComplexity(id graph.NodeID, weight float64) {
	e.enqueueOp(func() {
		if err := e.graph.SetComplexity(id, weight); err != nil {
			e.logger.Warn("set complexity failed",
				zap.String("node", string(id)),
				zap.Error(err))
		}
	})
}

func (e *Engine) enqueueOp(fn func()) {
	select {
	case e.ops <- fn:
		return
	default:
	}

	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		// Start was never called: there is no writer loop to hand off to,
		// so the caller is the only writer.
		fn()
		return
	}
	// Queue full: wait for the writer loop to catch up rather than mutate
	// from this goroutine, keeping every graph write on the writer loop.
	select {
	case e.ops <- fn:
	case <-ctx.Done():
		e.logger.Warn("graph operation dropped during shutdown")
	}
}

// writerLoop is the single mutation path: it owns the event window and is
// the only goroutine that applies events to the graph.
func (e *Engine) writerLoop() {
	defer e.wg.Done()

	batch := time.NewTicker(e.config.BatchWindow)
	defer batch.Stop()

	var sweep <-chan time.Time
	if e.sweeper != nil {
		t := time.NewTicker(e.sweeper.Interval())
		defer t.Stop()
		sweep = t.C
	}

	for {
		select {
		case <-e.ctx.Done():
			// Final drain so events accepted before Stop are not lost. The
			// loop context is already cancelled, so detection runs against a
			// fresh one to avoid spurious timeouts.
			e.processBatch(context.Background())
			e.drainOps()
			close(e.pending)
			return
		case <-batch.C:
			e.processBatch(e.ctx)
		case <-sweep:
			removed := e.sweeper.Sweep(e.graph, e.now())
			e.metrics.PrunedNodes.Add(float64(len(removed)))
		case fn := <-e.ops:
			fn()
		}
	}
}

// drainOps applies any queued graph operations. Called on shutdown so
// mutations accepted before Stop are not lost.
func (e *Engine) drainOps() {
	for {
		select {
		case fn := <-e.ops:
			fn()
		default:
			return
		}
	}
}

// processBatch drains the buffer, applies every event to the graph and the
// sliding window, then runs detection and aggregation over the window.
func (e *Engine) processBatch(ctx context.Context) {
	drained := e.buffer.drain()
	if len(drained) == 0 {
		return
	}
	e.metrics.Batches.Inc()
	e.metrics.BatchSize.Observe(float64(len(drained)))

	now := e.now()
	for _, ev := range drained {
		e.applyEvent(ev)
	}

	sigs := e.eval.Evaluate(ctx, e.window.Snapshot(), now)
	for _, sig := range sigs {
		e.metrics.SignalsDetected.WithLabelValues(string(sig.Type)).Inc()
	}
	if len(sigs) == 0 {
		return
	}

	dec, ok := e.agg.Aggregate(sigs, func(id graph.NodeID) float64 {
		score, err := e.graph.Proficiency(id, now)
		if err != nil {
			return 0
		}
		return score
	}, now)
	if !ok {
		return
	}
	e.metrics.Interventions.Inc()
	select {
	case e.pending <- dec:
	default:
		e.metrics.DroppedDecisions.Inc()
		e.logger.Warn("decision backlog full, dropping",
			zap.String("node", string(dec.Node)),
			zap.Float64("score", dec.Score))
	}
}

// applyEvent folds one event into the graph and the detection window.
// Unknown kind strings are tolerated: the node is classified as
// unclassified and the anomaly logged, so one misbehaving collector
// cannot poison the pipeline.
//
// Search events enter the window only. A search names a symbol the user is
// looking up, not a concept they have touched; recording it would mark every
// searched symbol as known and the unfamiliar-search signal could never fire.
func (e *Engine) applyEvent(ev events.Event) {
	if ev.Type == events.TypeSearch {
		e.window.Append(ev)
		return
	}
	for _, ref := range ev.Nodes {
		kind, ok := graph.KindFromString(ref.Kind)
		if !ok && ref.Kind != "" {
			e.logger.Warn("unknown node kind, treating as unclassified",
				zap.String("kind", ref.Kind),
				zap.String("node", string(ref.ID)))
		}
		if err := e.graph.UpsertNode(ref.ID, kind, ref.Name); err != nil {
			e.logger.Warn("upsert failed", zap.String("node", string(ref.ID)), zap.Error(err))
			continue
		}
		// Neutral outcomes still count: the graph bumps Interactions and
		// LastInteraction for every touch, and Successes/Failures only for
		// conclusive ones.
		if err := e.graph.RecordInteraction(ref.ID, ev.Outcome, ev.Timestamp, ev.ID); err != nil {
			e.logger.Warn("record interaction failed",
				zap.String("node", string(ref.ID)), zap.Error(err))
		}
	}
	e.window.Append(ev)
}

// deliveryLoop forwards decisions to the consumer, enforcing the validity
// horizon: a decision that expired while queued describes a struggle that
// may already have resolved, so it is discarded rather than delivered.
func (e *Engine) deliveryLoop() {
	defer e.wg.Done()
	for dec := range e.pending {
		if dec.Expired(e.now()) {
			e.metrics.ExpiredDecisions.Inc()
			e.logger.Debug("decision expired before delivery",
				zap.String("node", string(dec.Node)))
			continue
		}
		if e.deliver != nil {
			e.deliver(dec)
			continue
		}
		select {
		case e.decisions <- dec:
		default:
			e.metrics.DroppedDecisions.Inc()
		}
	}
}
