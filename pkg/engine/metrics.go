package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orneryd/muninn/pkg/signals"
)

// Metrics holds the engine's Prometheus instruments.
//
// All instruments are registered on a caller-supplied Registerer rather than
// the package-global default, so two engines in one process (or one engine
// per test) never collide. Pass prometheus.NewRegistry() when you do not
// export metrics at all.
type Metrics struct {
	EventsIngested   prometheus.Counter
	EventsDropped    prometheus.Counter
	Batches          prometheus.Counter
	BatchSize        prometheus.Histogram
	SignalsDetected  *prometheus.CounterVec
	Interventions    prometheus.Counter
	ExpiredDecisions prometheus.Counter
	DroppedDecisions prometheus.Counter
	PrunedNodes      prometheus.Counter
}

// NewMetrics creates and registers the engine's instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "events_ingested_total",
			Help:      "Interaction events accepted into the ingest buffer.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "events_dropped_total",
			Help:      "Events evicted from a full ingest buffer (oldest first).",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "batches_total",
			Help:      "Batch windows processed by the writer loop.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "muninn",
			Name:      "batch_size",
			Help:      "Events drained per non-empty batch window.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		SignalsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "signals_detected_total",
			Help:      "Struggle signals emitted by detectors, by signal type.",
		}, []string{"type"}),
		Interventions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "interventions_total",
			Help:      "Intervention decisions produced by the aggregator.",
		}),
		ExpiredDecisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "expired_decisions_total",
			Help:      "Decisions discarded at delivery time because their validity horizon passed.",
		}),
		DroppedDecisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "dropped_decisions_total",
			Help:      "Decisions dropped because the consumer channel was full.",
		}),
		PrunedNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "pruned_nodes_total",
			Help:      "Nodes removed by maintenance sweeps.",
		}),
	}
	reg.MustRegister(
		m.EventsIngested, m.EventsDropped, m.Batches, m.BatchSize,
		m.SignalsDetected, m.Interventions, m.ExpiredDecisions,
		m.DroppedDecisions, m.PrunedNodes,
	)
	// Pre-create the per-type series so dashboards see zeros, not gaps.
	for _, t := range []signals.Type{
		signals.TypeRepeatedEdits, signals.TypeLongPause, signals.TypeErrorCycle,
		signals.TypeFrequentSearch, signals.TypeContextSwitching,
	} {
		m.SignalsDetected.WithLabelValues(string(t))
	}
	return m
}
