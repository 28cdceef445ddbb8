// Package maintenance implements the periodic decay-and-prune sweep over a
// knowledge graph.
//
// A sweep removes every node that is simultaneously low-proficiency and
// stale (default: proficiency < 10 and no interaction in 30 days), together
// with all edges touching it, and emits one audit record per removed node.
// Sweeps are periodic, never per-event: the scheduler (the engine's writer
// loop, or a CLI invocation) runs a sweep between event batches so it is
// mutually exclusive with in-flight mutations, and the store makes the
// removal itself atomic.
//
// ELI12 (Explain Like I'm 12):
//
// Think of a gardener who comes by once an hour, not every time a leaf
// falls. Plants nobody has watered in a month AND that never really grew get
// dug out - roots, vines and all, so nothing dangles - and each one gets a
// line in the gardener's notebook saying what was removed and why.
package maintenance

import (
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/audit"
	"github.com/orneryd/muninn/pkg/graph"
)

// Default sweep thresholds.
const (
	DefaultMinProficiency = 10.0
	DefaultMaxAgeDays     = 30
	DefaultInterval       = time.Hour
)

// Config holds sweep thresholds and cadence.
type Config struct {
	// MinProficiency: nodes at or above this score are always retained.
	MinProficiency float64 `yaml:"min_proficiency"`

	// MaxAgeDays: nodes interacted with within this many days are always
	// retained. Both conditions must hold for a node to be pruned.
	MaxAgeDays int `yaml:"max_age_days"`

	// Interval is the sweep cadence used by the scheduling loop.
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns the documented defaults: proficiency < 10, idle
// > 30 days, hourly cadence.
func DefaultConfig() Config {
	return Config{
		MinProficiency: DefaultMinProficiency,
		MaxAgeDays:     DefaultMaxAgeDays,
		Interval:       DefaultInterval,
	}
}

// Sweeper runs prune sweeps against a graph and records the removals.
type Sweeper struct {
	config   Config
	auditLog *audit.Logger
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper. auditLog may be nil (no audit persistence,
// e.g. in tests); a nil logger falls back to zap.NewNop. Zero-valued config
// fields fall back to the defaults.
func NewSweeper(config Config, auditLog *audit.Logger, logger *zap.Logger) *Sweeper {
	if config.MinProficiency <= 0 {
		config.MinProficiency = DefaultMinProficiency
	}
	if config.MaxAgeDays <= 0 {
		config.MaxAgeDays = DefaultMaxAgeDays
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{config: config, auditLog: auditLog, logger: logger}
}

// Interval returns the configured sweep cadence for schedulers.
func (s *Sweeper) Interval() time.Duration {
	return s.config.Interval
}

// Sweep runs one prune sweep and returns the removed set.
//
// The underlying PruneStale holds the graph's write lock for the whole
// sweep, so readers never observe a partially-pruned graph and queued
// mutations apply after the sweep completes rather than being lost. One
// audit record is written per removed node; an audit write failure is
// logged but does not undo the (already committed, irreversible) prune.
func (s *Sweeper) Sweep(g *graph.Graph, now time.Time) []graph.PruneRecord {
	removed := g.PruneStale(now, s.config.MinProficiency, s.config.MaxAgeDays)
	for _, rec := range removed {
		s.logger.Info("pruned stale node",
			zap.String("node", string(rec.ID)),
			zap.String("kind", string(rec.Kind)),
			zap.Float64("proficiency", rec.Proficiency),
			zap.Float64("age_days", rec.AgeDays))
		if s.auditLog != nil {
			if _, err := s.auditLog.LogPrune(rec, now); err != nil {
				s.logger.Error("audit write failed for pruned node",
					zap.String("node", string(rec.ID)),
					zap.Error(err))
			}
		}
	}
	if len(removed) > 0 {
		s.logger.Info("sweep complete",
			zap.Int("removed", len(removed)),
			zap.Int64("remaining", g.NodeCount()))
	}
	return removed
}
