// Package struggle implements the aggregator that turns one evaluation
// cycle's struggle signals into an intervention decision.
//
// The aggregator is the calibration point of the whole pipeline: individual
// signals are weak and noisy, so each contributes only its weighted
// confidence, and an intervention is raised only when the combined score
// clears a per-user threshold. A raised intervention suppresses re-raising
// for the same concept within the session unless the evidence gets
// meaningfully stronger, which keeps the system from nagging.
//
// Example Usage:
//
//	agg := struggle.NewAggregator(struggle.DefaultConfig(), logger)
//
//	decision, ok := agg.Aggregate(sigs, profNow, time.Now())
//	if ok {
//		deliver(decision) // hand to the learning interface
//	}
//
// ELI12 (Explain Like I'm 12):
//
// Five friends are watching you do homework. One says "you erased that line
// a lot", another "you stared at the page for a while". None of them alone
// knows you're stuck, but if enough of them agree strongly enough, the group
// raises a hand and says "maybe get help with fractions". And the group
// won't raise the exact same hand twice unless things clearly got worse -
// nobody likes being told the same thing every five minutes.
package struggle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/signals"
)

// Frequency is the per-user intervention-frequency setting. It scales the
// base trigger threshold: minimal users need stronger evidence, aggressive
// users get nudged earlier.
type Frequency string

const (
	FrequencyMinimal    Frequency = "minimal"    // threshold × 1.3
	FrequencyBalanced   Frequency = "balanced"   // threshold × 1.0
	FrequencyAggressive Frequency = "aggressive" // threshold × 0.7
)

// Multiplier returns the threshold scale factor for the setting. Unknown
// values behave as balanced.
func (f Frequency) Multiplier() float64 {
	switch f {
	case FrequencyMinimal:
		return 1.3
	case FrequencyAggressive:
		return 0.7
	default:
		return 1.0
	}
}

// Default aggregation constants.
const (
	DefaultBaseThreshold = 0.65
	DefaultRaiseMargin   = 0.1
	DefaultDecisionTTL   = 2 * time.Minute
)

// DefaultWeights returns the documented per-signal weights.
func DefaultWeights() map[signals.Type]float64 {
	return map[signals.Type]float64{
		signals.TypeRepeatedEdits:    0.25,
		signals.TypeErrorCycle:       0.30,
		signals.TypeLongPause:        0.20,
		signals.TypeFrequentSearch:   0.15,
		signals.TypeContextSwitching: 0.10,
	}
}

// Config holds the aggregator's weights and thresholds.
type Config struct {
	// Weights maps each signal type to its contribution weight.
	Weights map[signals.Type]float64 `yaml:"weights"`

	// BaseThreshold is the struggle score above which an intervention
	// triggers, before the frequency multiplier is applied.
	BaseThreshold float64 `yaml:"base_threshold"`

	// Frequency is the per-user interventionFrequency setting.
	Frequency Frequency `yaml:"frequency"`

	// RaiseMargin is how much a new score must exceed the previously raised
	// score for the same node before a duplicate intervention is allowed
	// within one session.
	RaiseMargin float64 `yaml:"raise_margin"`

	// DecisionTTL is the validity horizon: a decision not delivered within
	// the TTL is stale and must be discarded, not delivered.
	DecisionTTL time.Duration `yaml:"decision_ttl"`
}

// DefaultConfig returns the documented defaults: weights .25/.30/.20/.15/.10,
// 0.65 base threshold, balanced frequency, 0.1 re-raise margin, 2m TTL.
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		BaseThreshold: DefaultBaseThreshold,
		Frequency:     FrequencyBalanced,
		RaiseMargin:   DefaultRaiseMargin,
		DecisionTTL:   DefaultDecisionTTL,
	}
}

// Decision is one intervention decision: the single most urgent candidate
// concept, the combined score, the evidence, and a validity horizon.
// Consumed exactly once by the learning-interface collaborator, or discarded
// unread if the horizon passes first.
type Decision struct {
	ID        string           `json:"id"`
	Score     float64          `json:"score"`
	Node      graph.NodeID     `json:"node"`
	Signals   []signals.Signal `json:"signals"`
	CreatedAt time.Time        `json:"createdAt"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// Expired reports whether the decision's validity horizon has passed.
func (d *Decision) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// Aggregator combines one evaluation cycle's signals into a struggle score
// and, when warranted, an intervention decision. Safe for concurrent use,
// though the engine calls it from its single writer loop.
type Aggregator struct {
	config Config
	logger *zap.Logger

	mu sync.Mutex
	// raised is the per-session high-water mark of scores already raised
	// per node. Guards against notification spam.
	raised map[graph.NodeID]float64
}

// NewAggregator creates an Aggregator. Zero-valued config fields fall back
// to the documented defaults; a nil logger falls back to zap.NewNop.
func NewAggregator(config Config, logger *zap.Logger) *Aggregator {
	if config.Weights == nil {
		config.Weights = DefaultWeights()
	}
	if config.BaseThreshold <= 0 {
		config.BaseThreshold = DefaultBaseThreshold
	}
	if config.RaiseMargin <= 0 {
		config.RaiseMargin = DefaultRaiseMargin
	}
	if config.DecisionTTL <= 0 {
		config.DecisionTTL = DefaultDecisionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		config: config,
		logger: logger,
		raised: make(map[graph.NodeID]float64),
	}
}

// Threshold returns the effective trigger threshold after the frequency
// multiplier.
func (a *Aggregator) Threshold() float64 {
	return a.config.BaseThreshold * a.config.Frequency.Multiplier()
}

// Score computes the combined struggle score for one cycle's signals:
// the weighted sum, over signal types present, of that type's highest
// confidence. Deterministic for identical input.
func (a *Aggregator) Score(sigs []signals.Signal) float64 {
	best := make(map[signals.Type]float64, len(sigs))
	for _, s := range sigs {
		if s.Confidence > best[s.Type] {
			best[s.Type] = s.Confidence
		}
	}
	var score float64
	for t, confidence := range best {
		score += a.config.Weights[t] * confidence
	}
	return score
}

// Aggregate combines the cycle's signals into an intervention decision.
//
// proficiency is a read-only probe used for tie-breaking (lowest current
// proficiency wins among equally implicated candidates).
//
// Returns (nil, false) when no intervention should be raised this cycle:
// score at or below threshold, no signals, or suppression because an
// intervention for the candidate was already raised this session and the new
// score does not exceed it by the raise margin.
func (a *Aggregator) Aggregate(sigs []signals.Signal, proficiency func(graph.NodeID) float64, now time.Time) (*Decision, bool) {
	if len(sigs) == 0 {
		return nil, false
	}
	score := a.Score(sigs)
	if score <= a.Threshold() {
		return nil, false
	}

	node, ok := a.candidate(sigs, proficiency)
	if !ok {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, seen := a.raised[node]; seen && score <= prev+a.config.RaiseMargin {
		a.logger.Debug("suppressing duplicate intervention",
			zap.String("node", string(node)),
			zap.Float64("score", score),
			zap.Float64("previous", prev))
		return nil, false
	}
	a.raised[node] = score

	d := &Decision{
		ID:        uuid.NewString(),
		Score:     score,
		Node:      node,
		Signals:   sigs,
		CreatedAt: now,
		ExpiresAt: now.Add(a.config.DecisionTTL),
	}
	a.logger.Info("intervention raised",
		zap.String("decision", d.ID),
		zap.String("node", string(node)),
		zap.Float64("score", score),
		zap.Int("signals", len(sigs)))
	return d, true
}

// candidate picks the node most frequently implicated across the
// contributing signals, breaking ties by lowest current proficiency and
// then lexicographically for determinism.
func (a *Aggregator) candidate(sigs []signals.Signal, proficiency func(graph.NodeID) float64) (graph.NodeID, bool) {
	counts := make(map[graph.NodeID]int)
	for _, s := range sigs {
		for _, id := range s.Nodes {
			counts[id]++
		}
	}
	if len(counts) == 0 {
		return "", false
	}

	var best graph.NodeID
	bestCount := -1
	bestProf := 0.0
	for id, count := range counts {
		switch {
		case count > bestCount:
		case count == bestCount && proficiency != nil && proficiency(id) < bestProf:
		case count == bestCount && (proficiency == nil || proficiency(id) == bestProf) && id < best:
		default:
			continue
		}
		best = id
		bestCount = count
		if proficiency != nil {
			bestProf = proficiency(id)
		}
	}
	return best, true
}

// ResetSession clears the per-session suppression state. Call at session
// boundaries so a new session can raise interventions afresh.
func (a *Aggregator) ResetSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raised = make(map[graph.NodeID]float64)
}
