package signals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/muninn/pkg/events"
)

// DefaultDetectorTimeout bounds one detector evaluation. A detector that
// exceeds it contributes no signal for the cycle; it never stalls the join
// barrier.
const DefaultDetectorTimeout = 50 * time.Millisecond

// DetectorStats are per-detector evaluation counters for observability.
type DetectorStats struct {
	Evaluations int64 `json:"evaluations"`
	Signals     int64 `json:"signals"`
	Failures    int64 `json:"failures"`
	Timeouts    int64 `json:"timeouts"`
}

// Evaluator fans one window snapshot out to every registered detector
// concurrently and joins the results.
//
// Because detectors are pure functions over the same immutable snapshot,
// they may run in parallel with no coordination. The evaluator is the join
// barrier: it waits for every detector's result, but bounds each detector
// with a timeout, and converts any error, panic, or timeout into "signal
// absent" so one misbehaving detector never aborts the batch.
type Evaluator struct {
	detectors []Detector
	timeout   time.Duration
	logger    *zap.Logger

	mu    sync.Mutex
	stats map[Type]*DetectorStats
}

// NewEvaluator creates an Evaluator over the given detectors. A nil logger
// falls back to zap.NewNop; a non-positive timeout falls back to
// DefaultDetectorTimeout.
func NewEvaluator(detectors []Detector, timeout time.Duration, logger *zap.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultDetectorTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	stats := make(map[Type]*DetectorStats, len(detectors))
	for _, d := range detectors {
		stats[d.Type()] = &DetectorStats{}
	}
	return &Evaluator{
		detectors: detectors,
		timeout:   timeout,
		logger:    logger,
		stats:     stats,
	}
}

// Evaluate runs every detector against the window snapshot and returns all
// signals produced, in registration order. Deterministic for a given
// (window, now, configuration) triple: the concurrency affects latency, not
// output.
func (e *Evaluator) Evaluate(ctx context.Context, window []events.Event, now time.Time) []Signal {
	results := make([][]Signal, len(e.detectors))

	g, ctx := errgroup.WithContext(ctx)
	for i, d := range e.detectors {
		g.Go(func() error {
			results[i] = e.runDetector(ctx, d, window, now)
			return nil
		})
	}
	// Detector failures are absorbed as "signal absent", so the only join
	// outcome is success.
	_ = g.Wait()

	var out []Signal
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// runDetector executes one detector with a timeout and panic isolation.
func (e *Evaluator) runDetector(ctx context.Context, d Detector, window []events.Event, now time.Time) []Signal {
	type result struct {
		signals []Signal
		err     error
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("detector panic: %v", r)}
			}
		}()
		sigs, err := d.Detect(window, now)
		ch <- result{signals: sigs, err: err}
	}()

	e.bump(d.Type(), func(s *DetectorStats) { s.Evaluations++ })

	select {
	case <-ctx.Done():
		e.bump(d.Type(), func(s *DetectorStats) { s.Timeouts++ })
		e.logger.Warn("detector timed out, treating as signal absent",
			zap.String("detector", string(d.Type())),
			zap.Duration("timeout", e.timeout))
		return nil
	case r := <-ch:
		if r.err != nil {
			e.bump(d.Type(), func(s *DetectorStats) { s.Failures++ })
			e.logger.Warn("detector failed, treating as signal absent",
				zap.String("detector", string(d.Type())),
				zap.Error(r.err))
			return nil
		}
		e.bump(d.Type(), func(s *DetectorStats) { s.Signals += int64(len(r.signals)) })
		return r.signals
	}
}

func (e *Evaluator) bump(t Type, fn func(*DetectorStats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stats[t]; ok {
		fn(s)
	}
}

// Stats returns a copy of the per-detector evaluation counters.
func (e *Evaluator) Stats() map[Type]DetectorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[Type]DetectorStats, len(e.stats))
	for t, s := range e.stats {
		out[t] = *s
	}
	return out
}
