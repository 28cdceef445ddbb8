// Package proficiency implements the proficiency scoring function for Muninn.
//
// A proficiency score is a 0-100 estimate of how well a developer currently
// knows one concept (a file, function, class, pattern, or library). The score
// is a weighted combination of four normalized terms, each in [0, 1]:
//
//   - Frequency: How often the concept has been touched (saturating)
//   - Success rate: Laplace-smoothed ratio of successful interactions
//   - Recency: Exponential decay over days since the last interaction
//   - Complexity: Familiarity is harder to earn on complex concepts
//
// The final score is:
//
//	proficiency = 100 × clamp(0.3·frequency + 0.4·successRate + 0.2·recency + 0.1·complexity, 0, 1)
//
// Scores are computed lazily from stored counters and the current time. Nothing
// is cached: the recency term is always consistent with the exact moment of the
// query, and per-event cost stays O(1) because only counters change.
//
// Example Usage:
//
//	calc := proficiency.NewCalculator(proficiency.DefaultConfig())
//
//	stats := proficiency.Stats{
//		Interactions:     12,
//		Successes:        9,
//		Failures:         2,
//		LastInteraction:  time.Now().Add(-48 * time.Hour),
//		ComplexityWeight: 0.4,
//	}
//
//	score := calc.Score(stats, time.Now())
//	fmt.Printf("Proficiency: %.1f\n", score) // Proficiency: 63.4
//
// ELI12 (Explain Like I'm 12):
//
// Imagine a report card for every part of a codebase you work in. Your grade
// for one file goes up when you edit it a lot (frequency) and when your edits
// work (success rate). It slides back down while you ignore the file
// (recency - like forgetting vocabulary over summer break). And really gnarly
// files grade on a harder curve (complexity). The report card is recomputed
// every time someone looks at it, so the "forgetting" part is always
// up to date.
package proficiency

import (
	"fmt"
	"math"
	"time"
)

// Default term weights and constants. The documented defaults can be
// overridden through Config; weights must sum to 1.0.
const (
	// DefaultFreqSaturation is the interaction count at which the frequency
	// term saturates at 1.0.
	DefaultFreqSaturation = 20.0

	// DefaultLambda is the per-day exponential decay rate of the recency
	// term. At 0.05 the term halves roughly every two weeks
	// (ln(2)/0.05 ≈ 13.9 days).
	DefaultLambda = 0.05

	DefaultFrequencyWeight  = 0.3
	DefaultSuccessWeight    = 0.4
	DefaultRecencyWeight    = 0.2
	DefaultComplexityWeight = 0.1
)

// Stats holds the per-node counters a score is computed from.
//
// The knowledge graph store owns these counters; the calculator never mutates
// them. Invariant carried over from the store: Successes+Failures ≤ Interactions
// (neutral interactions count toward Interactions only).
type Stats struct {
	Interactions     int64
	Successes        int64
	Failures         int64
	LastInteraction  time.Time
	ComplexityWeight float64 // 0-1, supplied by the external codebase analyzer
}

// Terms is the per-term breakdown of one score, each component in [0, 1].
// Useful for analytics surfaces and for explaining a score to a user.
type Terms struct {
	Frequency   float64
	SuccessRate float64
	Recency     float64
	Complexity  float64
}

// Config holds the calculator's weights and constants.
//
// The four weights must sum to 1.0; Validate enforces this. The calculator is
// deliberately a pure function of (Stats, now) so the same configuration and
// inputs always reproduce the same score.
type Config struct {
	// FreqSaturation is the interaction count at which frequency saturates.
	FreqSaturation float64 `yaml:"freq_saturation"`

	// Lambda is the per-day recency decay rate: recency = e^(-Lambda × days).
	Lambda float64 `yaml:"lambda"`

	FrequencyWeight  float64 `yaml:"frequency_weight"`
	SuccessWeight    float64 `yaml:"success_weight"`
	RecencyWeight    float64 `yaml:"recency_weight"`
	ComplexityWeight float64 `yaml:"complexity_weight"`
}

// Validate checks that the weights form a proper convex combination.
func (c Config) Validate() error {
	sum := c.FrequencyWeight + c.SuccessWeight + c.RecencyWeight + c.ComplexityWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("proficiency weights must sum to 1.0, got %.4f", sum)
	}
	if c.FreqSaturation <= 0 {
		return fmt.Errorf("freq_saturation must be positive, got %v", c.FreqSaturation)
	}
	if c.Lambda <= 0 {
		return fmt.Errorf("lambda must be positive, got %v", c.Lambda)
	}
	return nil
}

// DefaultConfig returns the documented default weights:
// 0.3 frequency, 0.4 success rate, 0.2 recency, 0.1 complexity,
// saturation at 20 interactions, λ = 0.05/day.
func DefaultConfig() Config {
	return Config{
		FreqSaturation:   DefaultFreqSaturation,
		Lambda:           DefaultLambda,
		FrequencyWeight:  DefaultFrequencyWeight,
		SuccessWeight:    DefaultSuccessWeight,
		RecencyWeight:    DefaultRecencyWeight,
		ComplexityWeight: DefaultComplexityWeight,
	}
}

// Calculator computes proficiency scores. It holds no mutable state and is
// safe for concurrent use from any number of goroutines.
type Calculator struct {
	config Config
}

// NewCalculator creates a Calculator with the given configuration. A zero
// FreqSaturation or Lambda falls back to the documented defaults so a
// partially populated Config still behaves sensibly.
func NewCalculator(config Config) *Calculator {
	if config.FreqSaturation <= 0 {
		config.FreqSaturation = DefaultFreqSaturation
	}
	if config.Lambda <= 0 {
		config.Lambda = DefaultLambda
	}
	if config.FrequencyWeight == 0 && config.SuccessWeight == 0 &&
		config.RecencyWeight == 0 && config.ComplexityWeight == 0 {
		config.FrequencyWeight = DefaultFrequencyWeight
		config.SuccessWeight = DefaultSuccessWeight
		config.RecencyWeight = DefaultRecencyWeight
		config.ComplexityWeight = DefaultComplexityWeight
	}
	return &Calculator{config: config}
}

// Config returns the calculator's effective configuration.
func (c *Calculator) Config() Config {
	return c.config
}

// Terms computes the four normalized score components for a node at the
// given instant. Each term is clamped to [0, 1] independently.
//
//	frequency   = min(1, interactions / FreqSaturation)
//	successRate = (successes + 1) / (interactions + 2)   // Laplace, prior 0.5
//	recency     = e^(-Lambda × daysSinceLastInteraction)
//	complexity  = 1 - complexityWeight
//
// The Laplace smoothing means a node with zero interactions has a neutral 0.5
// success rate instead of an undefined one, and a single failure cannot drag
// the rate to zero.
func (c *Calculator) Terms(stats Stats, now time.Time) Terms {
	frequency := clamp01(float64(stats.Interactions) / c.config.FreqSaturation)
	successRate := clamp01(float64(stats.Successes+1) / float64(stats.Interactions+2))

	var recency float64
	if !stats.LastInteraction.IsZero() {
		days := now.Sub(stats.LastInteraction).Hours() / 24
		if days < 0 {
			days = 0 // clock skew: never reward the future
		}
		recency = math.Exp(-c.config.Lambda * days)
	}

	complexity := clamp01(1 - stats.ComplexityWeight)

	return Terms{
		Frequency:   frequency,
		SuccessRate: successRate,
		Recency:     recency,
		Complexity:  complexity,
	}
}

// Score computes the 0-100 proficiency score for a node at the given instant.
//
// The result is always within [0, 100] regardless of input: every term is
// clamped to [0, 1] and the weighted sum is clamped again before scaling.
//
// Example:
//
//	calc := proficiency.NewCalculator(proficiency.DefaultConfig())
//	score := calc.Score(stats, time.Now())
//	if score < 10 {
//		fmt.Println("prune candidate")
//	}
func (c *Calculator) Score(stats Stats, now time.Time) float64 {
	t := c.Terms(stats, now)
	combined := c.config.FrequencyWeight*t.Frequency +
		c.config.SuccessWeight*t.SuccessRate +
		c.config.RecencyWeight*t.Recency +
		c.config.ComplexityWeight*t.Complexity
	return 100 * clamp01(combined)
}

// Recency returns just the recency term for a last-interaction timestamp.
// Exposed for maintenance and analytics code that reasons about staleness
// without needing a full Stats value.
func (c *Calculator) Recency(lastInteraction, now time.Time) float64 {
	return c.Terms(Stats{LastInteraction: lastInteraction}, now).Recency
}

// HalfLife returns the number of days after which the recency term decays to
// half its value: ln(2) / λ. With the default λ = 0.05 that is ≈ 13.9 days.
func (c *Calculator) HalfLife() float64 {
	return math.Ln2 / c.config.Lambda
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
