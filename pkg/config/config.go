// Package config handles Muninn configuration via environment variables and
// an optional YAML file.
//
// Configuration is loaded in three layers, each overriding the last:
// package defaults, then the YAML file (if one is given), then MUNINN_*
// environment variables. Load the result once at startup and pass the
// sections to the components that need them; nothing in this package is a
// global.
//
// Example Usage:
//
//	cfg, err := config.Load("muninn.yaml")
//	if err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//	calc := proficiency.NewCalculator(cfg.Proficiency)
//
// Environment Variables:
//
//   - MUNINN_DATA_DIR="./data"
//   - MUNINN_LAMBDA=0.05
//   - MUNINN_FREQ_SATURATION=20
//   - MUNINN_STRUGGLE_THRESHOLD=0.65
//   - MUNINN_INTERVENTION_FREQUENCY="minimal" | "balanced" | "aggressive"
//   - MUNINN_DECISION_TTL=2m
//   - MUNINN_BUFFER_CAPACITY=10000
//   - MUNINN_BATCH_WINDOW=100ms
//   - MUNINN_SWEEP_INTERVAL=1h
//   - MUNINN_PRUNE_MIN_PROFICIENCY=10
//   - MUNINN_PRUNE_MAX_AGE_DAYS=30
//   - MUNINN_AUDIT_ENABLED=true
//   - MUNINN_AUDIT_PATH="./data/prune-audit.jsonl"
//   - MUNINN_EXCLUDE_PATHS=".env,secrets/,*.pem"
//   - MUNINN_LOG_LEVEL="info"
//
// For the complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/muninn/pkg/engine"
	"github.com/orneryd/muninn/pkg/events"
	"github.com/orneryd/muninn/pkg/maintenance"
	"github.com/orneryd/muninn/pkg/proficiency"
	"github.com/orneryd/muninn/pkg/struggle"
)

// Config holds all Muninn configuration.
//
// Sections map one-to-one onto component config types so a loaded Config
// can be handed to constructors without translation.
type Config struct {
	// DataDir is the root directory for profile snapshots and audit logs.
	DataDir string `yaml:"data_dir"`

	// Proficiency tunes the scoring formula.
	Proficiency proficiency.Config `yaml:"proficiency"`

	// Struggle tunes signal weighting and intervention gating.
	Struggle struggle.Config `yaml:"struggle"`

	// Engine tunes ingestion buffering and batch cadence.
	Engine engine.Config `yaml:"engine"`

	// Maintenance tunes the prune sweep.
	Maintenance maintenance.Config `yaml:"maintenance"`

	// Window tunes the detection lookback.
	Window WindowConfig `yaml:"window"`

	// Audit controls the prune audit log.
	Audit AuditConfig `yaml:"audit"`

	// Privacy controls what collectors may report.
	Privacy PrivacyConfig `yaml:"privacy"`

	// Logging configures the zap logger.
	Logging LoggingConfig `yaml:"logging"`
}

// WindowConfig bounds the sliding event window detectors read from.
type WindowConfig struct {
	// Lookback is how far back detectors can see.
	Lookback time.Duration `yaml:"lookback"`
	// MaxCount caps the window size regardless of age.
	MaxCount int `yaml:"max_count"`
}

// AuditConfig controls the append-only prune audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PrivacyConfig lists path patterns collectors must never report events
// for. Enforcement happens in the collector, at the source; the engine
// carries the list so one config file governs both sides.
type PrivacyConfig struct {
	// ExcludePaths are glob-style patterns (".env", "secrets/", "*.pem").
	ExcludePaths []string `yaml:"exclude_paths"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format: "json" for production, "console" for development.
	Format string `yaml:"format"`
}

// Default returns the built-in defaults for every section.
func Default() Config {
	return Config{
		DataDir:     "./data",
		Proficiency: proficiency.DefaultConfig(),
		Struggle:    struggle.DefaultConfig(),
		Engine:      engine.DefaultConfig(),
		Maintenance: maintenance.DefaultConfig(),
		Window: WindowConfig{
			Lookback: events.DefaultLookback,
			MaxCount: events.DefaultMaxCount,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "", // derived from DataDir when empty, see Load
		},
		Privacy: PrivacyConfig{
			ExcludePaths: []string{".env", ".env.*", "*.pem", "*.key", "secrets/"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty or the file does not exist), then MUNINN_* environment
// variables. The result is validated before being returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file means defaults + env, not an error.
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = cfg.DataDir + "/prune-audit.jsonl"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromEnv builds a Config from defaults and environment variables only.
func LoadFromEnv() (Config, error) {
	return Load("")
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("MUNINN_DATA_DIR", c.DataDir)

	c.Proficiency.Lambda = getEnvFloat("MUNINN_LAMBDA", c.Proficiency.Lambda)
	c.Proficiency.FreqSaturation = getEnvFloat("MUNINN_FREQ_SATURATION", c.Proficiency.FreqSaturation)

	c.Struggle.BaseThreshold = getEnvFloat("MUNINN_STRUGGLE_THRESHOLD", c.Struggle.BaseThreshold)
	c.Struggle.Frequency = struggle.Frequency(getEnv("MUNINN_INTERVENTION_FREQUENCY", string(c.Struggle.Frequency)))
	c.Struggle.RaiseMargin = getEnvFloat("MUNINN_RAISE_MARGIN", c.Struggle.RaiseMargin)
	c.Struggle.DecisionTTL = getEnvDuration("MUNINN_DECISION_TTL", c.Struggle.DecisionTTL)

	c.Engine.BufferCapacity = getEnvInt("MUNINN_BUFFER_CAPACITY", c.Engine.BufferCapacity)
	c.Engine.BatchWindow = getEnvDuration("MUNINN_BATCH_WINDOW", c.Engine.BatchWindow)

	c.Maintenance.Interval = getEnvDuration("MUNINN_SWEEP_INTERVAL", c.Maintenance.Interval)
	c.Maintenance.MinProficiency = getEnvFloat("MUNINN_PRUNE_MIN_PROFICIENCY", c.Maintenance.MinProficiency)
	c.Maintenance.MaxAgeDays = getEnvInt("MUNINN_PRUNE_MAX_AGE_DAYS", c.Maintenance.MaxAgeDays)

	c.Window.Lookback = getEnvDuration("MUNINN_WINDOW_LOOKBACK", c.Window.Lookback)
	c.Window.MaxCount = getEnvInt("MUNINN_WINDOW_MAX_COUNT", c.Window.MaxCount)

	c.Audit.Enabled = getEnvBool("MUNINN_AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.Path = getEnv("MUNINN_AUDIT_PATH", c.Audit.Path)

	c.Privacy.ExcludePaths = getEnvStringSlice("MUNINN_EXCLUDE_PATHS", c.Privacy.ExcludePaths)

	c.Logging.Level = getEnv("MUNINN_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("MUNINN_LOG_FORMAT", c.Logging.Format)
}

// Validate checks cross-field constraints. Component configs validate the
// constraints they own.
func (c Config) Validate() error {
	if err := c.Proficiency.Validate(); err != nil {
		return fmt.Errorf("proficiency: %w", err)
	}
	switch c.Struggle.Frequency {
	case struggle.FrequencyMinimal, struggle.FrequencyBalanced, struggle.FrequencyAggressive:
	default:
		return fmt.Errorf("invalid intervention frequency %q (want minimal, balanced, or aggressive)", c.Struggle.Frequency)
	}
	if c.Struggle.BaseThreshold <= 0 || c.Struggle.BaseThreshold > 1 {
		return fmt.Errorf("struggle threshold must be in (0, 1], got %v", c.Struggle.BaseThreshold)
	}
	if c.Engine.BufferCapacity <= 0 {
		return fmt.Errorf("buffer capacity must be positive, got %d", c.Engine.BufferCapacity)
	}
	if c.Engine.BatchWindow <= 0 {
		return fmt.Errorf("batch window must be positive, got %v", c.Engine.BatchWindow)
	}
	if c.Window.Lookback <= 0 {
		return fmt.Errorf("window lookback must be positive, got %v", c.Window.Lookback)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	return nil
}

// String returns a human-readable summary, safe to log.
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{data=%s, lambda=%.3f, threshold=%.2f, frequency=%s, buffer=%d, batch=%s, sweep=%s, audit=%v}",
		c.DataDir, c.Proficiency.Lambda, c.Struggle.BaseThreshold, c.Struggle.Frequency,
		c.Engine.BufferCapacity, c.Engine.BatchWindow, c.Maintenance.Interval, c.Audit.Enabled,
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare integers are treated as seconds.
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
