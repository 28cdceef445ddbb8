// Package main provides the Muninn CLI entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orneryd/muninn/pkg/audit"
	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/engine"
	"github.com/orneryd/muninn/pkg/events"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/maintenance"
	"github.com/orneryd/muninn/pkg/persist"
	"github.com/orneryd/muninn/pkg/proficiency"
	"github.com/orneryd/muninn/pkg/struggle"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "muninn",
		Short: "Muninn - Mental Model Engine for developer proficiency tracking",
		Long: `Muninn turns developer-interaction events into a per-concept knowledge
graph: how well each concept is known, where the blind spots are, and
when a gentle intervention is worth raising.

Features:
  • Per-concept proficiency scoring with recency decay
  • Five struggle-signal detectors over a sliding event window
  • Weighted struggle aggregation with intervention gating
  • Automatic pruning of stale, low-proficiency concepts (audited)
  • Profile snapshots persisted in BadgerDB`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "muninn.yaml", "Config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Muninn v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default muninn.yaml and create the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(configPath)
		},
	}
	rootCmd.AddCommand(initCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a JSON-lines event log through the pipeline",
		Long: `Replay reads one event per line from the input file, feeds them through
the full pipeline for the given user, and prints every intervention
decision raised. With --save the resulting profile snapshot is written
to the data directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			input, _ := cmd.Flags().GetString("input")
			save, _ := cmd.Flags().GetBool("save")
			return runReplay(configPath, user, input, save)
		},
	}
	replayCmd.Flags().String("user", "default", "Profile to replay into")
	replayCmd.Flags().String("input", "", "JSON-lines event log (required)")
	replayCmd.Flags().Bool("save", false, "Save the resulting profile snapshot")
	_ = replayCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(replayCmd)

	weakCmd := &cobra.Command{
		Use:   "weak",
		Short: "List a profile's weakest concepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			limit, _ := cmd.Flags().GetInt("limit")
			maxAge, _ := cmd.Flags().GetInt("max-age-days")
			return runWeak(configPath, user, limit, maxAge)
		},
	}
	weakCmd.Flags().String("user", "default", "Profile to query")
	weakCmd.Flags().Int("limit", 10, "Maximum concepts to list")
	weakCmd.Flags().Int("max-age-days", 0, "Only consider concepts interacted with in the last N days (0 = all)")
	rootCmd.AddCommand(weakCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance sweep over a stored profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			return runSweep(configPath, user)
		},
	}
	sweepCmd.Flags().String("user", "default", "Profile to sweep")
	rootCmd.AddCommand(sweepCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate statistics for a stored profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			return runStats(configPath, user)
		},
	}
	statsCmd.Flags().String("user", "default", "Profile to inspect")
	rootCmd.AddCommand(statsCmd)

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the prune audit log",
	}
	auditCmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log's hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditVerify(configPath)
		},
	})
	auditCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditList(configPath)
		},
	})
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	return config.Load(path)
}

// cmdContext returns a context cancelled on SIGINT/SIGTERM so replays can
// be interrupted cleanly.
func cmdContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func runInit(configPath string) error {
	cfg := config.Default()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Fprintf(f, `# Muninn configuration. All values shown are the defaults;
# MUNINN_* environment variables override this file.
data_dir: %s

proficiency:
  lambda: %g
  freq_saturation: %g

struggle:
  base_threshold: %g
  frequency: %s
  raise_margin: %g
  decision_ttl: %s

engine:
  buffer_capacity: %d
  batch_window: %s

maintenance:
  min_proficiency: %g
  max_age_days: %d
  interval: %s

logging:
  level: info
  format: json
`,
		cfg.DataDir,
		cfg.Proficiency.Lambda, cfg.Proficiency.FreqSaturation,
		cfg.Struggle.BaseThreshold, cfg.Struggle.Frequency,
		cfg.Struggle.RaiseMargin, cfg.Struggle.DecisionTTL,
		cfg.Engine.BufferCapacity, cfg.Engine.BatchWindow,
		cfg.Maintenance.MinProficiency, cfg.Maintenance.MaxAgeDays,
		cfg.Maintenance.Interval,
	)
	fmt.Printf("Initialized %s (data in %s)\n", configPath, cfg.DataDir)
	return nil
}

// loadProfileGraph opens the snapshot store and materializes the user's
// graph. A missing profile yields an empty graph, not an error.
func loadProfileGraph(cfg config.Config, user string) (*graph.Graph, *persist.Store, error) {
	store, err := persist.Open(filepath.Join(cfg.DataDir, "profiles"))
	if err != nil {
		return nil, nil, err
	}
	g := graph.New(proficiency.NewCalculator(cfg.Proficiency))
	snap, err := store.LoadProfile(user)
	switch {
	case err == persist.ErrProfileNotFound:
		// New profile.
	case err != nil:
		store.Close()
		return nil, nil, err
	default:
		if err := g.Import(snap); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("import profile %s: %w", user, err)
		}
	}
	return g, store, nil
}

func runReplay(configPath, user, input string, save bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	g, store, err := loadProfileGraph(cfg, user)
	if err != nil {
		return err
	}
	defer store.Close()

	agg := struggle.NewAggregator(cfg.Struggle, logger)
	opts := []engine.Option{
		engine.WithGraph(g),
		engine.WithAggregator(agg),
		engine.WithLogger(logger),
		engine.WithWindow(events.NewWindow(cfg.Window.Lookback, cfg.Window.MaxCount)),
		engine.WithDeliver(func(dec *struggle.Decision) {
			fmt.Printf("INTERVENE node=%s score=%.2f signals=%v at=%s\n",
				dec.Node, dec.Score, dec.Signals, dec.CreatedAt.Format(time.RFC3339))
		}),
	}
	eng := engine.New(cfg.Engine, opts...)
	eng.Start(cmdContext())
	defer eng.Stop()

	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()

	var count, malformed, excluded int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			malformed++
			continue
		}
		if eventExcluded(ev, cfg.Privacy.ExcludePaths) {
			excluded++
			continue
		}
		eng.Ingest(ev)
		count++
		// Reading a file outruns the batch cadence by orders of magnitude;
		// yield to the writer loop before the drop-oldest buffer overflows.
		if pace := cfg.Engine.BufferCapacity / 2; pace > 0 && count%pace == 0 {
			time.Sleep(cfg.Engine.BatchWindow)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", input, err)
	}

	eng.Stop()
	fmt.Printf("Replayed %d events (%d malformed, %d excluded by privacy filters); graph: %d nodes, %d edges\n",
		count, malformed, excluded, g.NodeCount(), g.EdgeCount())

	if save {
		if err := store.SaveProfile(user, g.Export()); err != nil {
			return err
		}
		fmt.Printf("Saved profile %q\n", user)
	}
	return nil
}

// eventExcluded reports whether any path-like field of the event matches one
// of the privacy exclusion patterns. Patterns with a trailing slash match by
// directory prefix; the rest are globs tried against the full path and its
// base name.
func eventExcluded(ev events.Event, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	check := func(p string) bool {
		if p == "" {
			return false
		}
		for _, pat := range patterns {
			if strings.HasSuffix(pat, "/") {
				if strings.HasPrefix(p, pat) {
					return true
				}
				continue
			}
			if ok, _ := filepath.Match(pat, p); ok {
				return true
			}
			if ok, _ := filepath.Match(pat, filepath.Base(p)); ok {
				return true
			}
		}
		return false
	}
	if check(ev.Location) {
		return true
	}
	for _, n := range ev.Nodes {
		if n.Kind == string(graph.KindFile) && (check(n.Name) || check(string(n.ID))) {
			return true
		}
	}
	return false
}

func runWeak(configPath, user string, limit, maxAgeDays int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	g, store, err := loadProfileGraph(cfg, user)
	if err != nil {
		return err
	}
	defer store.Close()

	areas := g.QueryWeakAreas(time.Now(), maxAgeDays, limit)
	if len(areas) == 0 {
		fmt.Println("No concepts recorded.")
		return nil
	}
	fmt.Printf("%-40s %-12s %10s  %s\n", "CONCEPT", "KIND", "SCORE", "LAST SEEN")
	for _, a := range areas {
		fmt.Printf("%-40s %-12s %10.1f  %s\n",
			a.ID, a.Kind, a.Proficiency, a.LastInteraction.Format("2006-01-02"))
	}
	return nil
}

func runSweep(configPath, user string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	g, store, err := loadProfileGraph(cfg, user)
	if err != nil {
		return err
	}
	defer store.Close()

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		auditLog, err = audit.NewLogger(cfg.Audit.Path)
		if err != nil {
			return err
		}
		defer auditLog.Close()
	}

	sweeper := maintenance.NewSweeper(cfg.Maintenance, auditLog, logger)
	removed := sweeper.Sweep(g, time.Now())
	for _, rec := range removed {
		fmt.Printf("pruned %s (%s): proficiency %.1f, idle %.0f days\n",
			rec.ID, rec.Kind, rec.Proficiency, rec.AgeDays)
	}
	fmt.Printf("Removed %d concepts; %d remain\n", len(removed), g.NodeCount())

	if err := store.SaveProfile(user, g.Export()); err != nil {
		return err
	}
	return nil
}

func runStats(configPath, user string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	g, store, err := loadProfileGraph(cfg, user)
	if err != nil {
		return err
	}
	defer store.Close()

	stats := g.Stats(time.Now())
	fmt.Printf("Profile %q\n", user)
	fmt.Printf("  Concepts:          %d\n", stats.Nodes)
	fmt.Printf("  Dependencies:      %d\n", stats.Edges)
	fmt.Printf("  Mean proficiency:  %.1f\n", stats.MeanProficiency)
	for kind, n := range stats.ByKind {
		fmt.Printf("  %-18s %d\n", kind+":", n)
	}
	return nil
}

func runAuditVerify(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	reader := audit.NewReader(cfg.Audit.Path)
	n, err := reader.Verify()
	if err != nil {
		return fmt.Errorf("audit chain broken: %w", err)
	}
	fmt.Printf("OK: %d records, chain intact\n", n)
	return nil
}

func runAuditList(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	reader := audit.NewReader(cfg.Audit.Path)
	records, err := reader.Query(time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Printf("#%d %s pruned %s (%s): proficiency %.1f, idle %.0f days\n",
			rec.Sequence, rec.Timestamp.Format(time.RFC3339),
			rec.Node.ID, rec.Node.Kind, rec.Node.Proficiency, rec.Node.AgeDays)
	}
	fmt.Printf("%d records\n", len(records))
	return nil
}
