package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/sweep/internal/config"
	"github.com/yairfalse/sweep/internal/daemon"
	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/internal/history"
	"github.com/yairfalse/sweep/internal/orchestrator"
	awsprovider "github.com/yairfalse/sweep/internal/provider/aws"
	"github.com/yairfalse/sweep/internal/sink"
	"github.com/yairfalse/sweep/internal/telemetry"
	"github.com/yairfalse/sweep/internal/wal"
)

var (
	flagRegion         string
	flagProfile        string
	flagDays           int
	flagExecute        bool
	flagExcludeTags    []string
	flagExcludeIDs     []string
	flagExclusionsFile string
	flagWorkers        int
	flagOutputDir      string
	flagRPS            float64
	flagMetricsAddr    string
	flagInterval       time.Duration
	flagOnce           bool
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagRegion, "region", "", "AWS region (defaults to the SDK credential chain)")
	f.StringVar(&flagProfile, "profile", "", "AWS shared config profile")
	f.IntVar(&flagDays, "days", 30, "Retention period in days")
	f.BoolVar(&flagExecute, "execute", false, "Delete resources instead of simulating")
	f.StringArrayVar(&flagExcludeTags, "exclude-tag", nil, `Exclusion rule "Key", "Key=Value" or "Key~glob" (repeatable)`)
	f.StringArrayVar(&flagExcludeIDs, "exclude-id", nil, "Resource id to exclude (repeatable)")
	f.StringVar(&flagExclusionsFile, "exclusions-file", "", "YAML file with tags and ids to exclude")
	f.IntVar(&flagWorkers, "max-workers", 10, "Concurrent deletions per phase")
	f.StringVar(&flagOutputDir, "output-dir", ".", "Directory for result files")
	f.Float64Var(&flagRPS, "rps", 5, "Mutating AWS calls per second (0 for unlimited)")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics and health checks on this address")
	f.DurationVar(&flagInterval, "interval", 0, "Repeat the run on this interval")
	f.BoolVar(&flagOnce, "once", false, "Run once and exit even when an interval is configured")
}

// applyFlags overrides config values with the flags the user set.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("region") {
		cfg.AWS.Region = flagRegion
	}
	if flags.Changed("profile") {
		cfg.AWS.Profile = flagProfile
	}
	if flags.Changed("rps") {
		cfg.AWS.RequestsPerSecond = flagRPS
	}
	if flags.Changed("days") {
		cfg.Cleanup.RetentionDays = flagDays
	}
	if flags.Changed("execute") {
		cfg.Cleanup.Execute = flagExecute
	}
	if flags.Changed("exclude-tag") {
		cfg.Cleanup.ExcludeTags = append(cfg.Cleanup.ExcludeTags, flagExcludeTags...)
	}
	if flags.Changed("exclude-id") {
		cfg.Cleanup.ExcludeIDs = append(cfg.Cleanup.ExcludeIDs, flagExcludeIDs...)
	}
	if flags.Changed("exclusions-file") {
		cfg.Cleanup.ExclusionsFile = flagExclusionsFile
	}
	if flags.Changed("max-workers") {
		cfg.Cleanup.Workers = flagWorkers
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir = flagOutputDir
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = flagMetricsAddr
	}
	if flags.Changed("interval") {
		cfg.Schedule.Interval = config.Duration{Duration: flagInterval}
		cfg.Schedule.OneShot = false
	}
	if flags.Changed("once") {
		cfg.Schedule.OneShot = flagOnce
	}
}

// orchestratorConfig builds the per-run configuration.
func orchestratorConfig(cfg *config.Config) (orchestrator.Config, error) {
	tags, ids, err := cfg.ExclusionRules()
	if err != nil {
		return orchestrator.Config{}, err
	}
	mode := executor.ModeSimulate
	if cfg.Cleanup.Execute {
		mode = executor.ModeExecute
	}
	return orchestrator.Config{
		RetentionDays:             cfg.Cleanup.RetentionDays,
		Mode:                      mode,
		Workers:                   cfg.Cleanup.Workers,
		ExcludeTags:               tags,
		ExcludeIDs:                ids,
		UnknownVolumeAgeQualifies: cfg.Cleanup.UnknownVolumeAgeQualifies,
	}, nil
}

func retryPolicy(cfg config.RetryConfig) executor.RetryPolicy {
	return executor.RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval.Duration,
		MaxInterval:     cfg.MaxInterval.Duration,
		CallTimeout:     cfg.CallTimeout.Duration,
	}
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	runCfg, err := orchestratorConfig(cfg)
	if err != nil {
		return err
	}
	if err := runCfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tel, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	prov, err := awsprovider.New(ctx, awsprovider.Config{
		Region:            cfg.AWS.Region,
		Profile:           cfg.AWS.Profile,
		RequestsPerSecond: cfg.AWS.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	sinks := []sink.Sink{sink.NewLog(logger), sink.NewFile(cfg.Output.Dir)}
	if cfg.Output.HistoryPath != "" {
		store, err := history.Open(cfg.Output.HistoryPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		sinks = append(sinks, sink.NewHistory(store))
	}
	metricsSink, err := sink.NewMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	out := sink.NewMulti(append(sinks, metricsSink)...)
	defer func() { _ = out.Close() }()

	c := &cleaner{
		cfg:     cfg,
		runCfg:  runCfg,
		logger:  logger,
		tracer:  tel.Tracer(),
		dir:     prov,
		deleter: prov,
		sink:    out,
	}

	daemonMetrics, err := daemon.NewMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("init daemon metrics: %w", err)
	}
	d := daemon.New(daemon.Config{
		Interval: cfg.Schedule.Interval.Duration,
		OneShot:  cfg.Schedule.OneShot,
	}, c.run, daemon.WithLogger(logger), daemon.WithMetrics(daemonMetrics))

	logger.Info().
		Str("region", prov.Region()).
		Str("mode", runCfg.Mode.String()).
		Int("retention_days", runCfg.RetentionDays).
		Int("workers", runCfg.Workers).
		Bool("one_shot", cfg.Schedule.OneShot).
		Msg("sweep starting")

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		runCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Start(runCtx)
		}, func(error) {
			cancel()
		})
	}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.Handler())
		d.RegisterHealth(mux)
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Add(func() error {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}

// cleaner runs one orchestrated cleanup with a fresh journal.
type cleaner struct {
	cfg     *config.Config
	runCfg  orchestrator.Config
	logger  zerolog.Logger
	tracer  trace.Tracer
	dir     orchestrator.Directory
	deleter executor.Deleter
	sink    sink.Sink
}

func (c *cleaner) run(ctx context.Context) error {
	runID := uuid.NewString()

	opts := []executor.Option{
		executor.WithRetryPolicy(retryPolicy(c.cfg.Retry)),
		executor.WithTracer(c.tracer),
		executor.WithLogger(c.logger),
	}
	var journal *wal.WAL
	if c.runCfg.Mode == executor.ModeExecute && c.cfg.Output.JournalDir != "" {
		var err error
		journal, err = wal.Open(c.cfg.Output.JournalDir, runID)
		if err != nil {
			return err
		}
		defer func() { _ = journal.Close() }()
		opts = append(opts, executor.WithJournal(journal))
		c.pruneJournals()

		_ = journal.Append(wal.EntryRunStarted, "", map[string]any{
			"retention_days": c.runCfg.RetentionDays,
			"workers":        c.runCfg.Workers,
		})
	}

	orch := orchestrator.New(c.dir, executor.New(c.deleter, opts...), c.sink,
		orchestrator.WithLogger(c.logger),
		orchestrator.WithTracer(c.tracer),
		orchestrator.WithRunID(func() string { return runID }),
	)
	rep, err := orch.Run(ctx, c.runCfg)
	if err != nil {
		return err
	}

	if journal != nil {
		sum := rep.Summary()
		_ = journal.Append(wal.EntryRunFinished, "", map[string]any{
			"totals":        sum.Totals(),
			"failed_phases": sum.FailedPhases,
		})
	}
	return nil
}

func (c *cleaner) pruneJournals() {
	retention := c.cfg.Output.JournalRetention.Duration
	if retention <= 0 {
		return
	}
	removed, err := wal.Prune(c.cfg.Output.JournalDir, time.Now().Add(-retention))
	if err != nil {
		c.logger.Warn().Err(err).Msg("prune journals")
		return
	}
	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("pruned old journals")
	}
}
