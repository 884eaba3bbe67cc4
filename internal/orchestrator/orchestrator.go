// Package orchestrator runs the four cleanup phases in order, fanning each
// phase's candidates out to a bounded worker pool.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/internal/report"
	"github.com/yairfalse/sweep/internal/scanner"
	"github.com/yairfalse/sweep/internal/sink"
	"github.com/yairfalse/sweep/pkg/resource"
)

// Orchestrator coordinates scan, dispatch and report for each phase.
type Orchestrator struct {
	dir    Directory
	exec   Executor
	sink   sink.Sink
	logger zerolog.Logger
	tracer trace.Tracer
	clock  func() time.Time
	newID  func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the base logger each run derives its logger from.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer for run and phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithRunID overrides run id generation.
func WithRunID(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// New creates an orchestrator. A nil sink discards events.
func New(dir Directory, exec Executor, s sink.Sink, opts ...Option) *Orchestrator {
	if s == nil {
		s = sink.Discard{}
	}
	o := &Orchestrator{
		dir:    dir,
		exec:   exec,
		sink:   s,
		logger: zerolog.Nop(),
		tracer: otel.Tracer("sweep/orchestrator"),
		clock:  time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one cleanup run and hands the report to the sink.
//
// Only a *ConfigurationError is returned, before any directory call. Once
// scanning begins the run always produces a report. Cancelling ctx stops the
// run between phases; calls already dispatched finish.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (*report.Report, error) {
	_, rep, err := o.run(ctx, cfg)
	return rep, err
}

func (o *Orchestrator) run(ctx context.Context, cfg Config) (*Run, *report.Report, error) {
	r := &Run{
		ID:     o.newID(),
		Config: cfg,
		clock:  o.clock,
	}
	r.Logger = o.logger.With().Str("run_id", r.ID).Str("mode", cfg.Mode.String()).Logger()
	r.transition(StateIdle, "")

	rules, err := cfg.ruleSet()
	if err != nil {
		r.transition(StateAborted, "")
		r.Logger.Error().Err(err).Msg("run aborted")
		return r, nil, err
	}
	r.rules = rules
	r.Now = o.clock()

	ctx, span := o.tracer.Start(ctx, "sweep.run", trace.WithAttributes(
		attribute.String("run.id", r.ID),
		attribute.String("run.mode", cfg.Mode.String()),
		attribute.Int("run.workers", cfg.Workers),
		attribute.Int("run.retention_days", cfg.RetentionDays),
	))
	defer span.End()

	r.Logger.Info().
		Int("retention_days", cfg.RetentionDays).
		Int("workers", cfg.Workers).
		Int("rules", rules.Len()).
		Msg("starting cleanup run")

	results := make([]report.PhaseResult, 0, len(report.Phases()))
	var claimed map[string]struct{}
	var stopped error

	for _, phase := range report.Phases() {
		if stopped == nil && ctx.Err() != nil {
			stopped = context.Cause(ctx)
			ev := r.event(sink.EventRunStopped, phase)
			ev.Err = stopped
			o.sink.Progress(ctx, ev)
		}
		if stopped != nil {
			results = append(results, report.PhaseResult{Phase: phase, Err: fmt.Errorf("skipped: %w", stopped)})
			continue
		}

		res, units := o.runPhase(ctx, r, phase, claimed)
		if phase == report.PhaseImages {
			claimed = scanner.Claimed(units)
		}
		results = append(results, res)
	}

	r.transition(StateReporting, "")
	rep := report.Aggregate(report.Meta{
		RunID:         r.ID,
		Mode:          cfg.Mode,
		RetentionDays: cfg.RetentionDays,
		StartedAt:     r.Now,
		FinishedAt:    o.clock(),
	}, results)

	// The report is delivered even when the run was stopped.
	if err := o.sink.Report(context.WithoutCancel(ctx), rep); err != nil {
		r.Logger.Error().Err(err).Msg("sink failed to record report")
	}

	r.transition(StateDone, "")
	return r, rep, nil
}

func (o *Orchestrator) runPhase(ctx context.Context, r *Run, phase report.Phase, claimed map[string]struct{}) (report.PhaseResult, []scanner.Unit) {
	start := o.clock()
	ctx, span := o.tracer.Start(ctx, "sweep.phase", trace.WithAttributes(
		attribute.String("phase", phase.String()),
	))
	defer span.End()

	o.sink.Progress(ctx, r.event(sink.EventPhaseStarted, phase))
	r.transition(StateScanning, phase)

	scan, err := o.scan(ctx, r, phase, claimed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		res := report.PhaseResult{Phase: phase, Err: err, Duration: o.clock().Sub(start)}
		ev := r.event(sink.EventPhaseFailed, phase)
		ev.Err = err
		ev.Duration = res.Duration
		o.sink.Progress(ctx, ev)
		return res, nil
	}

	for _, s := range scan.Skipped {
		r.Logger.Debug().
			Str("phase", phase.String()).
			Str("resource_id", s.ID).
			Str("reason", s.Reason).
			Msg("resource skipped")
	}
	span.SetAttributes(attribute.Int("phase.candidates", len(scan.Units)))

	outcomes := o.dispatch(ctx, r, phase, scan.Units)
	for _, out := range outcomes {
		ev := r.event(sink.EventOutcome, phase)
		ev.Outcome = out
		o.sink.Progress(ctx, ev)
	}

	res := report.PhaseResult{
		Phase:      phase,
		Candidates: scan.IDs(),
		Outcomes:   outcomes,
		Duration:   o.clock().Sub(start),
	}
	ev := r.event(sink.EventPhaseFinished, phase)
	ev.Candidates = len(res.Candidates)
	ev.Duration = res.Duration
	o.sink.Progress(ctx, ev)

	return res, scan.Units
}

func (o *Orchestrator) scan(ctx context.Context, r *Run, phase report.Phase, claimed map[string]struct{}) (scanner.Result, error) {
	opts := r.scanOptions()

	switch phase {
	case report.PhaseInstances:
		instances, err := o.list(ctx, resource.KindInstance)
		if err != nil {
			return scanner.Result{}, err
		}
		return scanner.StoppedInstances(instances, opts, r.Now), nil

	case report.PhaseVolumes:
		volumes, err := o.list(ctx, resource.KindVolume)
		if err != nil {
			return scanner.Result{}, err
		}
		return scanner.UnattachedVolumes(volumes, opts, r.Now), nil

	case report.PhaseImages:
		images, err := o.list(ctx, resource.KindImage)
		if err != nil {
			return scanner.Result{}, err
		}
		snapshots, err := o.list(ctx, resource.KindSnapshot)
		if err != nil {
			return scanner.Result{}, err
		}
		return scanner.Images(images, snapshots, opts, r.Now), nil

	case report.PhaseOrphanedSnapshots:
		snapshots, err := o.list(ctx, resource.KindSnapshot)
		if err != nil {
			return scanner.Result{}, err
		}
		// Without the image list, ownership cannot be ruled out.
		images, err := o.list(ctx, resource.KindImage)
		if err != nil {
			return scanner.Result{}, err
		}
		return scanner.OrphanedSnapshots(snapshots, images, claimed, opts, r.Now), nil
	}

	return scanner.Result{}, fmt.Errorf("unknown phase %q", phase)
}

func (o *Orchestrator) list(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	records, err := o.dir.List(ctx, kind)
	if err != nil {
		return nil, &DirectoryError{Kind: kind, Err: err}
	}
	return records, nil
}

// dispatch runs units on at most Config.Workers goroutines. Outcomes are
// returned in unit order.
func (o *Orchestrator) dispatch(ctx context.Context, r *Run, phase report.Phase, units []scanner.Unit) []executor.Outcome {
	r.transition(StateDispatching, phase)

	outcomes := make([]executor.Outcome, len(units))
	var g errgroup.Group
	g.SetLimit(r.Config.Workers)
	for i, unit := range units {
		g.Go(func() error {
			outcomes[i] = o.exec.Execute(ctx, unit, r.Config.Mode)
			return nil
		})
	}

	r.transition(StateCollecting, phase)
	_ = g.Wait()
	return outcomes
}
