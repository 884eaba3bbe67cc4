package sink

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/internal/report"
)

// Metrics records run progress as OTEL instruments, exported in Prometheus
// format by the telemetry provider.
type Metrics struct {
	candidatesTotal metric.Int64Counter
	outcomesTotal   metric.Int64Counter
	phaseDuration   metric.Float64Histogram
	scanErrorsTotal metric.Int64Counter
	lastRun         metric.Float64ObservableGauge

	mu          sync.RWMutex
	lastRunUnix float64
	lastRunMode string
}

// NewMetrics creates a metrics sink on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := &Metrics{}
	if err := m.initMetrics(mp.Meter("sweep")); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics(meter metric.Meter) error {
	var err error

	m.candidatesTotal, err = meter.Int64Counter(
		"sweep_candidates_total",
		metric.WithDescription("Resources selected for deletion"),
	)
	if err != nil {
		return fmt.Errorf("create candidates counter: %w", err)
	}

	m.outcomesTotal, err = meter.Int64Counter(
		"sweep_outcomes_total",
		metric.WithDescription("Deletion outcomes by kind and status"),
	)
	if err != nil {
		return fmt.Errorf("create outcomes counter: %w", err)
	}

	m.phaseDuration, err = meter.Float64Histogram(
		"sweep_phase_duration_seconds",
		metric.WithDescription("Time taken by one cleanup phase"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create phase_duration histogram: %w", err)
	}

	m.scanErrorsTotal, err = meter.Int64Counter(
		"sweep_scan_errors_total",
		metric.WithDescription("Phases that failed to list resources"),
	)
	if err != nil {
		return fmt.Errorf("create scan_errors counter: %w", err)
	}

	m.lastRun, err = meter.Float64ObservableGauge(
		"sweep_last_run_timestamp_seconds",
		metric.WithDescription("Finish time of the last reported run"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(m.observeLastRun),
	)
	if err != nil {
		return fmt.Errorf("create last_run gauge: %w", err)
	}

	return nil
}

// Progress updates counters for one event.
func (m *Metrics) Progress(ctx context.Context, ev Event) {
	phase := attribute.String("phase", ev.Phase.String())
	mode := attribute.String("mode", ev.Mode.String())

	switch ev.Type {
	case EventPhaseFinished:
		m.candidatesTotal.Add(ctx, int64(ev.Candidates), metric.WithAttributes(phase, mode))
		m.phaseDuration.Record(ctx, ev.Duration.Seconds(), metric.WithAttributes(phase))
	case EventPhaseFailed:
		m.scanErrorsTotal.Add(ctx, 1, metric.WithAttributes(phase))
		m.phaseDuration.Record(ctx, ev.Duration.Seconds(), metric.WithAttributes(phase))
	case EventOutcome:
		m.recordOutcome(ctx, phase, mode, ev.Outcome)
	}
}

func (m *Metrics) recordOutcome(ctx context.Context, phase, mode attribute.KeyValue, o executor.Outcome) {
	m.outcomesTotal.Add(ctx, 1, metric.WithAttributes(
		phase,
		mode,
		attribute.String("kind", o.Kind.String()),
		attribute.String("status", string(o.Status)),
	))
	for _, s := range o.Snapshots {
		m.recordOutcome(ctx, phase, mode, s)
	}
}

// Report records when the run finished.
func (m *Metrics) Report(_ context.Context, r *report.Report) error {
	meta := r.Meta()

	m.mu.Lock()
	m.lastRunUnix = float64(meta.FinishedAt.Unix())
	m.lastRunMode = meta.Mode.String()
	m.mu.Unlock()
	return nil
}

func (m *Metrics) observeLastRun(_ context.Context, o metric.Float64Observer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastRunUnix == 0 {
		return nil
	}
	o.Observe(m.lastRunUnix, metric.WithAttributes(attribute.String("mode", m.lastRunMode)))
	return nil
}

// Close is a no-op; the meter provider is shut down by its owner.
func (m *Metrics) Close() error { return nil }
