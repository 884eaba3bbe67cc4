package sink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/internal/report"
)

// Log writes operator-facing lines for every event and a summary block for
// the report.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log sink.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Progress logs one event.
func (l *Log) Progress(_ context.Context, ev Event) {
	logger := l.logger.With().
		Str("run_id", ev.RunID).
		Str("mode", ev.Mode.String()).
		Logger()

	switch ev.Type {
	case EventPhaseStarted:
		logger.Info().Str("phase", ev.Phase.String()).Msg("phase started")
	case EventPhaseFinished:
		logger.Info().
			Str("phase", ev.Phase.String()).
			Int("candidates", ev.Candidates).
			Dur("duration", ev.Duration).
			Msg("phase finished")
	case EventPhaseFailed:
		logger.Error().Err(ev.Err).Str("phase", ev.Phase.String()).Msg("phase failed")
	case EventRunStopped:
		logger.Warn().Err(ev.Err).Str("phase", ev.Phase.String()).Msg("run stopped, skipping remaining phases")
	case EventOutcome:
		logOutcome(logger, ev.Phase, ev.Outcome)
	}
}

func logOutcome(logger zerolog.Logger, phase report.Phase, o executor.Outcome) {
	e := logger.Info()
	if o.Status == executor.StatusFailed {
		e = logger.Warn().Str("reason", o.Reason)
	}
	e.Str("phase", phase.String()).
		Str("kind", o.Kind.String()).
		Str("resource_id", o.ResourceID).
		Str("action", o.Action()).
		Int("attempts", o.Attempts).
		Msg("resource processed")

	for _, s := range o.Snapshots {
		logOutcome(logger.With().Str("image_id", o.ResourceID).Logger(), phase, s)
	}
}

// Report logs the run summary.
func (l *Log) Report(_ context.Context, r *report.Report) error {
	s := r.Summary()
	logger := l.logger.With().Str("run_id", s.RunID).Str("mode", s.Mode).Logger()

	for _, p := range report.Phases() {
		c := s.Phases[p]
		logger.Info().
			Str("phase", p.String()).
			Int("found", c.Candidates).
			Int("simulated", c.Simulated).
			Int("deleted", c.Deleted).
			Int("failed", c.Failed).
			Msg("summary")
	}
	for p, reason := range r.FailedPhases() {
		logger.Warn().Str("phase", p.String()).Str("reason", reason).Msg("phase incomplete")
	}

	t := s.Totals()
	logger.Info().
		Int("found", t.Candidates).
		Int("deleted", t.Deleted).
		Int("failed", t.Failed).
		Dur("duration", s.FinishedAt.Sub(s.StartedAt)).
		Msg("cleanup run complete")
	return nil
}

// Close is a no-op for the log sink.
func (l *Log) Close() error { return nil }
