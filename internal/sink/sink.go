// Package sink receives progress events and the final report of a run.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/internal/report"
)

// EventType identifies a progress event.
type EventType string

const (
	EventPhaseStarted  EventType = "phase_started"
	EventPhaseFinished EventType = "phase_finished"
	EventPhaseFailed   EventType = "phase_failed"
	EventOutcome       EventType = "outcome"
	EventRunStopped    EventType = "run_stopped"
)

// Event is one progress notification. Outcome is set for EventOutcome,
// Err for EventPhaseFailed and EventRunStopped.
type Event struct {
	RunID      string
	Mode       executor.Mode
	Type       EventType
	Phase      report.Phase
	Candidates int
	Outcome    executor.Outcome
	Err        error
	Duration   time.Duration
}

// Sink outputs run progress and results to a backend. Calls for one run
// are made from a single goroutine.
type Sink interface {
	Progress(ctx context.Context, ev Event)

	// Report persists or displays the final report.
	Report(ctx context.Context, r *report.Report) error

	Close() error
}

// Multi fans out to multiple sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a sink that forwards to every given sink.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Progress forwards ev to all sinks.
func (m *Multi) Progress(ctx context.Context, ev Event) {
	for _, s := range m.sinks {
		s.Progress(ctx, ev)
	}
}

// Report hands r to every sink. One sink failing does not stop the others.
func (m *Multi) Report(ctx context.Context, r *report.Report) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Progress(context.Context, Event) {}

func (Discard) Report(context.Context, *report.Report) error { return nil }

func (Discard) Close() error { return nil }
