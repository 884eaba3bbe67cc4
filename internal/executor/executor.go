// Package executor performs or simulates the destructive call for one
// deletion unit and turns provider errors into per-resource outcomes.
package executor

import (
	"context"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/sweep/internal/scanner"
	"github.com/yairfalse/sweep/internal/wal"
	"github.com/yairfalse/sweep/pkg/resource"
)

// Executor is safe for concurrent use when its Deleter and Journal are.
type Executor struct {
	deleter Deleter
	retry   RetryPolicy
	journal Journal
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) { e.retry = p }
}

// WithJournal records every destructive call.
func WithJournal(j Journal) Option {
	return func(e *Executor) { e.journal = j }
}

// WithTracer sets the tracer used for deletion spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithLogger sets the logger for retry and journal diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor issuing calls through deleter.
func New(deleter Deleter, opts ...Option) *Executor {
	e := &Executor{
		deleter: deleter,
		retry:   DefaultRetryPolicy(),
		tracer:  otel.Tracer("sweep/executor"),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retry.MaxAttempts < 1 {
		e.retry.MaxAttempts = 1
	}
	return e
}

// Execute deletes or simulates deleting unit.
//
// In execute mode the primary resource gets exactly one logical delete
// (retried only on transient errors). Image snapshots are attempted only
// after the image is deregistered, each with its own outcome.
func (e *Executor) Execute(ctx context.Context, unit scanner.Unit, mode Mode) Outcome {
	if mode != ModeExecute {
		return simulate(unit)
	}

	// A destructive call, once issued, must finish rather than be abandoned.
	ctx = context.WithoutCancel(ctx)
	ctx, span := e.tracer.Start(ctx, "sweep.delete", trace.WithAttributes(
		attribute.String("resource.id", unit.ID()),
		attribute.String("resource.kind", unit.Kind().String()),
		attribute.Int("resource.snapshots", len(unit.Snapshots)),
	))
	defer span.End()

	out := e.deleteOne(ctx, unit.Record)
	if out.Status == StatusFailed {
		span.SetStatus(codes.Error, out.Reason)
	}
	if unit.Kind() != resource.KindImage {
		return out
	}

	out.Snapshots = make([]Outcome, 0, len(unit.Snapshots))
	if out.Status != StatusSucceeded {
		if len(unit.Snapshots) > 0 {
			e.logger.Warn().
				Str("resource_id", unit.ID()).
				Int("snapshots", len(unit.Snapshots)).
				Msg("image not deregistered, keeping its snapshots")
		}
		return out
	}

	for _, s := range unit.Snapshots {
		out.Snapshots = append(out.Snapshots, e.deleteOne(ctx, s))
	}
	return out
}

type journalData struct {
	Kind     resource.Kind `json:"kind"`
	Attempts int           `json:"attempts,omitempty"`
}

func (e *Executor) deleteOne(ctx context.Context, r resource.Record) Outcome {
	out := Outcome{ResourceID: r.ID, Kind: r.Kind}
	e.journalAppend(wal.EntryExecuting, r, 0, nil)

	var lastErr error
	op := func() (struct{}, error) {
		out.Attempts++
		err := e.call(ctx, r)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		e.logger.Debug().
			Err(err).
			Str("resource_id", r.ID).
			Int("attempt", out.Attempts).
			Msg("transient provider error")
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(e.backOff()),
		backoff.WithMaxTries(uint(e.retry.MaxAttempts)),
	)
	if err == nil {
		out.Status = StatusSucceeded
		e.journalAppend(wal.EntryExecuted, r, out.Attempts, nil)
		return out
	}

	if lastErr == nil {
		lastErr = err
	}
	out.Status = StatusFailed
	out.Reason = Reason(lastErr)
	e.journalAppend(wal.EntryFailed, r, out.Attempts, lastErr)
	return out
}

// call issues one provider request bounded by the per-call timeout.
func (e *Executor) call(ctx context.Context, r resource.Record) error {
	if e.retry.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.retry.CallTimeout)
		defer cancel()
	}
	return e.deleter.Delete(ctx, r.Kind, r.ID)
}

func (e *Executor) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if e.retry.InitialInterval > 0 {
		b.InitialInterval = e.retry.InitialInterval
	}
	if e.retry.MaxInterval > 0 {
		b.MaxInterval = e.retry.MaxInterval
	}
	return b
}

func (e *Executor) journalAppend(t wal.EntryType, r resource.Record, attempts int, cause error) {
	if e.journal == nil {
		return
	}
	data := journalData{Kind: r.Kind, Attempts: attempts}

	var err error
	if cause != nil {
		err = e.journal.AppendError(t, r.ID, data, cause)
	} else {
		err = e.journal.Append(t, r.ID, data)
	}
	if err != nil {
		e.logger.Error().Err(err).Str("resource_id", r.ID).Msg("journal write failed")
	}
}

func simulate(unit scanner.Unit) Outcome {
	out := Outcome{ResourceID: unit.ID(), Kind: unit.Kind(), Status: StatusSimulated}
	if unit.Kind() == resource.KindImage {
		out.Snapshots = make([]Outcome, 0, len(unit.Snapshots))
		for _, s := range unit.Snapshots {
			out.Snapshots = append(out.Snapshots, Outcome{ResourceID: s.ID, Kind: s.Kind, Status: StatusSimulated})
		}
	}
	return out
}
