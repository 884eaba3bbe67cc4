package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/sweep/internal/wal"
	"github.com/yairfalse/sweep/pkg/resource"
)

// Mode selects whether destructive calls are issued.
type Mode int

const (
	ModeSimulate Mode = iota
	ModeExecute
)

func (m Mode) String() string {
	if m == ModeExecute {
		return "execute"
	}
	return "simulate"
}

// ParseMode parses "simulate", "dry-run" or "execute".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simulate", "dry-run", "dryrun", "":
		return ModeSimulate, nil
	case "execute":
		return ModeExecute, nil
	default:
		return ModeSimulate, fmt.Errorf("unknown mode %q", s)
	}
}

// Status is the terminal state of one deletion.
type Status string

const (
	StatusSimulated Status = "simulated"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome records what happened to one candidate.
type Outcome struct {
	ResourceID string
	Kind       resource.Kind
	Status     Status
	Reason     string // set when Status is StatusFailed
	Attempts   int    // provider calls issued

	// Image outcomes only, in the unit's snapshot order. Empty when the
	// image itself failed, since its snapshots are never attempted then.
	Snapshots []Outcome
}

// Action renders the outcome the way the results file reports it.
func (o Outcome) Action() string {
	switch o.Status {
	case StatusSimulated:
		return "DryRun"
	case StatusSucceeded:
		return "Deleted"
	default:
		return "Failed:" + o.Reason
	}
}

// Deleter issues the single destructive provider call for a resource.
type Deleter interface {
	Delete(ctx context.Context, kind resource.Kind, id string) error
}

// ProviderError is the classification surface the executor relies on.
// Provider adapters wrap their SDK errors in a type implementing it.
type ProviderError interface {
	error
	Transient() bool
	Reason() string
}

// Journal records destructive calls before and after they happen.
type Journal interface {
	Append(entryType wal.EntryType, resourceID string, data any) error
	AppendError(entryType wal.EntryType, resourceID string, data any, err error) error
}

// RetryPolicy bounds retries of transient provider errors.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CallTimeout     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		CallTimeout:     30 * time.Second,
	}
}

// IsTransient reports whether err should be retried. Errors that do not
// carry a provider classification are permanent, except for a per-call
// deadline expiring.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Reason extracts the operator facing reason for err.
func Reason(err error) string {
	var pe ProviderError
	if errors.As(err, &pe) {
		return pe.Reason()
	}
	return err.Error()
}
