package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/internal/filter"
	"github.com/yairfalse/sweep/internal/report"
	"github.com/yairfalse/sweep/internal/scanner"
	"github.com/yairfalse/sweep/internal/sink"
	"github.com/yairfalse/sweep/pkg/resource"
)

// Directory lists normalized resource records of one kind.
type Directory interface {
	List(ctx context.Context, kind resource.Kind) ([]resource.Record, error)
}

// Executor processes one deletion unit.
type Executor interface {
	Execute(ctx context.Context, unit scanner.Unit, mode executor.Mode) executor.Outcome
}

// Config is the per-run configuration the orchestrator validates before
// touching the directory.
type Config struct {
	RetentionDays int
	Mode          executor.Mode
	Workers       int

	// ExcludeTags holds rules in "Key", "Key=Value" or "Key~glob" form.
	ExcludeTags []string
	ExcludeIDs  []string

	// UnknownVolumeAgeQualifies treats unattached volumes without a creation
	// time as old enough.
	UnknownVolumeAgeQualifies bool
}

// Validate returns a *ConfigurationError describing the first problem.
func (c Config) Validate() error {
	_, err := c.ruleSet()
	return err
}

func (c Config) ruleSet() (*filter.RuleSet, error) {
	if c.Workers <= 0 {
		return nil, &ConfigurationError{Field: "workers", Err: fmt.Errorf("must be at least 1, got %d", c.Workers)}
	}
	if c.RetentionDays < 0 {
		return nil, &ConfigurationError{Field: "retention_days", Err: fmt.Errorf("must not be negative, got %d", c.RetentionDays)}
	}
	rules, err := filter.ParseRules(c.ExcludeTags, c.ExcludeIDs)
	if err != nil {
		return nil, &ConfigurationError{Field: "exclusions", Err: err}
	}
	return rules, nil
}

// ConfigurationError aborts a run before any phase starts.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DirectoryError is a listing failure. It fails only the phase it occurred in.
type DirectoryError struct {
	Kind resource.Kind
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("list %s: %v", e.Kind, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

// State is a step of the run state machine.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateDispatching State = "dispatching"
	StateCollecting  State = "collecting"
	StateReporting   State = "reporting"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// Transition records entering a state.
type Transition struct {
	State State
	Phase report.Phase
	At    time.Time
}

// Run is the context of one cleanup run. Nothing in it outlives the run.
type Run struct {
	ID     string
	Config Config
	Now    time.Time // single clock reading used for every age check
	Logger zerolog.Logger

	rules *filter.RuleSet
	clock func() time.Time

	mu          sync.Mutex
	transitions []Transition
}

// Transitions returns the states the run went through.
func (r *Run) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}

func (r *Run) transition(s State, phase report.Phase) {
	r.mu.Lock()
	r.transitions = append(r.transitions, Transition{State: s, Phase: phase, At: r.clock()})
	r.mu.Unlock()

	r.Logger.Debug().Str("state", string(s)).Str("phase", phase.String()).Msg("run state")
}

func (r *Run) event(t sink.EventType, phase report.Phase) sink.Event {
	return sink.Event{RunID: r.ID, Mode: r.Config.Mode, Type: t, Phase: phase}
}

func (r *Run) scanOptions() scanner.Options {
	return scanner.Options{
		Retention:                 filter.RetentionDays(r.Config.RetentionDays),
		Rules:                     r.rules,
		UnknownVolumeAgeQualifies: r.Config.UnknownVolumeAgeQualifies,
	}
}
