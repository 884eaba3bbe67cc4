// Package report folds the per-phase results of one run into an immutable
// cleanup report.
package report

import (
	"time"

	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/pkg/resource"
)

// Phase names one of the four sequential cleanup phases.
type Phase string

const (
	PhaseInstances         Phase = "instances"
	PhaseVolumes           Phase = "volumes"
	PhaseImages            Phase = "images"
	PhaseOrphanedSnapshots Phase = "orphaned_snapshots"
)

// Phases returns the phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseInstances, PhaseVolumes, PhaseImages, PhaseOrphanedSnapshots}
}

// Kind returns the resource kind a phase lists and deletes.
func (p Phase) Kind() resource.Kind {
	switch p {
	case PhaseInstances:
		return resource.KindInstance
	case PhaseVolumes:
		return resource.KindVolume
	case PhaseImages:
		return resource.KindImage
	default:
		return resource.KindSnapshot
	}
}

func (p Phase) String() string { return string(p) }

// PhaseResult is what the orchestrator collected for one phase.
type PhaseResult struct {
	Phase      Phase
	Candidates []string
	Outcomes   []executor.Outcome
	Err        error // listing failure or skipped phase
	Duration   time.Duration
}

// Meta describes the run a report belongs to.
type Meta struct {
	RunID         string
	Mode          executor.Mode
	RetentionDays int
	StartedAt     time.Time
	FinishedAt    time.Time
}

type phaseData struct {
	candidates []string
	outcomes   []executor.Outcome
	failure    string
	duration   time.Duration
}

// Report is never mutated after Aggregate returns. Accessors hand out copies.
type Report struct {
	meta   Meta
	phases map[Phase]phaseData
}

// Aggregate builds a report from phase results. Phases missing from results
// are reported with empty candidate and outcome sets.
func Aggregate(meta Meta, results []PhaseResult) *Report {
	r := &Report{meta: meta, phases: make(map[Phase]phaseData, len(Phases()))}
	for _, p := range Phases() {
		r.phases[p] = phaseData{candidates: []string{}, outcomes: []executor.Outcome{}}
	}

	for _, res := range results {
		d := phaseData{
			candidates: append([]string{}, res.Candidates...),
			outcomes:   copyOutcomes(res.Outcomes),
			duration:   res.Duration,
		}
		if res.Err != nil {
			d.failure = res.Err.Error()
		}
		r.phases[res.Phase] = d
	}
	return r
}

// Meta returns the run metadata.
func (r *Report) Meta() Meta { return r.meta }

// Candidates returns the candidate ids of a phase in directory order.
func (r *Report) Candidates(p Phase) []string {
	return append([]string{}, r.phases[p].candidates...)
}

// Outcomes returns the outcomes of a phase in candidate order.
func (r *Report) Outcomes(p Phase) []executor.Outcome {
	return copyOutcomes(r.phases[p].outcomes)
}

// Duration returns how long a phase took.
func (r *Report) Duration(p Phase) time.Duration { return r.phases[p].duration }

// FailedPhases maps each failed or skipped phase to its reason.
func (r *Report) FailedPhases() map[Phase]string {
	out := make(map[Phase]string)
	for p, d := range r.phases {
		if d.failure != "" {
			out[p] = d.failure
		}
	}
	return out
}

// Counts tallies the outcomes of one phase. Image snapshots count toward the
// images phase.
type Counts struct {
	Candidates int `json:"candidates"`
	Simulated  int `json:"simulated"`
	Deleted    int `json:"deleted"`
	Failed     int `json:"failed"`
}

func (c *Counts) add(o executor.Outcome) {
	switch o.Status {
	case executor.StatusSimulated:
		c.Simulated++
	case executor.StatusSucceeded:
		c.Deleted++
	case executor.StatusFailed:
		c.Failed++
	}
	for _, s := range o.Snapshots {
		c.add(s)
	}
}

// Summary is the compact form of a report kept in run history.
type Summary struct {
	RunID        string           `json:"run_id"`
	Mode         string           `json:"mode"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Phases       map[Phase]Counts `json:"phases"`
	FailedPhases int              `json:"failed_phases"`
}

// Totals sums counts across phases.
func (s Summary) Totals() Counts {
	var t Counts
	for _, c := range s.Phases {
		t.Candidates += c.Candidates
		t.Simulated += c.Simulated
		t.Deleted += c.Deleted
		t.Failed += c.Failed
	}
	return t
}

// Summary computes per-phase counts.
func (r *Report) Summary() Summary {
	s := Summary{
		RunID:        r.meta.RunID,
		Mode:         r.meta.Mode.String(),
		StartedAt:    r.meta.StartedAt,
		FinishedAt:   r.meta.FinishedAt,
		Phases:       make(map[Phase]Counts, len(r.phases)),
		FailedPhases: len(r.FailedPhases()),
	}
	for p, d := range r.phases {
		c := Counts{Candidates: len(d.candidates)}
		for _, o := range d.outcomes {
			c.add(o)
		}
		s.Phases[p] = c
	}
	return s
}

func copyOutcomes(in []executor.Outcome) []executor.Outcome {
	out := make([]executor.Outcome, len(in))
	for i, o := range in {
		out[i] = o
		if o.Snapshots != nil {
			out[i].Snapshots = copyOutcomes(o.Snapshots)
		}
	}
	return out
}
