package report

import (
	"encoding/json"
	"time"

	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/pkg/resource"
)

// document is the on-disk shape of a report.
type document struct {
	RunID         string    `json:"run_id"`
	Mode          string    `json:"mode"`
	RetentionDays int       `json:"retention_days"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`

	InstancesFound         []string `json:"instances_found"`
	VolumesFound           []string `json:"volumes_found"`
	AMIsFound              []string `json:"amis_found"`
	OrphanedSnapshotsFound []string `json:"orphaned_snapshots_found"`

	TerminateInstances []entry `json:"terminate_instances"`
	DeleteVolumes      []entry `json:"delete_volumes"`
	DeregisterAMIs     []entry `json:"deregister_amis"`
	DeleteSnapshots    []entry `json:"delete_snapshots"`

	FailedPhases map[Phase]string `json:"failed_phases"`
}

// entry renders one outcome keyed by the provider's id field name.
type entry map[string]any

func idKey(k resource.Kind) string {
	switch k {
	case resource.KindInstance:
		return "InstanceId"
	case resource.KindVolume:
		return "VolumeId"
	case resource.KindImage:
		return "ImageId"
	default:
		return "SnapshotId"
	}
}

func newEntry(o executor.Outcome) entry {
	e := entry{
		idKey(o.Kind): o.ResourceID,
		"Action":      o.Action(),
	}
	if o.Attempts > 0 {
		e["Attempts"] = o.Attempts
	}
	if o.Kind == resource.KindImage {
		snaps := make([]entry, 0, len(o.Snapshots))
		for _, s := range o.Snapshots {
			snaps = append(snaps, newEntry(s))
		}
		e["SnapshotResults"] = snaps
	}
	return e
}

func (r *Report) entries(p Phase) []entry {
	outcomes := r.phases[p].outcomes
	out := make([]entry, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, newEntry(o))
	}
	return out
}

// MarshalJSON writes the results file schema.
func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(document{
		RunID:         r.meta.RunID,
		Mode:          r.meta.Mode.String(),
		RetentionDays: r.meta.RetentionDays,
		StartedAt:     r.meta.StartedAt.UTC(),
		FinishedAt:    r.meta.FinishedAt.UTC(),

		InstancesFound:         r.Candidates(PhaseInstances),
		VolumesFound:           r.Candidates(PhaseVolumes),
		AMIsFound:              r.Candidates(PhaseImages),
		OrphanedSnapshotsFound: r.Candidates(PhaseOrphanedSnapshots),

		TerminateInstances: r.entries(PhaseInstances),
		DeleteVolumes:      r.entries(PhaseVolumes),
		DeregisterAMIs:     r.entries(PhaseImages),
		DeleteSnapshots:    r.entries(PhaseOrphanedSnapshots),

		FailedPhases: r.FailedPhases(),
	})
}
