// Package scanner turns directory records into ordered deletion candidates.
//
// Scans are pure: they never call the provider and read the clock only
// through the now argument, so results are reproducible.
package scanner

import (
	"time"

	"github.com/yairfalse/sweep/internal/filter"
	"github.com/yairfalse/sweep/pkg/resource"
)

// Options controls candidate qualification.
type Options struct {
	Retention time.Duration
	Rules     *filter.RuleSet

	// UnknownVolumeAgeQualifies treats an unattached volume without a
	// creation timestamp as old enough. Missing metadata should not
	// protect a resource indefinitely.
	UnknownVolumeAgeQualifies bool
}

// Unit is one deletion unit: a primary record and, for images, the
// snapshots that are deleted together with it.
type Unit struct {
	Record    resource.Record
	Snapshots []resource.Record
}

// ID returns the primary resource ID.
func (u Unit) ID() string {
	return u.Record.ID
}

// Kind returns the primary resource kind.
func (u Unit) Kind() resource.Kind {
	return u.Record.Kind
}

// Skip explains why a record did not become a candidate.
type Skip struct {
	ID     string
	Reason string
}

// Skip reasons.
const (
	SkipWrongState = "state"
	SkipExcluded   = "excluded"
	SkipTooYoung   = "retention"
	SkipNoAge      = "no-timestamp"
	SkipNotOwned   = "not-owned"
	SkipOwned      = "owned-by-image"
)

// Result is the outcome of one scan.
type Result struct {
	Units   []Unit
	Skipped []Skip
}

// IDs returns the primary IDs of all units in order.
func (r Result) IDs() []string {
	ids := make([]string, 0, len(r.Units))
	for _, u := range r.Units {
		ids = append(ids, u.ID())
	}
	return ids
}

// StoppedInstances selects stopped instances past retention.
func StoppedInstances(records []resource.Record, opts Options, now time.Time) Result {
	var res Result
	for _, r := range ofKind(records, resource.KindInstance) {
		if r.PowerState != resource.PowerStateStopped {
			res.skip(r, SkipWrongState)
			continue
		}
		if reason, ok := qualify(r, opts, now, false); !ok {
			res.skip(r, reason)
			continue
		}
		res.Units = append(res.Units, Unit{Record: r})
	}
	return res
}

// UnattachedVolumes selects unattached volumes past retention.
func UnattachedVolumes(records []resource.Record, opts Options, now time.Time) Result {
	var res Result
	for _, r := range ofKind(records, resource.KindVolume) {
		if r.AttachmentState != resource.AttachmentUnattached {
			res.skip(r, SkipWrongState)
			continue
		}
		if reason, ok := qualify(r, opts, now, opts.UnknownVolumeAgeQualifies); !ok {
			res.skip(r, reason)
			continue
		}
		res.Units = append(res.Units, Unit{Record: r})
	}
	return res
}

// Images selects self-owned images past retention. Every snapshot whose
// parent is a selected image joins that image's unit, regardless of the
// snapshot's own age or tags.
func Images(images, snapshots []resource.Record, opts Options, now time.Time) Result {
	children := make(map[string][]resource.Record)
	for _, s := range ofKind(snapshots, resource.KindSnapshot) {
		if s.ParentImageID != "" {
			children[s.ParentImageID] = append(children[s.ParentImageID], s)
		}
	}

	var res Result
	for _, r := range ofKind(images, resource.KindImage) {
		if !r.OwnedBySelf {
			res.skip(r, SkipNotOwned)
			continue
		}
		if reason, ok := qualify(r, opts, now, false); !ok {
			res.skip(r, reason)
			continue
		}
		res.Units = append(res.Units, Unit{Record: r, Snapshots: children[r.ID]})
	}
	return res
}

// OrphanedSnapshots selects snapshots past retention whose parent image is
// unknown or no longer listed. Snapshots in claimed belong to an image unit
// of the same run and are never selected.
func OrphanedSnapshots(snapshots, images []resource.Record, claimed map[string]struct{}, opts Options, now time.Time) Result {
	listed := make(map[string]struct{})
	for _, img := range ofKind(images, resource.KindImage) {
		listed[img.ID] = struct{}{}
	}

	var res Result
	for _, r := range ofKind(snapshots, resource.KindSnapshot) {
		if _, ok := claimed[r.ID]; ok {
			res.skip(r, SkipOwned)
			continue
		}
		if r.ParentImageID != "" {
			if _, ok := listed[r.ParentImageID]; ok {
				res.skip(r, SkipOwned)
				continue
			}
		}
		if reason, ok := qualify(r, opts, now, false); !ok {
			res.skip(r, reason)
			continue
		}
		res.Units = append(res.Units, Unit{Record: r})
	}
	return res
}

// Claimed returns the IDs of all snapshots attached to units.
func Claimed(units []Unit) map[string]struct{} {
	claimed := make(map[string]struct{})
	for _, u := range units {
		for _, s := range u.Snapshots {
			claimed[s.ID] = struct{}{}
		}
	}
	return claimed
}

// qualify applies exclusion first, then age.
func qualify(r resource.Record, opts Options, now time.Time, unknownAgeQualifies bool) (string, bool) {
	if opts.Rules.IsExcluded(r) {
		return SkipExcluded, false
	}
	if !r.HasCreatedAt() {
		if unknownAgeQualifies {
			return "", true
		}
		return SkipNoAge, false
	}
	if !filter.IsQualified(r, now, opts.Retention) {
		return SkipTooYoung, false
	}
	return "", true
}

func ofKind(records []resource.Record, kind resource.Kind) []resource.Record {
	out := make([]resource.Record, 0, len(records))
	for _, r := range records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func (r *Result) skip(rec resource.Record, reason string) {
	r.Skipped = append(r.Skipped, Skip{ID: rec.ID, Reason: reason})
}
