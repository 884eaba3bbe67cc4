// Package resource defines the normalized resource record sweep works on.
package resource

import "time"

// Kind identifies one of the resource families sweep audits.
type Kind string

const (
	KindInstance Kind = "instance"
	KindVolume   Kind = "volume"
	KindImage    Kind = "image"
	KindSnapshot Kind = "snapshot"
)

// Kinds returns all kinds in listing order.
func Kinds() []Kind {
	return []Kind{KindInstance, KindVolume, KindImage, KindSnapshot}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInstance, KindVolume, KindImage, KindSnapshot:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Power states reported for instances.
const (
	PowerStateRunning  = "running"
	PowerStateStopping = "stopping"
	PowerStateStopped  = "stopped"
)

// Attachment states reported for volumes.
const (
	AttachmentAttached   = "attached"
	AttachmentUnattached = "unattached"
)

// Record is a provider resource in normalized form.
// Records are read-only once built by a directory listing.
type Record struct {
	Kind      Kind              `json:"kind"`
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	CreatedAt time.Time         `json:"created_at"` // zero when the provider reported none
	Tags      map[string]string `json:"tags,omitempty"`

	// Instance only.
	PowerState string `json:"power_state,omitempty"`
	// Volume only.
	AttachmentState string `json:"attachment_state,omitempty"`
	// Image only.
	OwnedBySelf bool `json:"owned_by_self,omitempty"`
	// Snapshot only. Empty when no image references the snapshot.
	ParentImageID string `json:"parent_image_id,omitempty"`
}

// HasCreatedAt reports whether the provider supplied a creation timestamp.
func (r Record) HasCreatedAt() bool {
	return !r.CreatedAt.IsZero()
}

// Tag returns the value of a tag and whether the key is present.
func (r Record) Tag(key string) (string, bool) {
	if r.Tags == nil {
		return "", false
	}
	v, ok := r.Tags[key]
	return v, ok
}

// Age returns how old the record is at now. Zero if no timestamp is known.
func (r Record) Age(now time.Time) time.Duration {
	if !r.HasCreatedAt() {
		return 0
	}
	return now.Sub(r.CreatedAt)
}
