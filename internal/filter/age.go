package filter

import (
	"time"

	"github.com/yairfalse/sweep/pkg/resource"
)

// IsQualified reports whether r is at least retention old at now.
// The boundary is inclusive. Records without a creation timestamp never
// qualify here; callers decide how to treat missing metadata.
func IsQualified(r resource.Record, now time.Time, retention time.Duration) bool {
	if !r.HasCreatedAt() {
		return false
	}
	return now.Sub(r.CreatedAt) >= retention
}

// RetentionDays converts a day count into a retention duration.
func RetentionDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
