package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/sweep/pkg/resource"
)

func TestIsQualified(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	retention := RetentionDays(30)

	tests := []struct {
		name    string
		created time.Time
		want    bool
	}{
		{"older than retention", now.Add(-40 * 24 * time.Hour), true},
		{"exactly at retention", now.Add(-retention), true},
		{"one second short", now.Add(-retention + time.Second), false},
		{"brand new", now, false},
		{"created in the future", now.Add(time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resource.Record{ID: "x", CreatedAt: tt.created}
			assert.Equal(t, tt.want, IsQualified(r, now, retention))
		})
	}
}

func TestIsQualified_ZeroRetention(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.True(t, IsQualified(resource.Record{CreatedAt: now}, now, 0))
}

func TestIsQualified_MissingTimestamp(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.False(t, IsQualified(resource.Record{ID: "vol-1"}, now, 0))
}

func TestIsQualified_Pure(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	r := resource.Record{CreatedAt: now.Add(-31 * 24 * time.Hour)}
	first := IsQualified(r, now, RetentionDays(30))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, IsQualified(r, now, RetentionDays(30)))
	}
}

func TestRetentionDays(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetentionDays(0))
	assert.Equal(t, 72*time.Hour, RetentionDays(3))
}
