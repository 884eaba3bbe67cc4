package sink

import (
	"context"
	"fmt"

	"github.com/yairfalse/sweep/internal/report"
)

// Saver persists reports.
type Saver interface {
	Save(r *report.Report) error
}

// History stores every report through a Saver.
type History struct {
	saver Saver
}

// NewHistory creates a history sink.
func NewHistory(saver Saver) *History {
	return &History{saver: saver}
}

// Progress is a no-op for the history sink.
func (h *History) Progress(context.Context, Event) {}

// Report saves r.
func (h *History) Report(_ context.Context, r *report.Report) error {
	if err := h.saver.Save(r); err != nil {
		return fmt.Errorf("save run history: %w", err)
	}
	return nil
}

// Close does not close the Saver; its owner does.
func (h *History) Close() error { return nil }
