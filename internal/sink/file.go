package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yairfalse/sweep/internal/report"
)

// File writes each report to sweep_results_<unix>.json in a directory.
type File struct {
	dir  string
	now  func() time.Time
	last string
}

// NewFile creates a file sink writing into dir.
func NewFile(dir string) *File {
	return &File{dir: dir, now: time.Now}
}

// Path returns the last file written.
func (f *File) Path() string { return f.last }

// Progress is a no-op for the file sink.
func (f *File) Progress(context.Context, Event) {}

// Report writes r as indented JSON.
func (f *File) Report(_ context.Context, r *report.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(f.dir, fmt.Sprintf("sweep_results_%d.json", f.now().Unix()))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename results: %w", err)
	}

	f.last = path
	return nil
}

// Close is a no-op for the file sink.
func (f *File) Close() error { return nil }
