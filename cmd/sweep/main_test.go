package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/sweep/internal/config"
	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/internal/history"
	"github.com/yairfalse/sweep/internal/orchestrator"
	"github.com/yairfalse/sweep/internal/report"
	"github.com/yairfalse/sweep/internal/sink"
	"github.com/yairfalse/sweep/internal/wal"
	"github.com/yairfalse/sweep/pkg/resource"
)

type mockDirectory struct {
	records map[resource.Kind][]resource.Record
}

func (m *mockDirectory) List(_ context.Context, kind resource.Kind) ([]resource.Record, error) {
	return m.records[kind], nil
}

type mockDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (m *mockDeleter) Delete(_ context.Context, _ resource.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func TestApplyFlags_NoneSet(t *testing.T) {
	cfg := config.Default()
	applyFlags(pflag.NewFlagSet("empty", pflag.ContinueOnError), cfg)

	assert.Equal(t, config.Default(), cfg)
}

func TestApplyFlags_Overrides(t *testing.T) {
	flags := rootCmd.Flags()
	require.NoError(t, flags.Set("region", "eu-central-1"))
	require.NoError(t, flags.Set("days", "7"))
	require.NoError(t, flags.Set("execute", "true"))
	require.NoError(t, flags.Set("exclude-tag", "DoNotDelete"))
	require.NoError(t, flags.Set("exclude-tag", "env=prod"))
	require.NoError(t, flags.Set("exclude-id", "i-keep"))
	require.NoError(t, flags.Set("max-workers", "0"))
	require.NoError(t, flags.Set("interval", "6h"))

	cfg := config.Default()
	cfg.Cleanup.ExcludeTags = []string{"FromFile"}
	applyFlags(flags, cfg)

	assert.Equal(t, "eu-central-1", cfg.AWS.Region)
	assert.Equal(t, 7, cfg.Cleanup.RetentionDays)
	assert.True(t, cfg.Cleanup.Execute)
	assert.Equal(t, []string{"FromFile", "DoNotDelete", "env=prod"}, cfg.Cleanup.ExcludeTags)
	assert.Equal(t, []string{"i-keep"}, cfg.Cleanup.ExcludeIDs)
	assert.Equal(t, 0, cfg.Cleanup.Workers)
	assert.Equal(t, 6*time.Hour, cfg.Schedule.Interval.Duration)
	assert.False(t, cfg.Schedule.OneShot)
}

func TestOrchestratorConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protect.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ids: [vol-keep]\n"), 0o600))

	cfg := config.Default()
	cfg.Cleanup.Execute = true
	cfg.Cleanup.ExclusionsFile = path

	got, err := orchestratorConfig(cfg)

	require.NoError(t, err)
	assert.Equal(t, executor.ModeExecute, got.Mode)
	assert.Equal(t, 30, got.RetentionDays)
	assert.Equal(t, 10, got.Workers)
	assert.Equal(t, []string{"vol-keep"}, got.ExcludeIDs)
	assert.True(t, got.UnknownVolumeAgeQualifies)
}

func TestOrchestratorConfig_ZeroWorkersRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Cleanup.Workers = 0

	got, err := orchestratorConfig(cfg)
	require.NoError(t, err)

	var cfgErr *orchestrator.ConfigurationError
	require.ErrorAs(t, got.Validate(), &cfgErr)
	assert.Equal(t, "workers", cfgErr.Field)
}

func TestRetryPolicy(t *testing.T) {
	got := retryPolicy(config.Default().Retry)
	assert.Equal(t, executor.DefaultRetryPolicy(), got)
}

func newCleaner(t *testing.T, cfg *config.Config, dir *mockDirectory, del *mockDeleter, s sink.Sink) *cleaner {
	t.Helper()
	runCfg, err := orchestratorConfig(cfg)
	require.NoError(t, err)
	return &cleaner{
		cfg:     cfg,
		runCfg:  runCfg,
		logger:  zerolog.Nop(),
		tracer:  noop.NewTracerProvider().Tracer("test"),
		dir:     dir,
		deleter: del,
		sink:    s,
	}
}

func oldVolume(id string) resource.Record {
	return resource.Record{
		Kind:            resource.KindVolume,
		ID:              id,
		CreatedAt:       time.Now().Add(-100 * 24 * time.Hour),
		AttachmentState: resource.AttachmentUnattached,
	}
}

func TestCleaner_ExecuteWritesJournalAndHistory(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.Default()
	cfg.Cleanup.Execute = true
	cfg.Output.Dir = filepath.Join(tmp, "out")
	cfg.Output.JournalDir = filepath.Join(tmp, "journal")

	store, err := history.Open(filepath.Join(tmp, "history.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	file := sink.NewFile(cfg.Output.Dir)
	dir := &mockDirectory{records: map[resource.Kind][]resource.Record{
		resource.KindVolume: {oldVolume("vol-1"), oldVolume("vol-2")},
	}}
	del := &mockDeleter{}

	c := newCleaner(t, cfg, dir, del, sink.NewMulti(file, sink.NewHistory(store)))
	require.NoError(t, c.run(context.Background()))

	assert.ElementsMatch(t, []string{"vol-1", "vol-2"}, del.deleted)
	assert.FileExists(t, file.Path())

	runs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.Counts{Candidates: 2, Deleted: 2}, runs[0].Phases[report.PhaseVolumes])

	var types []wal.EntryType
	require.NoError(t, wal.Replay(cfg.Output.JournalDir, time.Time{}, func(e *wal.Entry) error {
		assert.Equal(t, runs[0].RunID, e.RunID)
		types = append(types, e.Type)
		return nil
	}))
	require.NotEmpty(t, types)
	assert.Equal(t, wal.EntryRunStarted, types[0])
	assert.Equal(t, wal.EntryRunFinished, types[len(types)-1])
	assert.Len(t, types, 6)

	var out bytes.Buffer
	require.NoError(t, printJournal(&out, cfg.Output.JournalDir, time.Time{}, runs[0].RunID))
	assert.Contains(t, out.String(), "vol-1")
	assert.Contains(t, out.String(), "executed")

	out.Reset()
	require.NoError(t, printJournal(&out, cfg.Output.JournalDir, time.Time{}, "other-run"))
	assert.NotContains(t, out.String(), "vol-1")
}

func TestCleaner_SimulateSkipsJournal(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.Default()
	cfg.Output.JournalDir = filepath.Join(tmp, "journal")

	dir := &mockDirectory{records: map[resource.Kind][]resource.Record{
		resource.KindVolume: {oldVolume("vol-1")},
	}}
	del := &mockDeleter{}

	c := newCleaner(t, cfg, dir, del, sink.Discard{})
	require.NoError(t, c.run(context.Background()))

	assert.Empty(t, del.deleted)
	files, err := wal.Files(cfg.Output.JournalDir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPrintRuns(t *testing.T) {
	var out bytes.Buffer
	printRuns(&out, []report.Summary{{
		RunID:        "run-1",
		Mode:         "simulate",
		FinishedAt:   time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		Phases:       map[report.Phase]report.Counts{report.PhaseVolumes: {Candidates: 3, Simulated: 3}},
		FailedPhases: 1,
	}})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "RUN ID")
	fields := strings.Fields(lines[2])
	assert.Equal(t, "run-1", fields[0])
	assert.Equal(t, "simulate", fields[1])
	assert.Equal(t, []string{"3", "3", "0", "0", "1"}, fields[len(fields)-5:])
}

func TestPrintRuns_Empty(t *testing.T) {
	var out bytes.Buffer
	printRuns(&out, nil)
	assert.Equal(t, "No runs recorded\n", out.String())
}
