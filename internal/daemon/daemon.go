// Package daemon runs cleanup on a fixed interval and reports its health.
package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RunFunc performs one cleanup run.
type RunFunc func(ctx context.Context) error

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	OneShot  bool
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithMetrics records run counts and durations.
func WithMetrics(m *Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// Daemon manages repeated cleanup runs
type Daemon struct {
	interval  time.Duration
	oneShot   bool
	run       RunFunc
	logger    zerolog.Logger
	metrics   *Metrics
	startTime time.Time

	runCount     atomic.Int64
	failureCount atomic.Int64
	lastRun      atomic.Int64
}

// New creates a new daemon instance
func New(cfg Config, run RunFunc, opts ...Option) *Daemon {
	d := &Daemon{
		interval:  cfg.Interval,
		oneShot:   cfg.OneShot,
		run:       run,
		logger:    zerolog.Nop(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs once immediately. In one-shot mode it returns that run's
// error. Otherwise it keeps running on the interval until ctx is done; run
// failures are logged and the loop continues.
func (d *Daemon) Start(ctx context.Context) error {
	err := d.runOnce(ctx)
	if d.oneShot {
		return err
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			_ = d.runOnce(ctx)
		}
	}
}

func (d *Daemon) runOnce(ctx context.Context) error {
	start := time.Now()
	err := d.run(ctx)
	elapsed := time.Since(start)

	d.runCount.Add(1)
	d.lastRun.Store(start.Unix())

	status := "success"
	if err != nil {
		status = "failure"
		d.failureCount.Add(1)
		d.logger.Error().Err(err).Dur("duration", elapsed).Msg("cleanup run failed")
	}
	if d.metrics != nil {
		d.metrics.RecordRun(ctx, status, elapsed)
	}
	return err
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string `json:"status"`
	Uptime    int64  `json:"uptime_seconds"`
	Runs      int64  `json:"runs"`
	Failures  int64  `json:"failures"`
	LastRunAt int64  `json:"last_run_at,omitempty"`
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:    "healthy",
		Uptime:    int64(time.Since(d.startTime).Seconds()),
		Runs:      d.runCount.Load(),
		Failures:  d.failureCount.Load(),
		LastRunAt: d.lastRun.Load(),
	}
}

// RunCount returns total runs started
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}

// RegisterHealth adds /health, /-/healthy and /-/ready to mux.
func (d *Daemon) RegisterHealth(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Health())
	})
	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
	mux.HandleFunc("/-/healthy", ok)
	mux.HandleFunc("/-/ready", ok)
}
