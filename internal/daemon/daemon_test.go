package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test one-shot mode runs exactly once and returns its error
func TestDaemon_OneShot(t *testing.T) {
	var calls atomic.Int64
	runErr := errors.New("invalid workers")

	d := New(Config{Interval: time.Hour, OneShot: true}, func(context.Context) error {
		calls.Add(1)
		return runErr
	})

	err := d.Start(context.Background())

	assert.ErrorIs(t, err, runErr)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), d.Health().Failures)
}

// Test loop runs at interval and keeps going after failures
func TestDaemon_RunLoop(t *testing.T) {
	var calls atomic.Int64
	d := New(Config{Interval: 50 * time.Millisecond}, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("first run failed")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	assert.Eventually(t, func() bool { return d.RunCount() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down within timeout")
	}
	assert.Equal(t, int64(1), d.Health().Failures)
}

// Test daemon stops gracefully while waiting for the next tick
func TestDaemon_GracefulShutdown(t *testing.T) {
	d := New(Config{Interval: time.Hour}, func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	assert.Eventually(t, func() bool { return d.RunCount() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down within timeout")
	}
}

// Test health endpoints are accessible
func TestDaemon_HealthEndpoints(t *testing.T) {
	d := New(Config{OneShot: true}, func(context.Context) error { return nil })
	require.NoError(t, d.Start(context.Background()))

	mux := http.NewServeMux()
	d.RegisterHealth(mux)

	for _, path := range []string{"/health", "/-/healthy", "/-/ready"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var health HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int64(1), health.Runs)
	assert.NotZero(t, health.LastRunAt)
}
