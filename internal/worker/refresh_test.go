package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/polla-backend/internal/config"
)

type countingRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingRefresher) RefreshLeaderboard(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestWorker(refresher Refresher) *RefreshWorker {
	cfg := &config.RefreshConfig{Interval: time.Hour, Enabled: true}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRefreshWorker(refresher, cfg, logger)
}

func TestRunOnce(t *testing.T) {
	refresher := &countingRefresher{}
	w := newTestWorker(refresher)

	w.RunOnce(context.Background())
	w.RunOnce(context.Background())

	if got := refresher.count(); got != 2 {
		t.Errorf("refresh calls = %d, want 2", got)
	}
}

func TestRunOnce_RefreshError(t *testing.T) {
	refresher := &countingRefresher{err: fmt.Errorf("db down")}
	w := newTestWorker(refresher)

	// Errors are logged, not propagated; the next tick retries.
	w.RunOnce(context.Background())

	if got := refresher.count(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestStartStop(t *testing.T) {
	refresher := &countingRefresher{}
	w := newTestWorker(refresher)

	if w.IsRunning() {
		t.Fatal("worker reports running before Start")
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !w.IsRunning() {
		t.Error("worker not running after Start")
	}

	// Second Start is a no-op.
	if err := w.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.IsRunning() {
		t.Error("worker still running after Stop")
	}

	// Second Stop is a no-op.
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
