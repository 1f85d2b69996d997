package sweep

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSweeperRunsJobOnSchedule(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// robfig/cron rounds "@every" delays up to one second and fires on whole
	// seconds, so the first run lands within 1s of Start.
	s := NewSweeper(ctx, "@every 1s", "test_sweep", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	})
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the sweep job to run at least once within the deadline")
}

func TestSweeperFallsBackOnInvalidSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSweeper(ctx, "not-a-valid-schedule", "test_sweep", func(ctx context.Context) (int, error) {
		return 0, nil
	})
	if s == nil {
		t.Fatal("expected a non-nil Sweeper even with an invalid schedule")
	}
}
