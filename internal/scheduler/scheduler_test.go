package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestRunExecutesJobsUntilCancelled(t *testing.T) {
	var fast, failing, startup atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	s := New(zaptest.NewLogger(t), nil,
		Job{Name: "fast", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
			fast.Add(1)
			return nil
		}},
		Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		}},
		Job{Name: "startup", Interval: time.Hour, RunAtZero: true, Run: func(ctx context.Context) error {
			startup.Add(1)
			return nil
		}},
		Job{Name: "broken", Run: func(ctx context.Context) error {
			t.Error("job without interval ran")
			return nil
		}},
	)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for fast.Load() < 3 || failing.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("jobs ran %d and %d times", fast.Load(), failing.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if startup.Load() != 1 {
		t.Fatalf("startup job ran %d times, want 1", startup.Load())
	}
}
