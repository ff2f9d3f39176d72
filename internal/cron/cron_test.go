package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseEvery(t *testing.T) {
	if d, err := ParseEvery("@every 100ms"); err != nil || d != 100*time.Millisecond {
		t.Fatalf("parse every: %v %v", d, err)
	}
	for _, bad := range []string{"* * * * *", "@every nope", "@every -1s", "@every 0s"} {
		if _, err := ParseEvery(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSchedulerRunsAndNonOverlap(t *testing.T) {
	var active, maxActive atomic.Int32
	job := &Job{
		Name:     "reconcile",
		Schedule: "@every 20ms",
		Run: func(ctx context.Context) error {
			n := active.Add(1)
			defer active.Add(-1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			select {
			case <-time.After(70 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil
		},
	}
	sch := NewScheduler()
	if err := sch.Add(job); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for job.Runs() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sch.Stop()
	if job.Runs() < 2 {
		t.Fatalf("expected at least two runs, got %d", job.Runs())
	}
	if maxActive.Load() != 1 {
		t.Fatalf("runs overlapped: max active %d", maxActive.Load())
	}
}

func TestSchedulerRejectsInvalidJobs(t *testing.T) {
	sch := NewScheduler()
	noop := func(context.Context) error { return nil }
	if err := sch.Add(&Job{Schedule: "@every 1s", Run: noop}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if err := sch.Add(&Job{Name: "x", Schedule: "0 * * * *", Run: noop}); err == nil {
		t.Fatalf("expected error for unsupported schedule")
	}
	if err := sch.Add(&Job{Name: "x", Schedule: "@every 1s"}); err == nil {
		t.Fatalf("expected error for missing run func")
	}
	if err := sch.Add(&Job{Name: "x", Schedule: "@every 1s", Run: noop}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sch.Add(&Job{Name: "x", Schedule: "@every 1s", Run: noop}); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestStartTwiceAndStopIdle(t *testing.T) {
	sch := NewScheduler()
	sch.Stop()
	if err := sch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sch.Stop()
	if err := sch.Start(context.Background()); err == nil {
		t.Fatalf("expected error on second start")
	}
}
