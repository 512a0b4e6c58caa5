package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/bullion-backend/internal/scheduler"
	"github.com/sirupsen/logrus/hooks/test"
)

const never = "0 0 0 1 1 *"

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduler_InvalidSpec(t *testing.T) {
	log, _ := test.NewNullLogger()
	_, err := scheduler.New("ingest", func(context.Context) error { return nil }, scheduler.Config{Spec: "every now and then"}, log)
	if err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	log, _ := test.NewNullLogger()
	var runs atomic.Int32
	sched, err := scheduler.New("ingest", func(context.Context) error {
		runs.Add(1)
		return nil
	}, scheduler.Config{Spec: never, RunOnStart: true}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sched.Start(context.Background())
	if !sched.Running() {
		t.Fatal("expected running after Start")
	}
	if sched.Next().IsZero() {
		t.Fatal("expected a next run time")
	}
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })

	sched.Stop()
	if sched.Running() {
		t.Fatal("expected not running after Stop")
	}
	if !sched.Next().IsZero() {
		t.Fatal("expected no next run after Stop")
	}
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	log, _ := test.NewNullLogger()
	var runs atomic.Int32
	sched, err := scheduler.New("ingest", func(context.Context) error {
		runs.Add(1)
		return errors.New("source down")
	}, scheduler.Config{Spec: "* * * * * *"}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sched.Start(context.Background())
	defer sched.Stop()
	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 })
}

func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	log, _ := test.NewNullLogger()
	var inFlight, maxInFlight, runs atomic.Int32
	sched, err := scheduler.New("ingest", func(ctx context.Context) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		select {
		case <-time.After(2500 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}, scheduler.Config{Spec: "* * * * * *"}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sched.Start(context.Background())
	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 })
	time.Sleep(1500 * time.Millisecond)
	sched.Stop()

	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("expected at most one run in flight, saw %d", got)
	}
}

func TestScheduler_StopCancelsRun(t *testing.T) {
	log, _ := test.NewNullLogger()
	started := make(chan struct{})
	var cancelled atomic.Bool
	sched, err := scheduler.New("ingest", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}, scheduler.Config{Spec: never, RunOnStart: true}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sched.Start(context.Background())
	<-started
	sched.Stop()
	if !cancelled.Load() {
		t.Fatal("expected Stop to cancel and wait for the run in progress")
	}
}
