/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_sync/internal/models"
	"github.com/friendsincode/skuld_sync/internal/reconciler"
	"github.com/friendsincode/skuld_sync/internal/schedule"
	"github.com/friendsincode/skuld_sync/internal/scheduler/state"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.ScheduleState{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return state.NewStore(db)
}

func okRunner(ran *atomic.Int32) Runner {
	return func(ctx context.Context) reconciler.Outcome {
		ran.Add(1)
		return reconciler.Outcome{Success: true}
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := New(newTestStore(t), time.Second, zerolog.Nop())
	sched := schedule.MustParse("* * * * *")
	var ran atomic.Int32

	tests := []struct {
		name string
		task Task
	}{
		{name: "missing id", task: Task{Schedule: sched, Run: okRunner(&ran)}},
		{name: "missing schedule", task: Task{ID: "a", Run: okRunner(&ran)}},
		{name: "missing runner", task: Task{ID: "a", Schedule: sched}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Register(context.Background(), tt.task); err == nil {
				t.Error("Register() error = nil, want error")
			}
		})
	}

	task := Task{ID: "a", Operation: reconciler.OperationBackup, Schedule: sched, Run: okRunner(&ran)}
	if err := svc.Register(context.Background(), task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.Register(context.Background(), task); err == nil {
		t.Error("duplicate Register() error = nil, want error")
	}
}

func TestNeverRunTaskFiresImmediately(t *testing.T) {
	svc := New(newTestStore(t), 10*time.Millisecond, zerolog.Nop())
	var ran atomic.Int32

	task := Task{
		ID:        "backup:main",
		Operation: reconciler.OperationBackup,
		Schedule:  schedule.MustParse("0 0 1 1 *"), // far away yearly slot
		Run:       okRunner(&ran),
	}
	if err := svc.Register(context.Background(), task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return ran.Load() == 1 })

	// The yearly schedule means no second firing within the test window.
	time.Sleep(50 * time.Millisecond)
	if got := ran.Load(); got != 1 {
		t.Errorf("task ran %d times, want exactly 1", got)
	}

	cancel()
	<-done
}

func TestTaskStateRestoredAcrossRestart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A prior process completed this task moments ago.
	fired := time.Now().UTC()
	if err := store.MarkFired(ctx, "backup:main", "0 0 * * *", fired); err != nil {
		t.Fatalf("MarkFired() error = %v", err)
	}

	svc := New(store, 10*time.Millisecond, zerolog.Nop())
	var ran atomic.Int32
	task := Task{
		ID:        "backup:main",
		Operation: reconciler.OperationBackup,
		Schedule:  schedule.MustParse("0 0 * * *"),
		Run:       okRunner(&ran),
	}
	if err := svc.Register(ctx, task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()

	// The task fired minutes ago, so the daily schedule must not fire now.
	time.Sleep(80 * time.Millisecond)
	if got := ran.Load(); got != 0 {
		t.Errorf("restored task ran %d times, want 0 until next occurrence", got)
	}

	statuses := svc.Tasks()
	if len(statuses) != 1 {
		t.Fatalf("Tasks() returned %d statuses, want 1", len(statuses))
	}
	if statuses[0].LastFired == nil || statuses[0].LastFired.Unix() != fired.Unix() {
		t.Errorf("LastFired = %v, want %v", statuses[0].LastFired, fired)
	}
	if statuses[0].NextDue == nil {
		t.Error("NextDue = nil, want the next daily occurrence")
	}

	cancel()
	<-done
}

func TestRunningTaskIsNotReentered(t *testing.T) {
	svc := New(newTestStore(t), 10*time.Millisecond, zerolog.Nop())

	var started atomic.Int32
	release := make(chan struct{})
	task := Task{
		ID:        "sync:child",
		Operation: reconciler.OperationSync,
		Schedule:  schedule.MustParse("* * * * *"),
		Run: func(ctx context.Context) reconciler.Outcome {
			started.Add(1)
			<-release
			return reconciler.Outcome{Success: true}
		},
	}
	if err := svc.Register(context.Background(), task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return started.Load() == 1 })

	// Many ticks pass while the run is blocked; none may start a second run.
	time.Sleep(100 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Errorf("task started %d times while running, want 1", got)
	}

	statuses := svc.Tasks()
	if statuses[0].State != StateRunning {
		t.Errorf("State = %q, want %q", statuses[0].State, StateRunning)
	}

	close(release)
	waitFor(t, time.Second, func() bool {
		sts := svc.Tasks()
		return len(sts) == 1 && sts[0].State == StateIdle
	})

	cancel()
	<-done
}

func TestFailedRunStillReschedules(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, 10*time.Millisecond, zerolog.Nop())

	var ran atomic.Int32
	task := Task{
		ID:        "backup:flaky",
		Operation: reconciler.OperationBackup,
		Schedule:  schedule.MustParse("0 0 1 1 *"),
		Run: func(ctx context.Context) reconciler.Outcome {
			ran.Add(1)
			return reconciler.Outcome{Success: false, Error: "server unreachable"}
		},
	}
	if err := svc.Register(context.Background(), task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, time.Second, func() bool {
		sts := svc.Tasks()
		return ran.Load() == 1 && len(sts) == 1 && sts[0].State == StateIdle
	})

	// Failure still counts as the last firing and re-arms the schedule.
	last, err := store.LastFired(context.Background(), "backup:flaky")
	if err != nil {
		t.Fatalf("LastFired() error = %v", err)
	}
	if last == nil {
		t.Error("LastFired() = nil after failed run, want persisted time")
	}

	cancel()
	<-done
}

func TestPanickingTaskKeepsScheduling(t *testing.T) {
	svc := New(newTestStore(t), 10*time.Millisecond, zerolog.Nop())

	var ran atomic.Int32
	task := Task{
		ID:        "backup:panics",
		Operation: reconciler.OperationBackup,
		Schedule:  schedule.MustParse("0 0 1 1 *"),
		Run: func(ctx context.Context) reconciler.Outcome {
			ran.Add(1)
			panic("boom")
		},
	}
	if err := svc.Register(context.Background(), task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, time.Second, func() bool {
		sts := svc.Tasks()
		return ran.Load() == 1 && len(sts) == 1 && sts[0].State == StateIdle
	})
	if sts := svc.Tasks(); sts[0].LastFired == nil {
		t.Error("LastFired = nil after panic, want completion recorded")
	}

	cancel()
	<-done
}

func TestShutdownWaitsForRunningTask(t *testing.T) {
	svc := New(newTestStore(t), 10*time.Millisecond, zerolog.Nop())

	var finished atomic.Bool
	release := make(chan struct{})
	task := Task{
		ID:        "backup:slow",
		Operation: reconciler.OperationBackup,
		Schedule:  schedule.MustParse("* * * * *"),
		Run: func(ctx context.Context) reconciler.Outcome {
			<-release
			finished.Store(true)
			return reconciler.Outcome{Success: true}
		},
	}
	if err := svc.Register(context.Background(), task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, time.Second, func() bool {
		sts := svc.Tasks()
		return len(sts) == 1 && sts[0].State == StateRunning
	})

	cancel()
	select {
	case <-done:
		t.Fatal("Run() returned while a task was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after the task finished")
	}
	if !finished.Load() {
		t.Error("task did not finish before Run() returned")
	}
}

func TestPruneState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.MarkFired(ctx, "backup:kept", "0 0 * * *", time.Now().UTC()); err != nil {
		t.Fatalf("MarkFired() error = %v", err)
	}
	if err := store.MarkFired(ctx, "backup:stale", "0 0 * * *", time.Now().UTC()); err != nil {
		t.Fatalf("MarkFired() error = %v", err)
	}

	svc := New(store, time.Second, zerolog.Nop())
	var ran atomic.Int32
	task := Task{
		ID:        "backup:kept",
		Operation: reconciler.OperationBackup,
		Schedule:  schedule.MustParse("0 0 * * *"),
		Run:       okRunner(&ran),
	}
	if err := svc.Register(ctx, task); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.PruneState(ctx); err != nil {
		t.Fatalf("PruneState() error = %v", err)
	}

	rows, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(rows) != 1 || rows[0].TaskID != "backup:kept" {
		t.Errorf("state rows after prune = %+v, want only backup:kept", rows)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
