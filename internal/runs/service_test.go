/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package runs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_sync/internal/events"
	"github.com/friendsincode/skuld_sync/internal/models"
	"github.com/friendsincode/skuld_sync/internal/reconciler"
)

func newTestService(t *testing.T, retention time.Duration) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.RunRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewService(db, events.NewBus(), retention, zerolog.Nop())
}

func outcome(taskID string, started time.Time, success bool) reconciler.Outcome {
	return reconciler.Outcome{
		TaskID:    taskID,
		Operation: reconciler.OperationBackup,
		Source:    "main",
		Target:    "main",
		Success:   success,
		Counts:    reconciler.Counts{Added: 3, Removed: 1, Current: 10, Previous: 8},
		StartedAt: started,
		Duration:  2 * time.Second,
	}
}

func TestRecordAndRecent(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	first := outcome("backup:main", time.Now().UTC().Add(-2*time.Minute), true)
	second := outcome("backup:main", time.Now().UTC(), false)
	second.Error = "fetch catalog: unreachable"

	if err := svc.Record(ctx, first); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := svc.Record(ctx, second); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	recs, err := svc.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Recent() returned %d records, want 2", len(recs))
	}
	if recs[0].Success || !recs[1].Success {
		t.Errorf("Recent() order wrong: got [%v %v], want newest first", recs[0].Success, recs[1].Success)
	}
	if recs[0].Error != "fetch catalog: unreachable" {
		t.Errorf("Error = %q, want the failure message", recs[0].Error)
	}
	if recs[1].Added != 3 || recs[1].Removed != 1 || recs[1].Current != 10 || recs[1].Previous != 8 {
		t.Errorf("counts not persisted: %+v", recs[1])
	}
	if recs[0].InstanceList()[0] != "main" {
		t.Errorf("InstanceList() = %v, want [main]", recs[0].InstanceList())
	}
}

func TestLastRun(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	got, err := svc.LastRun(ctx, "backup:main")
	if err != nil {
		t.Fatalf("LastRun() error = %v", err)
	}
	if got != nil {
		t.Fatalf("LastRun() = %+v for unknown task, want nil", got)
	}

	old := outcome("backup:main", time.Now().UTC().Add(-time.Minute), true)
	current := outcome("backup:main", time.Now().UTC(), false)
	if err := svc.Record(ctx, old); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := svc.Record(ctx, current); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err = svc.LastRun(ctx, "backup:main")
	if err != nil {
		t.Fatalf("LastRun() error = %v", err)
	}
	if got == nil || got.Success {
		t.Errorf("LastRun() = %+v, want the newest (failed) run", got)
	}
}

func TestPruneBeyondRetention(t *testing.T) {
	svc := newTestService(t, time.Minute)
	ctx := context.Background()

	stale := outcome("backup:main", time.Now().UTC().Add(-time.Hour), true)
	if err := svc.Record(ctx, stale); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// Recording a fresh run prunes anything past retention.
	fresh := outcome("backup:main", time.Now().UTC(), true)
	if err := svc.Record(ctx, fresh); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	recs, err := svc.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Recent() returned %d records after prune, want 1", len(recs))
	}
	if !recs[0].StartedAt.After(time.Now().UTC().Add(-time.Minute)) {
		t.Errorf("surviving record is the stale one: %+v", recs[0])
	}
}

func TestStartRecordsBusOutcomes(t *testing.T) {
	svc := newTestService(t, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	// Give the subscriber a moment to attach.
	time.Sleep(20 * time.Millisecond)
	svc.bus.Publish(events.EventTaskCompleted, events.Payload{
		"outcome": outcome("sync:child", time.Now().UTC(), true),
	})

	deadline := time.After(2 * time.Second)
	for {
		recs, err := svc.Recent(context.Background(), 10)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		if len(recs) == 1 {
			if recs[0].TaskID != "sync:child" {
				t.Errorf("TaskID = %q, want sync:child", recs[0].TaskID)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("run was never recorded from the bus")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
