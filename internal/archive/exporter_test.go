/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package archive

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/events"
	"github.com/friendsincode/skuld_sync/internal/models"
	"github.com/friendsincode/skuld_sync/internal/reconciler"
	"github.com/friendsincode/skuld_sync/internal/snapshot"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "movies/movie/a.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "movies/movie/b.json", []byte(`{"b":2}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "tv/series/c.json", []byte(`{"c":3}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	data, err := store.Get(ctx, "movies/movie/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("unexpected content: %s", data)
	}

	keys, err := store.List(ctx, "movies/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 || keys[0] != "movies/movie/a.json" || keys[1] != "movies/movie/b.json" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 keys, got %v", all)
	}
}

func TestFSStoreRejectsTraversalKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	if err := store.Put(context.Background(), "../escape.json", []byte("x")); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
	if _, err := store.Get(context.Background(), ""); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
}

func newTestExporter(t *testing.T) (*Exporter, *snapshot.Store, *events.Bus, Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.MediaItem{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	snapshots := snapshot.NewStore(db, zerolog.Nop())
	bus := events.NewBus()
	instances := []catalog.Instance{
		{Name: "movies", URL: "http://radarr:7878", APIKey: "k", Kind: catalog.KindRadarr},
	}
	exporter := NewExporter(store, snapshots, instances, bus, "fs", zerolog.Nop())
	return exporter, snapshots, bus, store
}

func TestExportWritesSnapshotDocument(t *testing.T) {
	exporter, snapshots, _, store := newTestExporter(t)
	ctx := context.Background()

	items := []catalog.Item{
		{ExternalID: 550, InternalID: 1, Title: "Fight Club", Year: 1999, Tags: []string{"cult"}},
		{ExternalID: 603, InternalID: 2, Title: "The Matrix", Year: 1999},
	}
	if _, err := snapshots.Apply(ctx, "movies", catalog.MediaMovie, items); err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}

	key, err := exporter.Export(ctx, "movies")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(key, "movies/movie/") || !strings.HasSuffix(key, ".json") {
		t.Fatalf("unexpected key: %q", key)
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if doc.Instance != "movies" || doc.Kind != "movie" {
		t.Fatalf("unexpected envelope: %+v", doc)
	}
	if len(doc.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(doc.Items))
	}
	if doc.Items[0].ExternalID == 0 || doc.Items[0].Title == "" {
		t.Fatalf("item fields missing: %+v", doc.Items[0])
	}
}

func TestExportUnknownInstanceFails(t *testing.T) {
	exporter, _, _, _ := newTestExporter(t)
	if _, err := exporter.Export(context.Background(), "ghost"); err == nil {
		t.Fatal("expected export of unknown instance to fail")
	}
}

func TestStartExportsAfterSuccessfulBackups(t *testing.T) {
	exporter, snapshots, bus, store := newTestExporter(t)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := snapshots.Apply(ctx, "movies", catalog.MediaMovie, []catalog.Item{
		{ExternalID: 550, InternalID: 1, Title: "Fight Club", Year: 1999},
	}); err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}

	done := make(chan struct{})
	go func() {
		exporter.Start(ctx)
		close(done)
	}()

	// Give the subscriber a moment to attach.
	time.Sleep(20 * time.Millisecond)
	bus.Publish(events.EventTaskCompleted, events.Payload{
		"outcome": reconciler.Outcome{
			TaskID:    "backup:movies",
			Operation: reconciler.OperationBackup,
			Source:    "movies",
			Target:    "movies",
			Success:   true,
		},
	})

	deadline := time.After(2 * time.Second)
	for {
		keys, err := store.List(ctx, "movies/")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(keys) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("backup completion never produced an export")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Failed backups must not export.
	bus.Publish(events.EventTaskCompleted, events.Payload{
		"outcome": reconciler.Outcome{
			TaskID:    "backup:movies",
			Operation: reconciler.OperationBackup,
			Target:    "movies",
			Success:   false,
		},
	})
	time.Sleep(50 * time.Millisecond)
	keys, err := store.List(ctx, "movies/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("failed backup should not export, got %d keys", len(keys))
	}

	cancel()
	<-done
}
