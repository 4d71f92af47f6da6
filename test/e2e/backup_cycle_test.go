/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package e2e exercises the assembled service over real HTTP: a fake
// Radarr server, a scheduled backup against it, the operational API, and
// the archive export the backup triggers.
package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_sync/internal/config"
	"github.com/friendsincode/skuld_sync/internal/server"
)

const radarrKey = "e2e-radarr-key"

// fakeRadarr serves just enough of the v3 API for a backup cycle: the
// status probe and a two-movie library.
func fakeRadarr(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/system/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != radarrKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"appName":"Radarr","version":"5.14.0"}`)
	})
	mux.HandleFunc("/api/v3/movie", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != radarrKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id": 10, "title": "The Matrix", "year": 1999, "tmdbId": 603,
			 "qualityProfileId": 4, "rootFolderPath": "/movies", "hasFile": true},
			{"id": 11, "title": "Heat", "year": 1995, "tmdbId": 949,
			 "qualityProfileId": 4, "rootFolderPath": "/movies", "hasFile": true}
		]`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeInstancesFile(t *testing.T, dir, radarrURL string) string {
	t.Helper()

	content := fmt.Sprintf(`movies-main:
  url: %s
  api_key: %s
  kind: radarr
  backup:
    enabled: true
    cron: "@daily"
`, radarrURL, radarrKey)

	path := filepath.Join(dir, "instances.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write instances file: %v", err)
	}
	return path
}

func get(t *testing.T, baseURL, path string) (int, []byte) {
	t.Helper()

	resp, err := http.Get(baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s response: %v", path, err)
	}
	return resp.StatusCode, body
}

func getJSON(t *testing.T, baseURL, path string, out any) int {
	t.Helper()

	status, body := get(t, baseURL, path)
	if status == http.StatusOK {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decode %s response: %v\n%s", path, err, body)
		}
	}
	return status
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// TestBackupCycle boots the whole service against a fake Radarr with a
// fast tick, waits for the scheduled backup to fire, and walks the
// operational API and the archive directory to see its effects.
func TestBackupCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e tests in short mode")
	}

	dir := t.TempDir()
	radarr := fakeRadarr(t)
	archiveDir := filepath.Join(dir, "archive")

	cfg := &config.Config{
		Environment:    "test",
		InstancesFile:  writeInstancesFile(t, dir, radarr.URL),
		HTTPBind:       "127.0.0.1",
		HTTPPort:       0,
		DBBackend:      config.DatabaseSQLite,
		DBDSN:          filepath.Join(dir, "skuld.db"),
		TickInterval:   50 * time.Millisecond,
		RunRetention:   24 * time.Hour,
		HealthInterval: 250 * time.Millisecond,
		ArchiveBackend: config.ArchiveFS,
		ArchiveDir:     archiveDir,
	}

	srv, err := server.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	defer srv.Close()

	ts := httptest.NewServer(srv.HTTPServer().Handler)
	defer ts.Close()

	t.Run("snapshot captured", func(t *testing.T) {
		var payload struct {
			Snapshots []struct {
				Instance string `json:"instance"`
				Kind     string `json:"kind"`
				Items    int    `json:"items"`
			} `json:"snapshots"`
		}
		waitFor(t, 5*time.Second, "scheduled backup to capture the catalog", func() bool {
			payload.Snapshots = nil
			if status := getJSON(t, ts.URL, "/api/v1/snapshots", &payload); status != http.StatusOK {
				return false
			}
			return len(payload.Snapshots) == 1 && payload.Snapshots[0].Items == 2
		})
		if got := payload.Snapshots[0].Instance; got != "movies-main" {
			t.Errorf("expected snapshot for movies-main, got %s", got)
		}
		if got := payload.Snapshots[0].Kind; got != "movie" {
			t.Errorf("expected movie snapshot, got %s", got)
		}
	})

	t.Run("run recorded", func(t *testing.T) {
		var payload struct {
			Runs []struct {
				TaskID    string `json:"task_id"`
				Operation string `json:"operation"`
				Success   bool   `json:"success"`
				Current   int    `json:"current"`
			} `json:"runs"`
		}
		waitFor(t, 5*time.Second, "run history entry", func() bool {
			payload.Runs = nil
			if status := getJSON(t, ts.URL, "/api/v1/runs", &payload); status != http.StatusOK {
				return false
			}
			return len(payload.Runs) > 0
		})

		run := payload.Runs[0]
		if run.TaskID != "backup:movies-main" {
			t.Errorf("expected run for backup:movies-main, got %s", run.TaskID)
		}
		if run.Operation != "backup" {
			t.Errorf("expected backup operation, got %s", run.Operation)
		}
		if !run.Success {
			t.Error("expected a successful run")
		}
		if run.Current != 2 {
			t.Errorf("expected 2 current items, got %d", run.Current)
		}
	})

	t.Run("status lists the task", func(t *testing.T) {
		var payload struct {
			Environment string `json:"environment"`
			Tasks       []struct {
				ID        string `json:"id"`
				Operation string `json:"operation"`
			} `json:"tasks"`
		}
		if status := getJSON(t, ts.URL, "/api/v1/status", &payload); status != http.StatusOK {
			t.Fatalf("status endpoint returned %d", status)
		}
		if payload.Environment != "test" {
			t.Errorf("expected test environment, got %s", payload.Environment)
		}
		if len(payload.Tasks) != 1 || payload.Tasks[0].ID != "backup:movies-main" {
			t.Fatalf("expected the backup task, got %+v", payload.Tasks)
		}
	})

	t.Run("instance reported healthy", func(t *testing.T) {
		var payload struct {
			Instances []struct {
				Instance string `json:"instance"`
				Healthy  bool   `json:"healthy"`
				Version  string `json:"version"`
			} `json:"instances"`
		}
		waitFor(t, 5*time.Second, "health probe", func() bool {
			payload.Instances = nil
			if status := getJSON(t, ts.URL, "/api/v1/instances", &payload); status != http.StatusOK {
				return false
			}
			return len(payload.Instances) == 1 && payload.Instances[0].Healthy
		})
		if got := payload.Instances[0].Instance; got != "movies-main" {
			t.Errorf("expected movies-main, got %s", got)
		}
		if got := payload.Instances[0].Version; got != "5.14.0" {
			t.Errorf("expected probed version 5.14.0, got %s", got)
		}
	})

	t.Run("platform endpoints", func(t *testing.T) {
		routes := []struct {
			path     string
			contains string
		}{
			{"/healthz", "ok"},
			{"/readyz", "ready"},
			{"/metrics", "skuldsync_"},
			{"/api/v1/schedule.ics", "BEGIN:VCALENDAR"},
		}
		for _, route := range routes {
			status, body := get(t, ts.URL, route.path)
			if status != http.StatusOK {
				t.Errorf("GET %s status = %d", route.path, status)
				continue
			}
			if !strings.Contains(string(body), route.contains) {
				t.Errorf("GET %s body missing %q", route.path, route.contains)
			}
		}
	})

	t.Run("archive export written", func(t *testing.T) {
		pattern := filepath.Join(archiveDir, "movies-main", "movie", "*.json")
		var exports []string
		waitFor(t, 5*time.Second, "archive export file", func() bool {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				t.Fatalf("glob %s: %v", pattern, err)
			}
			exports = matches
			return len(exports) > 0
		})

		data, err := os.ReadFile(exports[0])
		if err != nil {
			t.Fatalf("read export: %v", err)
		}
		var doc struct {
			Instance string `json:"instance"`
			Kind     string `json:"kind"`
			Items    []struct {
				ExternalID int64  `json:"external_id"`
				Title      string `json:"title"`
			} `json:"items"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("decode export: %v", err)
		}
		if doc.Instance != "movies-main" || doc.Kind != "movie" {
			t.Errorf("unexpected export identity: %s/%s", doc.Instance, doc.Kind)
		}
		if len(doc.Items) != 2 {
			t.Fatalf("expected 2 exported items, got %d", len(doc.Items))
		}
		if doc.Items[0].ExternalID != 603 && doc.Items[1].ExternalID != 603 {
			t.Error("export is missing The Matrix")
		}
	})
}
