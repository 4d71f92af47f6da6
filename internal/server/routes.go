/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/skuld_sync/internal/schedule"
	"github.com/friendsincode/skuld_sync/internal/telemetry"
	"github.com/friendsincode/skuld_sync/internal/version"
)

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Get("/readyz", s.handleReadyz)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/instances", s.handleInstances)
		r.Get("/snapshots", s.handleSnapshots)
		r.Get("/runs", s.handleRuns)
		r.Get("/schedule.ics", s.handleScheduleICS)
	})
}

// handleReadyz reports ready only when the database answers a ping.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     version.Version,
		"environment": s.cfg.Environment,
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"tasks":       s.scheduler.Tasks(),
		"busy":        s.reconciler.Gate().Held(),
		"update":      s.updates.Info(),
	})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": s.health.Statuses(),
	})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.snapshots.Summaries(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": summaries})
}

// handleScheduleICS serves the task schedule as a calendar feed.
func (s *Server) handleScheduleICS(w http.ResponseWriter, r *http.Request) {
	tasks := s.scheduler.Tasks()
	calTasks := make([]schedule.CalendarTask, 0, len(tasks))
	for _, task := range tasks {
		sched, err := schedule.Parse(task.Cron)
		if err != nil {
			// Expressions were validated at registration; a bad one here
			// means the registry is corrupt.
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		calTasks = append(calTasks, schedule.CalendarTask{
			ID:        task.ID,
			Operation: task.Operation,
			Schedule:  sched,
		})
	}

	cal := schedule.Calendar{Name: "Skuld Sync"}
	now := time.Now().UTC()
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+cal.Filename(now)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(cal.Render(calTasks, now))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	var err error
	var records any
	if taskID := r.URL.Query().Get("task"); taskID != "" {
		records, err = s.runs.ForTask(r.Context(), taskID, limit)
	} else {
		records, err = s.runs.Recent(r.Context(), limit)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
