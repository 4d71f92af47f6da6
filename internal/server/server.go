/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_sync/internal/archive"
	"github.com/friendsincode/skuld_sync/internal/arr"
	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/config"
	"github.com/friendsincode/skuld_sync/internal/db"
	"github.com/friendsincode/skuld_sync/internal/events"
	"github.com/friendsincode/skuld_sync/internal/health"
	"github.com/friendsincode/skuld_sync/internal/reconciler"
	"github.com/friendsincode/skuld_sync/internal/runs"
	"github.com/friendsincode/skuld_sync/internal/schedule"
	"github.com/friendsincode/skuld_sync/internal/scheduler"
	schedulerstate "github.com/friendsincode/skuld_sync/internal/scheduler/state"
	"github.com/friendsincode/skuld_sync/internal/snapshot"
	"github.com/friendsincode/skuld_sync/internal/telemetry"
	"github.com/friendsincode/skuld_sync/internal/version"
)

// Server bundles the ops HTTP listener and the background services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	bus        *events.Bus
	instances  []catalog.Instance
	snapshots  *snapshot.Store
	reconciler *reconciler.Service
	runs       *runs.Service
	scheduler  *scheduler.Service
	health     *health.Monitor
	exporter   *archive.Exporter
	updates    *version.Checker
	startedAt  time.Time

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		startedAt: time.Now().UTC(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: srv.router,
		// Header deadline protects against slowloris; the middleware
		// timeout covers handler time.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	instances, err := config.LoadInstances(s.cfg.InstancesFile)
	if err != nil {
		return err
	}
	s.instances = instances
	s.logger.Info().
		Int("instances", len(instances)).
		Str("file", s.cfg.InstancesFile).
		Msg("instances loaded")

	s.snapshots = snapshot.NewStore(database, s.logger)
	s.reconciler = reconciler.NewService(s.snapshots, s.bus, nil, s.logger)
	s.runs = runs.NewService(database, s.bus, s.cfg.RunRetention, s.logger)

	stateStore := schedulerstate.NewStore(database)
	s.scheduler = scheduler.New(stateStore, s.cfg.TickInterval, s.logger)
	if err := s.registerTasks(context.Background()); err != nil {
		return err
	}

	clients := func(inst catalog.Instance) (arr.Client, error) {
		return arr.NewClient(inst, s.logger)
	}
	s.health = health.NewMonitor(instances, clients, s.bus, s.cfg.HealthInterval, s.logger)

	switch s.cfg.ArchiveBackend {
	case config.ArchiveFS:
		store, err := archive.NewFSStore(s.cfg.ArchiveDir)
		if err != nil {
			return err
		}
		s.exporter = archive.NewExporter(store, s.snapshots, instances, s.bus, "fs", s.logger)
	case config.ArchiveS3:
		store, err := archive.NewS3Store(context.Background(), s.cfg)
		if err != nil {
			return err
		}
		s.exporter = archive.NewExporter(store, s.snapshots, instances, s.bus, "s3", s.logger)
	}

	s.updates = version.NewChecker(s.logger)

	return nil
}

// registerTasks binds one scheduler task per enabled backup and per
// scheduled sync. Manual-only syncs (no cron) are reachable through the
// CLI but never fire here.
func (s *Server) registerTasks(ctx context.Context) error {
	for _, inst := range s.instances {
		if inst.Backup.Enabled {
			sched, err := schedule.Parse(inst.Backup.Cron)
			if err != nil {
				return fmt.Errorf("instance %q: backup schedule: %w", inst.Name, err)
			}
			taskID := "backup:" + inst.Name
			target := inst
			err = s.scheduler.Register(ctx, scheduler.Task{
				ID:        taskID,
				Operation: reconciler.OperationBackup,
				Schedule:  sched,
				Run: func(ctx context.Context) reconciler.Outcome {
					return s.reconciler.Backup(ctx, taskID, target)
				},
			})
			if err != nil {
				return err
			}
		}

		if inst.Sync != nil && inst.Sync.Cron != "" {
			parent, ok := config.FindInstance(s.instances, inst.Sync.Parent)
			if !ok {
				return fmt.Errorf("instance %q: sync parent %q is not defined", inst.Name, inst.Sync.Parent)
			}
			sched, err := schedule.Parse(inst.Sync.Cron)
			if err != nil {
				return fmt.Errorf("instance %q: sync schedule: %w", inst.Name, err)
			}
			taskID := "sync:" + inst.Name
			child := inst
			err = s.scheduler.Register(ctx, scheduler.Task{
				ID:        taskID,
				Operation: reconciler.OperationSync,
				Schedule:  sched,
				Run: func(ctx context.Context) reconciler.Outcome {
					return s.reconciler.Sync(ctx, taskID, parent, child)
				},
			})
			if err != nil {
				return err
			}
		}
	}

	if err := s.scheduler.PruneState(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to prune stale schedule state")
	}
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("scheduler loop exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runs.Start(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.health.Run(ctx)
	}()

	if s.exporter != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.exporter.Start(ctx)
		}()
	}

	// Version update checker runs its own goroutine bounded by ctx.
	s.updates.Start(ctx)

	// Database pool metrics updater.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}
