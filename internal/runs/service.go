/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package runs keeps a durable history of task executions for the
// operational API. It listens for completed operations on the event bus
// and persists one record per run, pruning records past the retention
// window.
package runs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_sync/internal/events"
	"github.com/friendsincode/skuld_sync/internal/models"
	"github.com/friendsincode/skuld_sync/internal/reconciler"
)

// DefaultRetention keeps run history for 30 days unless configured
// otherwise.
const DefaultRetention = 30 * 24 * time.Hour

// Service records task outcomes.
type Service struct {
	db        *gorm.DB
	bus       *events.Bus
	retention time.Duration
	logger    zerolog.Logger
}

// NewService creates a run recorder. Zero retention falls back to
// DefaultRetention.
func NewService(db *gorm.DB, bus *events.Bus, retention time.Duration, logger zerolog.Logger) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Service{
		db:        db,
		bus:       bus,
		retention: retention,
		logger:    logger.With().Str("component", "runs").Logger(),
	}
}

// Start subscribes to completed tasks and records them until ctx ends.
func (s *Service) Start(ctx context.Context) {
	completed := s.bus.Subscribe(events.EventTaskCompleted)
	defer s.bus.Unsubscribe(events.EventTaskCompleted, completed)

	s.logger.Info().Dur("retention", s.retention).Msg("run recorder started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("run recorder stopping")
			return

		case payload := <-completed:
			outcome, ok := payload["outcome"].(reconciler.Outcome)
			if !ok {
				s.logger.Warn().Msg("completed event without outcome payload")
				continue
			}
			if err := s.Record(ctx, outcome); err != nil {
				s.logger.Error().Err(err).
					Str("task_id", outcome.TaskID).
					Msg("failed to record run")
			}
		}
	}
}

// Record persists one outcome directly (for callers not going through the
// bus) and prunes history past retention.
func (s *Service) Record(ctx context.Context, out reconciler.Outcome) error {
	rec := models.RunRecord{
		ID:        uuid.NewString(),
		TaskID:    out.TaskID,
		Operation: string(out.Operation),
		Instances: strings.Join(out.Instances(), ","),
		Success:   out.Success,
		Added:     out.Counts.Added,
		Removed:   out.Counts.Removed,
		Skipped:   out.Counts.Skipped,
		Current:   out.Counts.Current,
		Previous:  out.Counts.Previous,
		Error:     out.Error,
		StartedAt: out.StartedAt,
		Duration:  out.Duration,
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("id", rec.ID).
		Str("task_id", rec.TaskID).
		Bool("success", rec.Success).
		Msg("run recorded")

	s.prune(ctx)
	return nil
}

// Recent returns the newest runs, most recent first.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []models.RunRecord
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// ForTask returns the newest runs of one task, most recent first.
func (s *Service) ForTask(ctx context.Context, taskID string, limit int) ([]models.RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []models.RunRecord
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// LastRun returns the most recent run of one task, or nil when the task
// never ran.
func (s *Service) LastRun(ctx context.Context, taskID string) (*models.RunRecord, error) {
	var rec models.RunRecord
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at DESC").
		First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Service) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)
	res := s.db.WithContext(ctx).
		Where("started_at < ?", cutoff).
		Delete(&models.RunRecord{})
	if res.Error != nil {
		s.logger.Error().Err(res.Error).Msg("run pruning failed")
		return
	}
	if res.RowsAffected > 0 {
		s.logger.Debug().Int64("pruned", res.RowsAffected).Msg("old runs pruned")
	}
}
