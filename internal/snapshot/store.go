/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package snapshot persists point-in-time copies of instance catalogs.
// Each (instance, media kind) pair has at most one live snapshot; a new
// backup replaces the previous one atomically.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/diff"
	"github.com/friendsincode/skuld_sync/internal/models"
	"github.com/friendsincode/skuld_sync/internal/telemetry"
)

// ErrStorage marks persistence failures so callers can classify them
// with errors.Is without depending on gorm.
var ErrStorage = errors.New("snapshot storage failure")

// Counts summarizes one snapshot application.
type Counts struct {
	Current  int
	Previous int
	Added    int
	Removed  int
}

// Summary describes one stored snapshot for the operational API.
type Summary struct {
	InstanceName string    `json:"instance"`
	MediaKind    string    `json:"kind"`
	Items        int       `json:"items"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Store is the gorm-backed snapshot store.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a snapshot store.
func NewStore(database *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     database,
		logger: logger.With().Str("component", "snapshot").Logger(),
	}
}

// Apply replaces the stored snapshot for (instanceName, kind) with items
// in one transaction: rows missing from items are deleted, every incoming
// item is upserted keyed by external id. Items without an external id are
// not storable and are dropped. An empty items slice wipes the snapshot
// entirely and reports the wipe in Removed.
//
// Re-applying an identical snapshot yields Added == Removed == 0.
func (s *Store) Apply(ctx context.Context, instanceName string, kind catalog.MediaKind, items []catalog.Item) (Counts, error) {
	var counts Counts

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var previous int64
		if err := tx.Model(&models.MediaItem{}).
			Where("instance_name = ? AND media_kind = ?", instanceName, string(kind)).
			Count(&previous).Error; err != nil {
			return fmt.Errorf("count existing rows: %w", err)
		}
		counts.Previous = int(previous)

		if len(items) == 0 {
			if err := tx.
				Where("instance_name = ? AND media_kind = ?", instanceName, string(kind)).
				Delete(&models.MediaItem{}).Error; err != nil {
				return fmt.Errorf("wipe snapshot: %w", err)
			}
			counts.Removed = counts.Previous
			return nil
		}

		stored, err := loadItems(tx, instanceName, kind)
		if err != nil {
			return fmt.Errorf("load stored rows: %w", err)
		}

		result := diff.Reconcile(items, stored, nil)
		counts.Added = len(result.ToAdd)
		counts.Removed = len(result.ToRemove)

		if removeIDs := result.RemoveIDs(); len(removeIDs) > 0 {
			if err := tx.
				Where("instance_name = ? AND media_kind = ? AND external_id IN ?", instanceName, string(kind), removeIDs).
				Delete(&models.MediaItem{}).Error; err != nil {
				return fmt.Errorf("delete stale rows: %w", err)
			}
		}

		now := time.Now().UTC()
		rows := make([]models.MediaItem, 0, len(items))
		seen := make(map[int64]struct{}, len(items))
		for _, item := range items {
			if item.ExternalID == 0 {
				continue
			}
			if _, dup := seen[item.ExternalID]; dup {
				continue
			}
			seen[item.ExternalID] = struct{}{}
			rows = append(rows, toRow(instanceName, kind, item, now))
		}
		counts.Current = len(rows)

		if len(rows) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "instance_name"},
					{Name: "media_kind"},
					{Name: "external_id"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"internal_id", "title", "year", "quality_profile", "root_folder", "tags", "captured_at",
				}),
			}).CreateInBatches(&rows, 500).Error; err != nil {
				return fmt.Errorf("upsert rows: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	telemetry.SnapshotItems.WithLabelValues(instanceName, string(kind)).Set(float64(counts.Current))

	s.logger.Debug().
		Str("instance", instanceName).
		Str("kind", string(kind)).
		Int("current", counts.Current).
		Int("previous", counts.Previous).
		Int("added", counts.Added).
		Int("removed", counts.Removed).
		Msg("snapshot applied")

	return counts, nil
}

// Load returns the stored snapshot, ordered by external id. A missing
// snapshot is an empty slice, not an error.
func (s *Store) Load(ctx context.Context, instanceName string, kind catalog.MediaKind) ([]catalog.Item, error) {
	items, err := loadItems(s.db.WithContext(ctx), instanceName, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return items, nil
}

// Count returns the number of rows stored for (instanceName, kind).
func (s *Store) Count(ctx context.Context, instanceName string, kind catalog.MediaKind) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.MediaItem{}).
		Where("instance_name = ? AND media_kind = ?", instanceName, string(kind)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return int(n), nil
}

// Summaries lists every stored snapshot with its size and capture time.
func (s *Store) Summaries(ctx context.Context) ([]Summary, error) {
	tx := s.db.WithContext(ctx)

	var out []Summary
	err := tx.Model(&models.MediaItem{}).
		Select("instance_name, media_kind, COUNT(*) AS items").
		Group("instance_name").Group("media_kind").
		Order("instance_name").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// Apply stamps all rows of a snapshot with one capture time. Selecting
	// the column directly keeps its time affinity; sqlite drops it under
	// aggregates like MAX().
	for i := range out {
		var capturedAt []time.Time
		err := tx.Model(&models.MediaItem{}).
			Where("instance_name = ? AND media_kind = ?", out[i].InstanceName, out[i].MediaKind).
			Order("captured_at DESC").
			Limit(1).
			Pluck("captured_at", &capturedAt).Error
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if len(capturedAt) > 0 {
			out[i].CapturedAt = capturedAt[0]
		}
	}
	return out, nil
}

func loadItems(tx *gorm.DB, instanceName string, kind catalog.MediaKind) ([]catalog.Item, error) {
	var rows []models.MediaItem
	err := tx.
		Where("instance_name = ? AND media_kind = ?", instanceName, string(kind)).
		Order("external_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	items := make([]catalog.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, toItem(row))
	}
	return items, nil
}

func toRow(instanceName string, kind catalog.MediaKind, item catalog.Item, capturedAt time.Time) models.MediaItem {
	return models.MediaItem{
		InstanceName:   instanceName,
		MediaKind:      string(kind),
		ExternalID:     item.ExternalID,
		InternalID:     item.InternalID,
		Title:          item.Title,
		Year:           item.Year,
		QualityProfile: item.QualityProfile,
		RootFolder:     item.RootFolder,
		Tags:           item.Tags,
		CapturedAt:     capturedAt,
	}
}

func toItem(row models.MediaItem) catalog.Item {
	return catalog.Item{
		ExternalID:     row.ExternalID,
		InternalID:     row.InternalID,
		Title:          row.Title,
		Year:           row.Year,
		QualityProfile: row.QualityProfile,
		RootFolder:     row.RootFolder,
		Tags:           row.Tags,
	}
}
