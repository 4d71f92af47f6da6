/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package snapshot

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/friendsincode/skuld_sync/internal/models"
)

// InsertReleases stores history events for an instance, silently skipping
// events already captured (identity is the originating server's history
// event id). Returns how many rows were actually inserted.
func (s *Store) InsertReleases(ctx context.Context, events []models.ReleaseEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&events, 200)
	if result.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, result.Error)
	}
	return int(result.RowsAffected), nil
}

// LoadReleases returns every captured history event for an instance,
// oldest first.
func (s *Store) LoadReleases(ctx context.Context, instanceName string) ([]models.ReleaseEvent, error) {
	var rows []models.ReleaseEvent
	err := s.db.WithContext(ctx).
		Where("instance_name = ?", instanceName).
		Order("occurred_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return rows, nil
}

// CountReleases returns the number of captured history events.
func (s *Store) CountReleases(ctx context.Context, instanceName string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ReleaseEvent{}).
		Where("instance_name = ?", instanceName).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return int(n), nil
}
