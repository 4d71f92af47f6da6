package state

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/skuld_sync/internal/models"
)

// Store persists per-task last-fired times so schedules survive process
// restarts. A task with no row has never run and is due immediately.
type Store struct {
	db *gorm.DB
}

// NewStore creates a schedule state store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LastFired returns the task's last completion time, or nil when the task
// never ran.
func (s *Store) LastFired(ctx context.Context, taskID string) (*time.Time, error) {
	var row models.ScheduleState
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule state %s: %w", taskID, err)
	}
	return row.LastFired, nil
}

// MarkFired upserts the task's completion time and current cron
// expression.
func (s *Store) MarkFired(ctx context.Context, taskID, cronExpr string, fired time.Time) error {
	row := models.ScheduleState{
		TaskID:    taskID,
		CronExpr:  cronExpr,
		LastFired: &fired,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cron_expr", "last_fired", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("persist schedule state %s: %w", taskID, err)
	}
	return nil
}

// PruneExcept drops state rows for tasks no longer registered, typically
// because their instance configuration was removed.
func (s *Store) PruneExcept(ctx context.Context, keep []string) (int64, error) {
	q := s.db.WithContext(ctx)
	if len(keep) > 0 {
		q = q.Where("task_id NOT IN ?", keep)
	} else {
		q = q.Where("1 = 1")
	}
	res := q.Delete(&models.ScheduleState{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune schedule state: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// All lists every persisted task state.
func (s *Store) All(ctx context.Context) ([]models.ScheduleState, error) {
	var rows []models.ScheduleState
	if err := s.db.WithContext(ctx).Order("task_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list schedule state: %w", err)
	}
	return rows, nil
}
