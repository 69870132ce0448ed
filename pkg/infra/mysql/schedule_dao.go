package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"soika/jobrouter/pkg/entity"
)

// ErrScheduleNotFound is returned when a schedule id does not exist.
var ErrScheduleNotFound = errors.New("schedule not found")

// ScheduleDAO reads saved search schedules and records their runs.
type ScheduleDAO struct {
	db *gorm.DB
}

// NewScheduleDAO builds the schedule store over db.
func NewScheduleDAO(db *gorm.DB) *ScheduleDAO {
	return &ScheduleDAO{db: db}
}

// ListActive returns the active schedules with the given frequency.
func (dao *ScheduleDAO) ListActive(ctx context.Context, frequency string) ([]entity.SearchSchedule, error) {
	var out []entity.SearchSchedule
	err := dao.db.WithContext(ctx).
		Where("frequency = ? AND active = ?", frequency, true).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return out, nil
}

// GetByID loads one schedule. A missing row matches ErrScheduleNotFound.
func (dao *ScheduleDAO) GetByID(ctx context.Context, id string) (*entity.SearchSchedule, error) {
	var s entity.SearchSchedule
	err := dao.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &s, nil
}

// RecordRun stores a run and bumps the schedule's last_run_at in one
// transaction.
func (dao *ScheduleDAO) RecordRun(ctx context.Context, run *entity.SearchRun) error {
	return dao.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		at := run.StartedAt
		if run.FinishedAt != nil {
			at = *run.FinishedAt
		}
		res := tx.Model(&entity.SearchSchedule{}).
			Where("id = ?", run.ScheduleID).
			Updates(map[string]interface{}{
				"last_run_at": at,
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update schedule: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrScheduleNotFound, run.ScheduleID)
		}
		return nil
	})
}
