package entity

import (
	"time"

	"gorm.io/datatypes"
)

// SearchSchedule is a saved search that is re-run on a fixed frequency.
type SearchSchedule struct {
	ID        string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	UserID    string         `gorm:"column:user_id;type:varchar(64);not null;index:idx_user"`
	Name      string         `gorm:"column:name;type:varchar(255);not null"`
	Frequency string         `gorm:"column:frequency;type:varchar(16);not null;index:idx_frequency_active"`
	Query     datatypes.JSON `gorm:"column:query;type:json;not null"`
	Active    bool           `gorm:"column:active;not null;default:true;index:idx_frequency_active"`
	LastRunAt *time.Time     `gorm:"column:last_run_at"`
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

func (SearchSchedule) TableName() string {
	return "search_schedules"
}

// Frequencies of a SearchSchedule.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// SearchRun records one execution of a schedule.
type SearchRun struct {
	ID         int64      `gorm:"column:id;primaryKey;autoIncrement"`
	ScheduleID string     `gorm:"column:schedule_id;type:varchar(64);not null;index:idx_schedule"`
	Status     string     `gorm:"column:status;type:varchar(16);not null"`
	Error      string     `gorm:"column:error;type:text"`
	StartedAt  time.Time  `gorm:"column:started_at;not null"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
}

func (SearchRun) TableName() string {
	return "search_runs"
}

const (
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
)
