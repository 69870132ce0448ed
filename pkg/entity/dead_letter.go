package entity

import (
	"time"

	"gorm.io/datatypes"
)

// DeadLetter is an archived job that was buried by a worker pool.
type DeadLetter struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	MessageID string         `gorm:"column:message_id;type:varchar(64);not null;index:idx_message"`
	Queue     string         `gorm:"column:queue;type:varchar(128);not null;index:idx_queue_kind"`
	Kind      string         `gorm:"column:kind;type:varchar(128);not null;index:idx_queue_kind"`
	Attempt   int            `gorm:"column:attempt;not null"`
	Reason    string         `gorm:"column:reason;type:text"`
	Envelope  datatypes.JSON `gorm:"column:envelope;type:json"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;index:idx_created_at"`
}

func (DeadLetter) TableName() string {
	return "job_dead_letters"
}
