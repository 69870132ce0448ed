package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"soika/jobrouter/internal/framework"
	"soika/jobrouter/pkg/entity"
)

// DeadLetterDAO archives buried jobs.
type DeadLetterDAO struct {
	db  *gorm.DB
	log framework.Logger
}

// NewDeadLetterDAO builds the dead-letter archive over db.
func NewDeadLetterDAO(db *gorm.DB, log framework.Logger) *DeadLetterDAO {
	return &DeadLetterDAO{db: db, log: log}
}

// Insert stores one dead letter.
func (dao *DeadLetterDAO) Insert(ctx context.Context, dl *entity.DeadLetter) error {
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	if err := dao.db.WithContext(ctx).Create(dl).Error; err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

// Observe implements framework.OutcomeObserver; only buried jobs are kept.
func (dao *DeadLetterDAO) Observe(ctx context.Context, msg *framework.Message, resp *framework.JobResp) {
	if resp.Action != framework.ActionBury {
		return
	}

	dl := &entity.DeadLetter{
		MessageID: msg.ID,
		Queue:     msg.Queue,
		Kind:      resp.Kind,
		Attempt:   msg.Attempt,
		Envelope:  jsonOrString(msg.Data),
	}
	if resp.Err != nil {
		dl.Reason = resp.Err.Error()
	}

	if err := dao.Insert(ctx, dl); err != nil {
		dao.log.Errorf(ctx, "[DeadLetterDAO] %v", err)
	}
}

// ListByQueue returns the newest dead letters of a queue.
func (dao *DeadLetterDAO) ListByQueue(ctx context.Context, queue string, limit int) ([]entity.DeadLetter, error) {
	var out []entity.DeadLetter
	err := dao.db.WithContext(ctx).
		Where("queue = ?", queue).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return out, nil
}

// jsonOrString keeps a malformed body storable in a JSON column.
func jsonOrString(b []byte) datatypes.JSON {
	if json.Valid(b) {
		return datatypes.JSON(b)
	}
	quoted, _ := json.Marshal(string(b))
	return datatypes.JSON(quoted)
}
