package repository

import (
	"context"
	"time"

	"payledger/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msgs ...*model.OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return orDefault(tx, r.db).WithContext(ctx).Create(msgs).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
}

// GetFailedMessages returns FAILED messages last touched before the cutoff
// that still have redrive budget left.
func (r *OutboxRepository) GetFailedMessages(ctx context.Context, before time.Time, maxRedrive, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ? AND redrive_count < ?", model.OutboxStatusFailed, before, maxRedrive).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// Redrive puts a FAILED message back in the queue with a fresh retry budget.
// It reports false when the message was no longer FAILED.
func (r *OutboxRepository) Redrive(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusFailed).
		Updates(map[string]interface{}{
			"status":        model.OutboxStatusPending,
			"retry_count":   0,
			"redrive_count": gorm.Expr("redrive_count + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
