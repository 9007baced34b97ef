package repository

import (
	"context"
	"time"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"gorm.io/gorm"
)

type CallbackRepository interface {
	// Create stages an inbound provider callback. A duplicate provider call id
	// yields domain.ErrDuplicate so retried webhook deliveries are no-ops.
	Create(ctx context.Context, r *domain.CallbackRecord) error
	GetUnprocessed(ctx context.Context, limit int) ([]domain.CallbackRecord, error)
	// MarkProcessed consumes a record; a non-nil errMsg annotates a logical
	// dead-end so the row is never re-attempted.
	MarkProcessed(ctx context.Context, id string, processedAt time.Time, errMsg *string) error
}

type GormCallbackRepo struct {
	db *gorm.DB
}

func NewGormCallbackRepo(db *gorm.DB) *GormCallbackRepo {
	return &GormCallbackRepo{db: db}
}

func (r *GormCallbackRepo) Create(ctx context.Context, record *domain.CallbackRecord) error {
	model := callbackModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return err
	}
	if record != nil {
		*record = *callbackModelToDomain(model)
	}
	return nil
}

func (r *GormCallbackRepo) GetUnprocessed(ctx context.Context, limit int) ([]domain.CallbackRecord, error) {
	var models []CallbackRecordModel
	err := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.CallbackRecord, 0, len(models))
	for i := range models {
		records = append(records, *callbackModelToDomain(&models[i]))
	}

	return records, nil
}

func (r *GormCallbackRepo) MarkProcessed(ctx context.Context, id string, processedAt time.Time, errMsg *string) error {
	result := r.db.WithContext(ctx).
		Model(&CallbackRecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": processedAt,
			"error_msg":    errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
