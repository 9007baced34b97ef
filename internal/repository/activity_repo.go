package repository

import (
	"context"
	"errors"
	"time"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"gorm.io/gorm"
)

type ActivityRepository interface {
	// Create persists an attempt. A unique violation on provider_call_id is
	// translated to domain.ErrDuplicate so ingestion treats it as a no-op.
	Create(ctx context.Context, a *domain.Activity) error
	GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.Activity, error)
	CountAttempts(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (int64, error)
	FirstAttemptStart(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (*time.Time, error)
	CountSentForEnrollmentSince(ctx context.Context, enrollmentID string, since time.Time) (int64, error)
	CountSentForCampaignChannelSince(ctx context.Context, campaignID string, channel domain.Channel, since time.Time) (int64, error)
	SumCostForCampaign(ctx context.Context, campaignID string) (float64, error)
	MarkSent(ctx context.Context, id string, providerRef string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, endReason string, completedAt time.Time) error
}

type GormActivityRepo struct {
	db *gorm.DB
}

func NewGormActivityRepo(db *gorm.DB) *GormActivityRepo {
	return &GormActivityRepo{db: db}
}

func (r *GormActivityRepo) Create(ctx context.Context, a *domain.Activity) error {
	model := activityModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return err
	}
	if a != nil {
		*a = *activityModelToDomain(model)
	}
	return nil
}

func (r *GormActivityRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.Activity, error) {
	var model ActivityModel
	err := r.db.WithContext(ctx).
		Where("provider_call_id = ?", providerCallID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return activityModelToDomain(&model), nil
}

func (r *GormActivityRepo) CountAttempts(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ActivityModel{}).
		Where("enrollment_id = ? AND step_id = ? AND channel = ?", enrollmentID, stepID, channel).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// FirstAttemptStart returns the SentAt of the earliest attempt for the given
// enrollment+step+channel, or nil when no attempt has started yet. Used for
// same-time-of-day retry alignment.
func (r *GormActivityRepo) FirstAttemptStart(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (*time.Time, error) {
	var model ActivityModel
	err := r.db.WithContext(ctx).
		Where("enrollment_id = ? AND step_id = ? AND channel = ? AND sent_at IS NOT NULL", enrollmentID, stepID, channel).
		Order("sent_at ASC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.SentAt, nil
}

func (r *GormActivityRepo) CountSentForEnrollmentSince(ctx context.Context, enrollmentID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ActivityModel{}).
		Where("enrollment_id = ? AND sent_at >= ?", enrollmentID, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormActivityRepo) CountSentForCampaignChannelSince(ctx context.Context, campaignID string, channel domain.Channel, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ActivityModel{}).
		Where("campaign_id = ? AND channel = ? AND sent_at >= ?", campaignID, channel, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormActivityRepo) SumCostForCampaign(ctx context.Context, campaignID string) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).
		Model(&ActivityModel{}).
		Select("COALESCE(SUM(cost_usd), 0)").
		Where("campaign_id = ?", campaignID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *GormActivityRepo) MarkSent(ctx context.Context, id string, providerRef string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ActivityModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.ActivitySent,
			"provider_ref": providerRef,
			"sent_at":      sentAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormActivityRepo) MarkFailed(ctx context.Context, id string, endReason string, completedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ActivityModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.ActivityFailed,
			"end_reason":   endReason,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
