package repository

import (
	"context"
	"errors"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"gorm.io/gorm"
)

type CampaignRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	GetStep(ctx context.Context, stepID string) (*domain.CampaignStep, error)
	GetFirstStep(ctx context.Context, campaignID string) (*domain.CampaignStep, error)
	// GetNextStep returns the step with the smallest order index strictly
	// greater than afterOrder, or domain.ErrNotFound at the end of the campaign.
	GetNextStep(ctx context.Context, campaignID string, afterOrder int) (*domain.CampaignStep, error)
	GetFirstStepByChannel(ctx context.Context, campaignID string, channel domain.Channel) (*domain.CampaignStep, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var campaign domain.Campaign
	err := r.db.WithContext(ctx).First(&campaign, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *GormCampaignRepo) GetStep(ctx context.Context, stepID string) (*domain.CampaignStep, error) {
	var step domain.CampaignStep
	err := r.db.WithContext(ctx).First(&step, "id = ?", stepID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (r *GormCampaignRepo) GetFirstStep(ctx context.Context, campaignID string) (*domain.CampaignStep, error) {
	var step domain.CampaignStep
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("order_index ASC").
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (r *GormCampaignRepo) GetNextStep(ctx context.Context, campaignID string, afterOrder int) (*domain.CampaignStep, error) {
	var step domain.CampaignStep
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND order_index > ?", campaignID, afterOrder).
		Order("order_index ASC").
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (r *GormCampaignRepo) GetFirstStepByChannel(ctx context.Context, campaignID string, channel domain.Channel) (*domain.CampaignStep, error) {
	var step domain.CampaignStep
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND channel = ?", campaignID, channel).
		Order("order_index ASC").
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}
