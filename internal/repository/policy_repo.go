package repository

import (
	"context"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"gorm.io/gorm"
)

// PolicyRepository exposes retry policy rows as a read-only snapshot so the
// resolver stays testable without a live database.
type PolicyRepository interface {
	// FindCampaignCandidates returns campaign-scoped rows whose match columns
	// equal the given status/reason or the ANY wildcard.
	FindCampaignCandidates(ctx context.Context, campaignID, status, endReason string) ([]domain.RetryPolicy, error)
	// FindGlobalCandidates is the same query against the global fallback scope.
	FindGlobalCandidates(ctx context.Context, status, endReason string) ([]domain.RetryPolicy, error)
}

type GormPolicyRepo struct {
	db *gorm.DB
}

func NewGormPolicyRepo(db *gorm.DB) *GormPolicyRepo {
	return &GormPolicyRepo{db: db}
}

func (r *GormPolicyRepo) FindCampaignCandidates(ctx context.Context, campaignID, status, endReason string) ([]domain.RetryPolicy, error) {
	var policies []domain.RetryPolicy
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Where("match_status IN ?", matchValues(status)).
		Where("match_end_reason IN ?", matchValues(endReason)).
		Order("id ASC").
		Find(&policies).Error
	if err != nil {
		return nil, err
	}
	return policies, nil
}

func (r *GormPolicyRepo) FindGlobalCandidates(ctx context.Context, status, endReason string) ([]domain.RetryPolicy, error) {
	var policies []domain.RetryPolicy
	err := r.db.WithContext(ctx).
		Where("campaign_id IS NULL").
		Where("match_status IN ?", matchValues(status)).
		Where("match_end_reason IN ?", matchValues(endReason)).
		Order("id ASC").
		Find(&policies).Error
	if err != nil {
		return nil, err
	}
	return policies, nil
}

// matchValues builds the IN-list for a match column: the concrete value plus
// the wildcard. An empty value matches wildcard rows only.
func matchValues(value string) []string {
	if value == "" {
		return []string{domain.MatchAny}
	}
	return []string{value, domain.MatchAny}
}
