package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

// Resolver maps an observed (campaign, status, end reason) outcome shape to
// the applicable retry policy. Resolution always terminates with a usable
// policy: campaign scope first, then the global fallback with conservative
// backfill, then a hard-coded no-retry default.
type Resolver struct {
	policies repository.PolicyRepository
	logger   *zap.Logger
}

func NewResolver(policies repository.PolicyRepository, logger *zap.Logger) (*Resolver, error) {
	if policies == nil {
		return nil, fmt.Errorf("policy repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		policies: policies,
		logger:   logger,
	}, nil
}

func (r *Resolver) Resolve(ctx context.Context, campaignID, status, endReason string) (domain.RetryPolicy, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	status = normalizeMatchValue(status)
	endReason = normalizeMatchValue(endReason)

	if campaignID != "" {
		candidates, err := r.policies.FindCampaignCandidates(ctx, campaignID, status, endReason)
		if err != nil {
			return domain.RetryPolicy{}, fmt.Errorf("failed to query campaign policies: %w", err)
		}
		if best, ok := pickMostSpecific(candidates, status, endReason); ok {
			return best, nil
		}
	}

	candidates, err := r.policies.FindGlobalCandidates(ctx, status, endReason)
	if err != nil {
		return domain.RetryPolicy{}, fmt.Errorf("failed to query global policies: %w", err)
	}
	if best, ok := pickMostSpecific(candidates, status, endReason); ok {
		backfillGlobalDefaults(&best)
		return best, nil
	}

	r.logger.Debug("no retry policy matched, using safe default",
		zap.String("campaignId", campaignID),
		zap.String("status", status),
		zap.String("endReason", endReason),
	)

	return domain.SafeDefaultPolicy(), nil
}

// pickMostSpecific ranks candidates by match specificity: an exact status
// match outranks a wildcard, independently for end reason, with status
// specificity taking priority on ties. Equal specificity falls back to the
// lowest id so the selection is deterministic.
func pickMostSpecific(candidates []domain.RetryPolicy, status, endReason string) (domain.RetryPolicy, bool) {
	if len(candidates) == 0 {
		return domain.RetryPolicy{}, false
	}

	ranked := make([]domain.RetryPolicy, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := specificity(ranked[i], status, endReason), specificity(ranked[j], status, endReason)
		if si != sj {
			return si < sj
		}
		return ranked[i].ID < ranked[j].ID
	})

	return ranked[0], true
}

// specificity returns a sort key where lower is more specific: 0 for exact
// status + exact reason, 1 for exact status + wildcard reason, 2 for wildcard
// status + exact reason, 3 for double wildcard.
func specificity(p domain.RetryPolicy, status, endReason string) int {
	key := 0
	if !strings.EqualFold(p.MatchStatus, status) {
		key += 2
	}
	if !strings.EqualFold(p.MatchEndReason, endReason) {
		key++
	}
	return key
}

// backfillGlobalDefaults fills unset numeric fields of a global-scope policy
// with conservative values: first retry in 24h, subsequent every 24h, 4-day
// window, align-same-time on.
func backfillGlobalDefaults(p *domain.RetryPolicy) {
	if p.FirstRetryMins == nil {
		mins := domain.DefaultFirstRetryMins
		p.FirstRetryMins = &mins
	}
	if p.SubsequentRetryMins == nil {
		mins := domain.DefaultSubsequentRetryMins
		p.SubsequentRetryMins = &mins
	}
	if p.MaxRetryDays == nil {
		days := domain.DefaultMaxRetryDays
		p.MaxRetryDays = &days
	}
	if p.AlignSameTime == nil {
		align := true
		p.AlignSameTime = &align
	}
}

// normalizeMatchValue maps an absent outcome field to the wildcard so blank
// provider payloads still resolve against ANY rows.
func normalizeMatchValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return domain.MatchAny
	}
	return trimmed
}
