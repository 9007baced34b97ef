package guard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	frequencyWindow = 24 * time.Hour
	rateWindow      = time.Hour
)

// CounterReader supplies the aggregate counters behind the budget, rate, and
// frequency checks. Counts are read-heavy and may be slightly stale; a stale
// count allowing one extra send is tolerable, an incorrect permanent block is
// not, so counter query failures fail open.
type CounterReader interface {
	CountSentForEnrollmentSince(ctx context.Context, enrollmentID string, since time.Time) (int64, error)
	CountSentForCampaignChannelSince(ctx context.Context, campaignID string, channel domain.Channel, since time.Time) (int64, error)
	SumCostForCampaign(ctx context.Context, campaignID string) (float64, error)
}

// Evaluator runs the admission checks before every channel send. Checks
// short-circuit in a fixed order: quiet hours, consent, frequency cap,
// budget cap, rate cap. Denial is a verdict, not an error; the only side
// effect is the audit log entry.
type Evaluator struct {
	counters CounterReader
	logger   *zap.Logger
	now      func() time.Time
}

func NewEvaluator(counters CounterReader, logger *zap.Logger) (*Evaluator, error) {
	if counters == nil {
		return nil, fmt.Errorf("counter reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Evaluator{
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (e *Evaluator) Evaluate(
	ctx context.Context,
	enrollment *domain.Enrollment,
	step *domain.CampaignStep,
	campaign *domain.Campaign,
	contact *domain.Contact,
) domain.GuardVerdict {
	if ctx == nil {
		ctx = context.Background()
	}

	verdict := e.evaluate(ctx, enrollment, step, campaign, contact)
	e.audit(enrollment, step, verdict)
	return verdict
}

func (e *Evaluator) evaluate(
	ctx context.Context,
	enrollment *domain.Enrollment,
	step *domain.CampaignStep,
	campaign *domain.Campaign,
	contact *domain.Contact,
) domain.GuardVerdict {
	now := e.localNow(contact)

	if verdict, blocked := checkQuietHours(now, campaign.QuietStart, campaign.QuietEnd); blocked {
		return verdict
	}

	if !contactConsents(contact, campaign) {
		return domain.DenyVerdict(domain.BlockNoConsent, &domain.GuardHint{Action: "obtain_consent"})
	}

	if verdict, blocked := e.checkFrequency(ctx, enrollment, campaign); blocked {
		return verdict
	}

	if verdict, blocked := e.checkBudget(ctx, campaign); blocked {
		return verdict
	}

	if verdict, blocked := e.checkRate(ctx, campaign, step.Channel); blocked {
		return verdict
	}

	return domain.AllowVerdict()
}

func (e *Evaluator) checkFrequency(ctx context.Context, enrollment *domain.Enrollment, campaign *domain.Campaign) (domain.GuardVerdict, bool) {
	limit := campaign.FrequencyCapPer24h
	if limit <= 0 {
		return domain.GuardVerdict{}, false
	}

	count, err := e.counters.CountSentForEnrollmentSince(ctx, enrollment.ID, e.now().Add(-frequencyWindow))
	if err != nil {
		e.logger.Warn("frequency counter query failed, allowing send",
			zap.String("enrollmentId", enrollment.ID),
			zap.Error(err),
		)
		return domain.GuardVerdict{}, false
	}

	if count >= int64(limit) {
		retryAfter := frequencyWindow
		return domain.DenyVerdict(domain.BlockFreqCap, &domain.GuardHint{RetryAfter: &retryAfter}), true
	}

	return domain.GuardVerdict{}, false
}

func (e *Evaluator) checkBudget(ctx context.Context, campaign *domain.Campaign) (domain.GuardVerdict, bool) {
	if campaign.BudgetLimitUSD == nil {
		return domain.GuardVerdict{}, false
	}

	spent, err := e.counters.SumCostForCampaign(ctx, campaign.ID)
	if err != nil {
		e.logger.Warn("budget counter query failed, allowing send",
			zap.String("campaignId", campaign.ID),
			zap.Error(err),
		)
		return domain.GuardVerdict{}, false
	}

	if spent >= *campaign.BudgetLimitUSD {
		return domain.DenyVerdict(domain.BlockBudgetCap, &domain.GuardHint{Action: "pause_campaign"}), true
	}

	return domain.GuardVerdict{}, false
}

func (e *Evaluator) checkRate(ctx context.Context, campaign *domain.Campaign, channel domain.Channel) (domain.GuardVerdict, bool) {
	if campaign.HourlyRateLimit == nil || *campaign.HourlyRateLimit <= 0 {
		return domain.GuardVerdict{}, false
	}

	count, err := e.counters.CountSentForCampaignChannelSince(ctx, campaign.ID, channel, e.now().Add(-rateWindow))
	if err != nil {
		e.logger.Warn("rate counter query failed, allowing send",
			zap.String("campaignId", campaign.ID),
			zap.Error(err),
		)
		return domain.GuardVerdict{}, false
	}

	if count >= int64(*campaign.HourlyRateLimit) {
		retryAfter := rateWindow
		return domain.DenyVerdict(domain.BlockRateCap, &domain.GuardHint{RetryAfter: &retryAfter}), true
	}

	return domain.GuardVerdict{}, false
}

func (e *Evaluator) audit(enrollment *domain.Enrollment, step *domain.CampaignStep, verdict domain.GuardVerdict) {
	fields := []zap.Field{
		zap.String("enrollmentId", enrollment.ID),
		zap.String("stepId", step.ID),
		zap.String("channel", strings.ToLower(step.Channel.String())),
		zap.Bool("allow", verdict.Allow),
	}
	if !verdict.Allow {
		fields = append(fields, zap.String("reason", verdict.Reason.String()))
	}
	e.logger.Info("guard verdict", fields...)
}

// localNow resolves the contact's local clock; an unknown or empty timezone
// falls back to UTC.
func (e *Evaluator) localNow(contact *domain.Contact) time.Time {
	now := e.now()
	if contact == nil || contact.Timezone == "" {
		return now.UTC()
	}
	loc, err := time.LoadLocation(contact.Timezone)
	if err != nil {
		return now.UTC()
	}
	return now.In(loc)
}

// contactConsents falls back to the campaign default only when the contact
// record is missing; a known contact without consent is always blocked.
func contactConsents(contact *domain.Contact, campaign *domain.Campaign) bool {
	if contact == nil {
		return campaign.DefaultConsent
	}
	return contact.Consent
}

// checkQuietHours blocks when now falls inside the configured window. The
// window wraps midnight when start >= end. The hint carries the next
// permissible timestamp.
func checkQuietHours(now time.Time, startHHMM, endHHMM string) (domain.GuardVerdict, bool) {
	start, startOK := parseHHMM(startHHMM)
	end, endOK := parseHHMM(endHHMM)
	if !startOK || !endOK {
		return domain.GuardVerdict{}, false
	}

	minuteOfDay := now.Hour()*60 + now.Minute()

	var blocked bool
	if start <= end {
		blocked = minuteOfDay >= start && minuteOfDay <= end
	} else {
		blocked = minuteOfDay >= start || minuteOfDay <= end
	}

	if !blocked {
		return domain.GuardVerdict{}, false
	}

	next := nextAllowedTime(now, start, end)
	return domain.DenyVerdict(domain.BlockQuietHours, &domain.GuardHint{ScheduleAfter: &next}), true
}

// nextAllowedTime returns the first timestamp after the quiet window ends,
// one minute past the end boundary.
func nextAllowedTime(now time.Time, start, end int) time.Time {
	minuteOfDay := now.Hour()*60 + now.Minute()
	endOfWindow := time.Date(now.Year(), now.Month(), now.Day(), end/60, end%60, 0, 0, now.Location())

	if start > end && minuteOfDay >= start {
		// Inside the pre-midnight half of a wrapped window; the window ends tomorrow.
		endOfWindow = endOfWindow.AddDate(0, 0, 1)
	}

	return endOfWindow.Add(time.Minute)
}

func parseHHMM(value string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, false
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}
