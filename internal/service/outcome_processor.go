package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/observability"
	"github.com/halcyonlabs/outreach-engine/internal/queue"
	"github.com/halcyonlabs/outreach-engine/internal/repository"
)

// PolicyResolver maps an outcome shape to the applicable retry policy.
type PolicyResolver interface {
	Resolve(ctx context.Context, campaignID, status, endReason string) (domain.RetryPolicy, error)
}

// OutcomeProcessor reconciles one staged provider callback into the owning
// enrollment's next transition: retry the step, advance past it, or complete.
// Processing is idempotent per provider call id; the unique index on
// activities.provider_call_id is what makes redelivery a no-op.
type OutcomeProcessor struct {
	enrollments repository.EnrollmentRepository
	activities  repository.ActivityRepository
	campaigns   repository.CampaignRepository
	callbacks   repository.CallbackRepository
	resolver    PolicyResolver
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewOutcomeProcessor(
	enrollments repository.EnrollmentRepository,
	activities repository.ActivityRepository,
	campaigns repository.CampaignRepository,
	callbacks repository.CallbackRepository,
	resolver PolicyResolver,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*OutcomeProcessor, error) {
	if enrollments == nil {
		return nil, fmt.Errorf("enrollment repository is required")
	}
	if activities == nil {
		return nil, fmt.Errorf("activity repository is required")
	}
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if callbacks == nil {
		return nil, fmt.Errorf("callback repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("policy resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutcomeProcessor{
		enrollments: enrollments,
		activities:  activities,
		campaigns:   campaigns,
		callbacks:   callbacks,
		resolver:    resolver,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (p *OutcomeProcessor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Process applies one callback record. A returned error leaves the record
// unprocessed so the ingest scanner re-drives it; logical dead-ends are marked
// processed with an annotation and never retried.
func (p *OutcomeProcessor) Process(ctx context.Context, record *domain.CallbackRecord) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if record == nil {
		return fmt.Errorf("%w: callback record is required", domain.ErrValidation)
	}
	if err := record.Validate(); err != nil {
		return p.markDeadEnd(ctx, record, fmt.Sprintf("invalid callback record: %v", err))
	}

	enrollment, deadEnd, err := p.resolveEnrollment(ctx, record)
	if err != nil {
		return err
	}
	if deadEnd != "" {
		return p.markDeadEnd(ctx, record, deadEnd)
	}

	if enrollment.Status != domain.EnrollmentActive {
		return p.markDeadEnd(ctx, record, fmt.Sprintf("enrollment %s is %s, event is stale", enrollment.ID, enrollment.Status))
	}
	if enrollment.CurrentStepID == nil {
		return p.markDeadEnd(ctx, record, fmt.Sprintf("enrollment %s has no current step", enrollment.ID))
	}
	stepID := *enrollment.CurrentStepID

	activity, inserted, err := p.recordActivity(ctx, record, enrollment, stepID)
	if err != nil {
		return err
	}
	if !inserted {
		if p.metrics != nil {
			p.metrics.IncDuplicateCallback("db")
		}
		p.logger.Info("duplicate provider call, outcome already applied",
			zap.String("providerCallId", record.ProviderCallID),
			zap.String("enrollmentId", enrollment.ID),
		)
		return p.markDeadEnd(ctx, record, "duplicate provider_call_id")
	}

	policy, err := p.resolver.Resolve(ctx, enrollment.CampaignID, record.Status, record.EndReason)
	if err != nil {
		return fmt.Errorf("failed to resolve retry policy: %w", err)
	}

	now := p.now().UTC()
	withinWindow := now.Sub(enrollment.StartedAt) <= policy.RetryWindow()

	if !policy.IsConnected && policy.ShouldRetry && withinWindow {
		if err := p.scheduleRetry(ctx, record, enrollment, stepID, activity, &policy, now); err != nil {
			return err
		}
		return p.markProcessed(ctx, record, now)
	}

	if err := p.finishOrAdvance(ctx, record, enrollment, stepID, now); err != nil {
		return err
	}
	return p.markProcessed(ctx, record, now)
}

// resolveEnrollment finds the owning enrollment: the record's explicit id
// first, then the contact's active enrollment. A non-empty dead-end string
// means the record can never be applied.
func (p *OutcomeProcessor) resolveEnrollment(ctx context.Context, record *domain.CallbackRecord) (*domain.Enrollment, string, error) {
	if record.EnrollmentID != nil && strings.TrimSpace(*record.EnrollmentID) != "" {
		enrollment, err := p.enrollments.GetByID(ctx, *record.EnrollmentID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Sprintf("enrollment %s not found", *record.EnrollmentID), nil
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to load enrollment: %w", err)
		}
		return enrollment, "", nil
	}

	if record.ContactID != nil && strings.TrimSpace(*record.ContactID) != "" {
		enrollment, err := p.enrollments.FindActiveByContact(ctx, *record.ContactID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Sprintf("no active enrollment for contact %s", *record.ContactID), nil
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to look up enrollment by contact: %w", err)
		}
		return enrollment, "", nil
	}

	return nil, "callback carries neither enrollment id nor contact id", nil
}

// recordActivity persists the attempt summary. inserted=false means the
// provider call id was already recorded and steps 4-6 must not re-run.
func (p *OutcomeProcessor) recordActivity(
	ctx context.Context,
	record *domain.CallbackRecord,
	enrollment *domain.Enrollment,
	stepID string,
) (*domain.Activity, bool, error) {
	priorAttempts, err := p.activities.CountAttempts(ctx, enrollment.ID, stepID, record.Channel)
	if err != nil {
		return nil, false, fmt.Errorf("failed to count attempts: %w", err)
	}

	now := p.now().UTC()
	sentAt := record.StartedAt
	if sentAt == nil {
		sentAt = &now
	}

	providerCallID := record.ProviderCallID
	activity := &domain.Activity{
		ID:             uuid.NewString(),
		OrgID:          enrollment.OrgID,
		EnrollmentID:   enrollment.ID,
		CampaignID:     enrollment.CampaignID,
		StepID:         stepID,
		Channel:        record.Channel,
		AttemptNo:      int(priorAttempts) + 1,
		Status:         domain.ActivityCompleted,
		ScheduledAt:    *sentAt,
		SentAt:         sentAt,
		CompletedAt:    &now,
		Outcome:        record.Classification,
		EndReason:      record.EndReason,
		ProviderCallID: &providerCallID,
		DurationMS:     record.DurationMS,
		Transcript:     record.Transcript,
		RecordingURL:   record.RecordingURL,
	}

	if err := p.activities.Create(ctx, activity); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to record activity: %w", err)
	}

	return activity, true, nil
}

// scheduleRetry keeps the enrollment on the same step and computes the next
// voice attempt time; optionally it also fires an immediate SMS touch.
func (p *OutcomeProcessor) scheduleRetry(
	ctx context.Context,
	record *domain.CallbackRecord,
	enrollment *domain.Enrollment,
	stepID string,
	activity *domain.Activity,
	policy *domain.RetryPolicy,
	now time.Time,
) error {
	delay := policy.SubsequentRetryDelay()
	if activity.AttemptNo <= 1 {
		delay = policy.FirstRetryDelay()
	}
	nextRunAt := now.Add(delay)

	if policy.ShouldAlignSameTime() {
		nextRunAt = p.alignToFirstAttempt(ctx, enrollment.ID, stepID, nextRunAt)
	}

	if policy.RetrySMS {
		p.planSMSTouch(ctx, enrollment, now)
	}

	if err := p.enrollments.ScheduleNext(ctx, enrollment.ID, stepID, domain.ChannelVoice, nextRunAt); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return p.markDeadEnd(ctx, record, "enrollment state changed during retry scheduling")
		}
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	p.logger.Info("retry scheduled",
		zap.String("enrollmentId", enrollment.ID),
		zap.String("stepId", stepID),
		zap.Int("attemptNo", activity.AttemptNo),
		zap.Time("nextRunAt", nextRunAt),
	)
	if p.metrics != nil {
		p.metrics.IncRetryScheduled(strings.ToLower(domain.ChannelVoice.String()))
		p.metrics.IncOutcomeProcessed("retry")
	}

	return nil
}

// alignToFirstAttempt overwrites the wall-clock time of nextRunAt with the
// hour/minute/second of the step's first recorded attempt, preserving the
// computed date. Retries keep landing in the contact's observed convenience
// window instead of drifting with processing time.
func (p *OutcomeProcessor) alignToFirstAttempt(ctx context.Context, enrollmentID, stepID string, nextRunAt time.Time) time.Time {
	first, err := p.activities.FirstAttemptStart(ctx, enrollmentID, stepID, domain.ChannelVoice)
	if err != nil {
		p.logger.Warn("failed to load first attempt start, skipping alignment",
			zap.String("enrollmentId", enrollmentID),
			zap.Error(err),
		)
		return nextRunAt
	}
	if first == nil {
		return nextRunAt
	}

	anchor := first.UTC()
	return time.Date(
		nextRunAt.Year(), nextRunAt.Month(), nextRunAt.Day(),
		anchor.Hour(), anchor.Minute(), anchor.Second(), 0,
		nextRunAt.Location(),
	)
}

// planSMSTouch records an immediately-scheduled SMS activity and enqueues it.
// The touch is best-effort: a failure here never blocks the voice retry.
func (p *OutcomeProcessor) planSMSTouch(ctx context.Context, enrollment *domain.Enrollment, now time.Time) {
	smsStep, err := p.campaigns.GetFirstStepByChannel(ctx, enrollment.CampaignID, domain.ChannelSMS)
	if err != nil {
		p.logger.Warn("retry_sms set but campaign has no sms step",
			zap.String("campaignId", enrollment.CampaignID),
			zap.Error(err),
		)
		return
	}

	priorAttempts, err := p.activities.CountAttempts(ctx, enrollment.ID, smsStep.ID, domain.ChannelSMS)
	if err != nil {
		p.logger.Warn("failed to count sms attempts", zap.Error(err))
		priorAttempts = 0
	}

	activity := &domain.Activity{
		ID:           uuid.NewString(),
		OrgID:        enrollment.OrgID,
		EnrollmentID: enrollment.ID,
		CampaignID:   enrollment.CampaignID,
		StepID:       smsStep.ID,
		Channel:      domain.ChannelSMS,
		AttemptNo:    int(priorAttempts) + 1,
		Status:       domain.ActivityPlanned,
		ScheduledAt:  now,
	}
	if err := p.activities.Create(ctx, activity); err != nil {
		p.logger.Warn("failed to plan sms touch", zap.Error(err))
		return
	}

	if p.publisher == nil {
		return
	}
	msg := queue.DispatchMessage{
		EnrollmentID: enrollment.ID,
		ActivityID:   activity.ID,
		StepID:       smsStep.ID,
		Channel:      domain.ChannelSMS,
	}
	if err := p.publisher.Publish(ctx, queue.QueueName(domain.ChannelSMS), msg); err != nil {
		p.logger.Warn("failed to enqueue sms touch",
			zap.String("activityId", activity.ID),
			zap.Error(err),
		)
	}
}

// finishOrAdvance applies step 6: terminal classifications complete the
// enrollment, anything else advances to the next step or completes when the
// sequence is exhausted.
func (p *OutcomeProcessor) finishOrAdvance(
	ctx context.Context,
	record *domain.CallbackRecord,
	enrollment *domain.Enrollment,
	stepID string,
	now time.Time,
) error {
	if domain.IsTerminalOutcome(record.Classification) {
		if err := p.enrollments.Complete(ctx, enrollment.ID, now); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return p.markDeadEnd(ctx, record, "enrollment state changed during completion")
			}
			return fmt.Errorf("failed to complete enrollment: %w", err)
		}
		p.logger.Info("enrollment completed",
			zap.String("enrollmentId", enrollment.ID),
			zap.String("outcome", record.Classification),
		)
		if p.metrics != nil {
			p.metrics.IncEnrollmentCompleted(strings.ToLower(strings.TrimSpace(record.Classification)))
			p.metrics.IncOutcomeProcessed("complete")
		}
		return nil
	}

	currentStep, err := p.campaigns.GetStep(ctx, stepID)
	if err != nil {
		return fmt.Errorf("failed to load current step: %w", err)
	}

	nextStep, err := p.campaigns.GetNextStep(ctx, enrollment.CampaignID, currentStep.OrderIndex)
	if errors.Is(err, domain.ErrNotFound) {
		if err := p.enrollments.Complete(ctx, enrollment.ID, now); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return p.markDeadEnd(ctx, record, "enrollment state changed during completion")
			}
			return fmt.Errorf("failed to complete exhausted enrollment: %w", err)
		}
		p.logger.Info("sequence exhausted, enrollment completed",
			zap.String("enrollmentId", enrollment.ID),
		)
		if p.metrics != nil {
			p.metrics.IncEnrollmentCompleted("sequence_exhausted")
			p.metrics.IncOutcomeProcessed("complete")
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load next step: %w", err)
	}

	nextRunAt := now.Add(nextStep.WaitBefore())
	if err := p.enrollments.ScheduleNext(ctx, enrollment.ID, nextStep.ID, nextStep.Channel, nextRunAt); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return p.markDeadEnd(ctx, record, "enrollment state changed during advance")
		}
		return fmt.Errorf("failed to advance enrollment: %w", err)
	}

	p.logger.Info("enrollment advanced",
		zap.String("enrollmentId", enrollment.ID),
		zap.String("nextStepId", nextStep.ID),
		zap.String("nextChannel", nextStep.Channel.String()),
		zap.Time("nextRunAt", nextRunAt),
	)
	if p.metrics != nil {
		p.metrics.IncOutcomeProcessed("advance")
	}

	return nil
}

func (p *OutcomeProcessor) markProcessed(ctx context.Context, record *domain.CallbackRecord, processedAt time.Time) error {
	if err := p.callbacks.MarkProcessed(ctx, record.ID, processedAt, nil); err != nil {
		return fmt.Errorf("failed to mark callback processed: %w", err)
	}
	return nil
}

// markDeadEnd marks a logically unresolvable record processed with an error
// annotation so it is never re-attempted.
func (p *OutcomeProcessor) markDeadEnd(ctx context.Context, record *domain.CallbackRecord, reason string) error {
	p.logger.Warn("callback record is a dead end",
		zap.String("callbackId", record.ID),
		zap.String("providerCallId", record.ProviderCallID),
		zap.String("reason", reason),
	)
	if p.metrics != nil {
		p.metrics.IncOutcomeProcessed("dead_end")
	}
	if err := p.callbacks.MarkProcessed(ctx, record.ID, p.now().UTC(), &reason); err != nil {
		return fmt.Errorf("failed to mark callback dead end: %w", err)
	}
	return nil
}
