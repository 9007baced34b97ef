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

const (
	defaultPlannerScanInterval = 5 * time.Second
	defaultPlannerScanLimit    = 100

	// redispatchGuardInterval pushes NextRunAt past the scan horizon after a
	// message is enqueued so the enrollment is not re-picked before the worker
	// and outcome processor move it forward.
	redispatchGuardInterval = 5 * time.Minute
	blockedDeferFallback    = time.Hour
)

// GuardEvaluator is the admission-control port consulted before every send.
type GuardEvaluator interface {
	Evaluate(
		ctx context.Context,
		enrollment *domain.Enrollment,
		step *domain.CampaignStep,
		campaign *domain.Campaign,
		contact *domain.Contact,
	) domain.GuardVerdict
}

// DispatchPlanner periodically maps due enrollments to channel dispatch
// messages, recording blocked attempts and deferring their wake-up per the
// guard's hint.
type DispatchPlanner struct {
	enrollments repository.EnrollmentRepository
	campaigns   repository.CampaignRepository
	contacts    repository.ContactRepository
	activities  repository.ActivityRepository
	evaluator   GuardEvaluator
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	limit       int
	now         func() time.Time
}

func NewDispatchPlanner(
	enrollments repository.EnrollmentRepository,
	campaigns repository.CampaignRepository,
	contacts repository.ContactRepository,
	activities repository.ActivityRepository,
	evaluator GuardEvaluator,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*DispatchPlanner, error) {
	if enrollments == nil {
		return nil, fmt.Errorf("enrollment repository is required")
	}
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}
	if activities == nil {
		return nil, fmt.Errorf("activity repository is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("guard evaluator is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("queue publisher is required")
	}
	if interval <= 0 {
		interval = defaultPlannerScanInterval
	}
	if limit <= 0 {
		limit = defaultPlannerScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchPlanner{
		enrollments: enrollments,
		campaigns:   campaigns,
		contacts:    contacts,
		activities:  activities,
		evaluator:   evaluator,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		limit:       limit,
		now:         time.Now,
	}, nil
}

func (s *DispatchPlanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *DispatchPlanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.ScanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("planner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ScanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("planner scan failed", zap.Error(err))
			}
		}
	}
}

// ScanDue runs one planning pass and returns the number of dispatched sends.
// It also backs the external scheduler's dispatch-due entrypoint.
func (s *DispatchPlanner) ScanDue(ctx context.Context) (int, error) {
	due, err := s.enrollments.GetDueForDispatch(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due enrollments: %w", err)
	}

	dispatched := 0
	for i := range due {
		sent, err := s.planOne(ctx, due[i].ID)
		if err != nil {
			s.logger.Error("failed to plan enrollment dispatch",
				zap.String("enrollmentId", due[i].ID),
				zap.Error(err),
			)
			continue
		}
		if sent {
			dispatched++
		}
	}

	return dispatched, nil
}

func (s *DispatchPlanner) planOne(ctx context.Context, enrollmentID string) (bool, error) {
	enrollment, err := s.enrollments.ClaimForDispatch(ctx, enrollmentID)
	if err != nil {
		return false, fmt.Errorf("failed to claim enrollment: %w", err)
	}
	// Nil means no longer active or not dispatchable; skip.
	if enrollment == nil {
		return false, nil
	}

	if enrollment.CurrentStepID == nil {
		s.logger.Warn("active enrollment without current step, completing",
			zap.String("enrollmentId", enrollment.ID),
		)
		if err := s.enrollments.Complete(ctx, enrollment.ID, s.now().UTC()); err != nil && !errors.Is(err, domain.ErrConflict) {
			return false, fmt.Errorf("failed to complete stepless enrollment: %w", err)
		}
		return false, nil
	}

	step, err := s.campaigns.GetStep(ctx, *enrollment.CurrentStepID)
	if err != nil {
		return false, fmt.Errorf("failed to load current step: %w", err)
	}

	campaign, err := s.campaigns.GetByID(ctx, enrollment.CampaignID)
	if err != nil {
		return false, fmt.Errorf("failed to load campaign: %w", err)
	}

	contact, err := s.contacts.GetByID(ctx, enrollment.ContactID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("failed to load contact: %w", err)
	}

	channel := step.Channel
	if enrollment.NextChannel != nil {
		channel = *enrollment.NextChannel
	}

	verdict := s.evaluator.Evaluate(ctx, enrollment, step, campaign, contact)
	if !verdict.Allow {
		return false, s.recordBlocked(ctx, enrollment, step, channel, verdict)
	}

	return true, s.dispatch(ctx, enrollment, step, channel)
}

// recordBlocked writes a blocked activity for audit and defers the wake-up
// per the guard hint.
func (s *DispatchPlanner) recordBlocked(
	ctx context.Context,
	enrollment *domain.Enrollment,
	step *domain.CampaignStep,
	channel domain.Channel,
	verdict domain.GuardVerdict,
) error {
	now := s.now().UTC()
	channelName := strings.ToLower(channel.String())

	activity := &domain.Activity{
		ID:           uuid.NewString(),
		OrgID:        enrollment.OrgID,
		EnrollmentID: enrollment.ID,
		CampaignID:   enrollment.CampaignID,
		StepID:       step.ID,
		Channel:      channel,
		AttemptNo:    1,
		Status:       domain.ActivityBlocked,
		ScheduledAt:  now,
		BlockReason:  verdict.Reason.String(),
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		return fmt.Errorf("failed to record blocked activity: %w", err)
	}

	deferTo := now.Add(blockedDeferFallback)
	if verdict.Hint != nil {
		switch {
		case verdict.Hint.ScheduleAfter != nil:
			deferTo = *verdict.Hint.ScheduleAfter
		case verdict.Hint.RetryAfter != nil:
			deferTo = now.Add(*verdict.Hint.RetryAfter)
		}
	}

	if err := s.enrollments.DeferNextRun(ctx, enrollment.ID, deferTo); err != nil {
		return fmt.Errorf("failed to defer blocked enrollment: %w", err)
	}

	s.logger.Info("dispatch blocked",
		zap.String("enrollmentId", enrollment.ID),
		zap.String("channel", channelName),
		zap.String("reason", verdict.Reason.String()),
		zap.Time("deferredTo", deferTo),
	)
	if s.metrics != nil {
		s.metrics.IncGuardBlocked(channelName, verdict.Reason.String())
	}

	return nil
}

func (s *DispatchPlanner) dispatch(
	ctx context.Context,
	enrollment *domain.Enrollment,
	step *domain.CampaignStep,
	channel domain.Channel,
) error {
	now := s.now().UTC()
	channelName := strings.ToLower(channel.String())

	priorAttempts, err := s.activities.CountAttempts(ctx, enrollment.ID, step.ID, channel)
	if err != nil {
		return fmt.Errorf("failed to count attempts: %w", err)
	}

	activity := &domain.Activity{
		ID:           uuid.NewString(),
		OrgID:        enrollment.OrgID,
		EnrollmentID: enrollment.ID,
		CampaignID:   enrollment.CampaignID,
		StepID:       step.ID,
		Channel:      channel,
		AttemptNo:    int(priorAttempts) + 1,
		Status:       domain.ActivityPlanned,
		ScheduledAt:  now,
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		return fmt.Errorf("failed to record planned activity: %w", err)
	}

	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = uuid.NewString()
	}

	msg := queue.DispatchMessage{
		EnrollmentID:  enrollment.ID,
		ActivityID:    activity.ID,
		StepID:        step.ID,
		Channel:       channel,
		CorrelationID: correlationID,
	}
	if err := s.publisher.Publish(ctx, queue.QueueName(channel), msg); err != nil {
		return fmt.Errorf("failed to publish dispatch message: %w", err)
	}

	if err := s.enrollments.DeferNextRun(ctx, enrollment.ID, now.Add(redispatchGuardInterval)); err != nil {
		return fmt.Errorf("failed to stamp dispatched enrollment: %w", err)
	}

	s.logger.Info("dispatch enqueued",
		zap.String("enrollmentId", enrollment.ID),
		zap.String("activityId", activity.ID),
		zap.String("channel", channelName),
	)
	if s.metrics != nil {
		s.metrics.IncDispatched(channelName)
	}

	return nil
}
