package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/observability"
	"github.com/halcyonlabs/outreach-engine/internal/provider"
	"github.com/halcyonlabs/outreach-engine/internal/queue"
	"github.com/halcyonlabs/outreach-engine/internal/ratelimit"
	"github.com/halcyonlabs/outreach-engine/internal/repository"
)

const minWorkerConcurrency = 1

// SenderRegistry resolves the outbound sender for a channel.
type SenderRegistry interface {
	ForChannel(channel domain.Channel) (provider.Sender, error)
}

// WorkerService consumes channel queues and executes planned sends. It
// re-reads the enrollment at wake-up so a stop or supersede issued after
// planning turns the send into a no-op.
type WorkerService struct {
	enrollments repository.EnrollmentRepository
	activities  repository.ActivityRepository
	campaigns   repository.CampaignRepository
	contacts    repository.ContactRepository
	consumer    queue.Consumer
	senders     SenderRegistry
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewWorkerService(
	enrollments repository.EnrollmentRepository,
	activities repository.ActivityRepository,
	campaigns repository.CampaignRepository,
	contacts repository.ContactRepository,
	consumer queue.Consumer,
	senders SenderRegistry,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if enrollments == nil {
		return nil, fmt.Errorf("enrollment repository is required")
	}
	if activities == nil {
		return nil, fmt.Errorf("activity repository is required")
	}
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if senders == nil {
		return nil, fmt.Errorf("sender registry is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		enrollments: enrollments,
		activities:  activities,
		campaigns:   campaigns,
		contacts:    contacts,
		consumer:    consumer,
		senders:     senders,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the channel queues until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage executes one planned send. A returned error nacks the
// delivery back onto the queue; nil acks it.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.DispatchMessage) error {
	enrollment, err := s.enrollments.GetByID(ctx, msg.EnrollmentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("enrollment not found at wake-up, skipping",
				zap.String("enrollmentId", msg.EnrollmentID),
			)
			return nil
		}
		return fmt.Errorf("failed to load enrollment: %w", err)
	}

	// Stop/supersede check: planned sends for inactive enrollments are no-ops.
	if enrollment.Status != domain.EnrollmentActive {
		s.logger.Info("enrollment no longer active, skipping send",
			zap.String("enrollmentId", enrollment.ID),
			zap.String("status", enrollment.Status.String()),
		)
		return nil
	}

	channelName := strings.ToLower(msg.Channel.String())
	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(channelName)
		defer s.metrics.DecWorkerInFlight(channelName)
	}

	if err := s.rateLimiter.Wait(ctx, channelName); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	sender, err := s.senders.ForChannel(msg.Channel)
	if err != nil {
		return s.failPermanently(ctx, msg, string(provider.FailurePermanentFailure), err)
	}

	contact, err := s.contacts.GetByID(ctx, enrollment.ContactID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.failPermanently(ctx, msg, string(provider.FailureInvalidPayload), err)
		}
		return fmt.Errorf("failed to load contact: %w", err)
	}

	step, err := s.campaigns.GetStep(ctx, msg.StepID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.failPermanently(ctx, msg, string(provider.FailureInvalidPayload), err)
		}
		return fmt.Errorf("failed to load step: %w", err)
	}

	address := contact.Address(msg.Channel)
	if address == "" {
		return s.failPermanently(ctx, msg, string(provider.FailureInvalidPayload),
			fmt.Errorf("contact %s has no %s address", contact.ID, channelName))
	}

	req := provider.SendRequest{
		Channel:       msg.Channel,
		To:            address,
		TemplateRef:   step.TemplateRef,
		EnrollmentID:  enrollment.ID,
		ActivityID:    msg.ActivityID,
		CorrelationID: msg.CorrelationID,
	}

	sendStart := s.now()
	resp, sendErr := sender.Send(ctx, req)
	if s.metrics != nil {
		s.metrics.ObserveProviderSendDuration(channelName, s.now().Sub(sendStart))
	}

	if sendErr == nil {
		providerRef := ""
		if resp != nil {
			providerRef = resp.ProviderCallID
		}
		if err := s.activities.MarkSent(ctx, msg.ActivityID, providerRef, s.now().UTC()); err != nil {
			return fmt.Errorf("failed to mark activity sent: %w", err)
		}
		s.logger.Info("send executed",
			zap.String("activityId", msg.ActivityID),
			zap.String("enrollmentId", enrollment.ID),
			zap.String("channel", channelName),
			zap.String("providerRef", providerRef),
		)
		return nil
	}

	if provider.IsTransient(sendErr) {
		s.logger.Warn("transient send failure, requeueing",
			zap.String("activityId", msg.ActivityID),
			zap.String("channel", channelName),
			zap.Error(sendErr),
		)
		return fmt.Errorf("transient send failure: %w", sendErr)
	}

	return s.failPermanently(ctx, msg, string(provider.FailureCodeOf(sendErr)), sendErr)
}

// failPermanently marks the activity failed with its failure classification
// and acks the message; the enrollment stays where the planner left it and
// advances only through a later outcome or its next due scan.
func (s *WorkerService) failPermanently(ctx context.Context, msg queue.DispatchMessage, code string, cause error) error {
	s.logger.Warn("permanent send failure",
		zap.String("activityId", msg.ActivityID),
		zap.String("enrollmentId", msg.EnrollmentID),
		zap.String("code", code),
		zap.Error(cause),
	)
	if err := s.activities.MarkFailed(ctx, msg.ActivityID, code, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to mark activity failed: %w", err)
	}
	return nil
}
