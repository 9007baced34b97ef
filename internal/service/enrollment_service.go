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
	"github.com/halcyonlabs/outreach-engine/internal/repository"
)

// EnrollmentService owns campaign entry and the operator-facing stop signal.
// Advance/retry/complete transitions are applied by the outcome processor.
type EnrollmentService struct {
	enrollments repository.EnrollmentRepository
	campaigns   repository.CampaignRepository
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewEnrollmentService(
	enrollments repository.EnrollmentRepository,
	campaigns repository.CampaignRepository,
	logger *zap.Logger,
) (*EnrollmentService, error) {
	if enrollments == nil {
		return nil, fmt.Errorf("enrollment repository is required")
	}
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EnrollmentService{
		enrollments: enrollments,
		campaigns:   campaigns,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *EnrollmentService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Enroll creates an active enrollment at the campaign's first step. A prior
// active enrollment for the same contact is switched out first and keeps a
// back-reference to its successor.
func (s *EnrollmentService) Enroll(ctx context.Context, orgID, contactID, campaignID string) (*domain.Enrollment, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("%w: org id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(contactID) == "" {
		return nil, fmt.Errorf("%w: contact id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(campaignID) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	if _, err := s.campaigns.GetByID(ctx, campaignID); err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	firstStep, err := s.campaigns.GetFirstStep(ctx, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: campaign has no steps", domain.ErrValidation)
		}
		return nil, fmt.Errorf("failed to load first campaign step: %w", err)
	}

	now := s.now().UTC()
	newID := uuid.NewString()

	prior, err := s.enrollments.FindActiveByOrgContact(ctx, orgID, contactID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up active enrollment: %w", err)
	}
	if prior != nil {
		if err := s.enrollments.MarkSwitched(ctx, prior.ID, newID, now); err != nil {
			return nil, fmt.Errorf("failed to switch out prior enrollment: %w", err)
		}
		s.logger.Info("prior enrollment switched out",
			zap.String("enrollmentId", prior.ID),
			zap.String("successorId", newID),
		)
	}

	channel := firstStep.Channel
	nextRunAt := now.Add(firstStep.WaitBefore())
	enrollment := &domain.Enrollment{
		ID:            newID,
		OrgID:         orgID,
		ContactID:     contactID,
		CampaignID:    campaignID,
		Status:        domain.EnrollmentActive,
		StartedAt:     now,
		CurrentStepID: &firstStep.ID,
		NextChannel:   &channel,
		NextRunAt:     &nextRunAt,
	}

	if err := enrollment.Validate(); err != nil {
		return nil, err
	}

	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, fmt.Errorf("%w: contact already has an active enrollment", domain.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	s.logger.Info("contact enrolled",
		zap.String("enrollmentId", enrollment.ID),
		zap.String("campaignId", campaignID),
		zap.String("contactId", contactID),
		zap.String("firstStepId", firstStep.ID),
		zap.Time("nextRunAt", nextRunAt),
	)

	return enrollment, nil
}

// Stop ends an active enrollment so any pending wake-up finds it inactive and
// skips the send. Stopping an already-terminal enrollment is a no-op.
func (s *EnrollmentService) Stop(ctx context.Context, enrollmentID, reason string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(enrollmentID) == "" {
		return fmt.Errorf("%w: enrollment id is required", domain.ErrValidation)
	}

	enrollment, err := s.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to load enrollment: %w", err)
	}
	if enrollment.Status.IsTerminal() {
		return nil
	}

	now := s.now().UTC()
	if err := s.enrollments.Complete(ctx, enrollmentID, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race against another terminal transition.
			return nil
		}
		return fmt.Errorf("failed to stop enrollment: %w", err)
	}

	s.logger.Info("enrollment stopped",
		zap.String("enrollmentId", enrollmentID),
		zap.String("reason", reason),
	)
	if s.metrics != nil {
		s.metrics.IncEnrollmentCompleted("stopped")
	}

	return nil
}
