package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/repository"
)

// GuardEvaluator is the admission-control port exposed over HTTP for
// operator inspection and external schedulers.
type GuardEvaluator interface {
	Evaluate(
		ctx context.Context,
		enrollment *domain.Enrollment,
		step *domain.CampaignStep,
		campaign *domain.Campaign,
		contact *domain.Contact,
	) domain.GuardVerdict
}

type GuardHandler struct {
	enrollments repository.EnrollmentRepository
	campaigns   repository.CampaignRepository
	contacts    repository.ContactRepository
	evaluator   GuardEvaluator
}

func NewGuardHandler(
	enrollments repository.EnrollmentRepository,
	campaigns repository.CampaignRepository,
	contacts repository.ContactRepository,
	evaluator GuardEvaluator,
) (*GuardHandler, error) {
	if enrollments == nil {
		return nil, fmt.Errorf("enrollment repository is required")
	}
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("guard evaluator is required")
	}

	return &GuardHandler{
		enrollments: enrollments,
		campaigns:   campaigns,
		contacts:    contacts,
		evaluator:   evaluator,
	}, nil
}

func RegisterGuardRoutes(
	router fiber.Router,
	enrollments repository.EnrollmentRepository,
	campaigns repository.CampaignRepository,
	contacts repository.ContactRepository,
	evaluator GuardEvaluator,
) error {
	h, err := NewGuardHandler(enrollments, campaigns, contacts, evaluator)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/guard/evaluate", h.Evaluate)

	return nil
}

type guardEvaluateRequest struct {
	EnrollmentID string `json:"enrollmentId"`
}

func (h *GuardHandler) Evaluate(c *fiber.Ctx) error {
	var req guardEvaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.EnrollmentID) == "" {
		return toHTTPError(fmt.Errorf("%w: enrollmentId is required", domain.ErrValidation))
	}

	ctx := c.Context()

	enrollment, err := h.enrollments.GetByID(ctx, req.EnrollmentID)
	if err != nil {
		return toHTTPError(err)
	}
	if enrollment.CurrentStepID == nil {
		return toHTTPError(fmt.Errorf("%w: enrollment has no current step", domain.ErrValidation))
	}

	step, err := h.campaigns.GetStep(ctx, *enrollment.CurrentStepID)
	if err != nil {
		return toHTTPError(err)
	}

	campaign, err := h.campaigns.GetByID(ctx, enrollment.CampaignID)
	if err != nil {
		return toHTTPError(err)
	}

	contact, err := h.contacts.GetByID(ctx, enrollment.ContactID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return toHTTPError(err)
	}

	verdict := h.evaluator.Evaluate(ctx, enrollment, step, campaign, contact)

	return c.Status(fiber.StatusOK).JSON(verdict)
}
