package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
)

type EnrollmentService interface {
	Enroll(ctx context.Context, orgID, contactID, campaignID string) (*domain.Enrollment, error)
	Stop(ctx context.Context, enrollmentID, reason string) error
}

type EnrollmentHandler struct {
	service EnrollmentService
}

func NewEnrollmentHandler(service EnrollmentService) (*EnrollmentHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("enrollment service is required")
	}
	return &EnrollmentHandler{service: service}, nil
}

func RegisterEnrollmentRoutes(router fiber.Router, service EnrollmentService) error {
	h, err := NewEnrollmentHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/enrollments", h.CreateEnrollment)
	v1.Post("/enrollments/:id/stop", h.StopEnrollment)

	return nil
}

type createEnrollmentRequest struct {
	OrgID      string `json:"orgId"`
	ContactID  string `json:"contactId"`
	CampaignID string `json:"campaignId"`
}

type stopEnrollmentRequest struct {
	Reason string `json:"reason"`
}

type enrollmentResponse struct {
	ID                   string     `json:"id"`
	OrgID                string     `json:"orgId"`
	ContactID            string     `json:"contactId"`
	CampaignID           string     `json:"campaignId"`
	Status               string     `json:"status"`
	StartedAt            time.Time  `json:"startedAt"`
	EndedAt              *time.Time `json:"endedAt,omitempty"`
	CurrentStepID        *string    `json:"currentStepId,omitempty"`
	NextChannel          *string    `json:"nextChannel,omitempty"`
	NextRunAt            *time.Time `json:"nextRunAt,omitempty"`
	SwitchedToEnrollment *string    `json:"switchedToEnrollment,omitempty"`
}

func (h *EnrollmentHandler) CreateEnrollment(c *fiber.Ctx) error {
	var req createEnrollmentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	enrollment, err := h.service.Enroll(c.Context(), req.OrgID, req.ContactID, req.CampaignID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toEnrollmentResponse(enrollment))
}

func (h *EnrollmentHandler) StopEnrollment(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req stopEnrollmentRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.Stop(c.Context(), id, strings.TrimSpace(req.Reason)); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"enrollmentId": id,
		"status":       domain.EnrollmentCompleted.String(),
	})
}

func toEnrollmentResponse(e *domain.Enrollment) enrollmentResponse {
	if e == nil {
		return enrollmentResponse{}
	}

	var nextChannel *string
	if e.NextChannel != nil {
		value := e.NextChannel.String()
		nextChannel = &value
	}

	return enrollmentResponse{
		ID:                   e.ID,
		OrgID:                e.OrgID,
		ContactID:            e.ContactID,
		CampaignID:           e.CampaignID,
		Status:               e.Status.String(),
		StartedAt:            e.StartedAt,
		EndedAt:              e.EndedAt,
		CurrentStepID:        e.CurrentStepID,
		NextChannel:          nextChannel,
		NextRunAt:            e.NextRunAt,
		SwitchedToEnrollment: e.SwitchedToEnrollment,
	}
}
