package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/idempotency"
	"github.com/halcyonlabs/outreach-engine/internal/observability"
	"github.com/halcyonlabs/outreach-engine/internal/repository"
)

// WebhookHandler stages provider callbacks for the ingest scanner. Retried
// deliveries are no-ops twice over: the idempotency guard short-circuits the
// hot path, and the unique index on provider_call_id catches cold caches.
type WebhookHandler struct {
	callbacks repository.CallbackRepository
	guard     idempotency.Guard
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewWebhookHandler(
	callbacks repository.CallbackRepository,
	guard idempotency.Guard,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*WebhookHandler, error) {
	if callbacks == nil {
		return nil, fmt.Errorf("callback repository is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookHandler{
		callbacks: callbacks,
		guard:     guard,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

func RegisterWebhookRoutes(
	router fiber.Router,
	callbacks repository.CallbackRepository,
	guard idempotency.Guard,
	logger *zap.Logger,
	metrics *observability.Metrics,
) error {
	h, err := NewWebhookHandler(callbacks, guard, logger, metrics)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webhooks/voice", h.HandleCallback(domain.ChannelVoice))
	v1.Post("/webhooks/sms", h.HandleCallback(domain.ChannelSMS))

	return nil
}

type webhookRequest struct {
	ProviderCallID string  `json:"providerCallId"`
	EnrollmentID   *string `json:"enrollmentId,omitempty"`
	ContactID      *string `json:"contactId,omitempty"`
	OrgID          string  `json:"orgId"`
	Status         string  `json:"status"`
	EndReason      string  `json:"endReason"`
	Classification string  `json:"classification"`
	StartedAt      *string `json:"startedAt,omitempty"`
	DurationMS     *int64  `json:"durationMs,omitempty"`
	Transcript     *string `json:"transcript,omitempty"`
	RecordingURL   *string `json:"recordingUrl,omitempty"`
}

type webhookResponse struct {
	CallbackID string `json:"callbackId,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Accepted   bool   `json:"accepted"`
}

func (h *WebhookHandler) HandleCallback(channel domain.Channel) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req webhookRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		providerCallID := strings.TrimSpace(req.ProviderCallID)
		if providerCallID == "" {
			return toHTTPError(fmt.Errorf("%w: providerCallId is required", domain.ErrValidation))
		}

		ctx := c.Context()

		fresh, err := h.guard.Reserve(ctx, callbackIdempotencyKey(providerCallID))
		if err != nil {
			// Cache failures never reject a delivery; the unique index below
			// still dedupes.
			h.logger.Warn("idempotency reserve failed",
				zap.String("providerCallId", providerCallID),
				zap.Error(err),
			)
			fresh = true
		}
		if !fresh {
			if h.metrics != nil {
				h.metrics.IncDuplicateCallback("cache")
			}
			return c.Status(fiber.StatusOK).JSON(webhookResponse{Duplicate: true, Accepted: true})
		}

		record, err := requestToCallbackRecord(req, channel, c.Body())
		if err != nil {
			return toHTTPError(err)
		}

		if err := h.callbacks.Create(ctx, record); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				if h.metrics != nil {
					h.metrics.IncDuplicateCallback("db")
				}
				return c.Status(fiber.StatusOK).JSON(webhookResponse{Duplicate: true, Accepted: true})
			}
			return fmt.Errorf("failed to stage callback: %w", err)
		}

		h.logger.Info("callback staged",
			zap.String("callbackId", record.ID),
			zap.String("providerCallId", providerCallID),
			zap.String("channel", strings.ToLower(channel.String())),
			zap.String("correlationId", requestCorrelationID(c)),
		)

		return c.Status(fiber.StatusAccepted).JSON(webhookResponse{CallbackID: record.ID, Accepted: true})
	}
}

func callbackIdempotencyKey(providerCallID string) string {
	return "cb:" + providerCallID
}

func requestToCallbackRecord(req webhookRequest, channel domain.Channel, rawBody []byte) (*domain.CallbackRecord, error) {
	var startedAt *time.Time
	if req.StartedAt != nil && strings.TrimSpace(*req.StartedAt) != "" {
		parsed, err := time.Parse(time.RFC3339, *req.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: startedAt must be RFC3339", domain.ErrValidation)
		}
		utc := parsed.UTC()
		startedAt = &utc
	}

	record := &domain.CallbackRecord{
		ID:             uuid.NewString(),
		OrgID:          strings.TrimSpace(req.OrgID),
		EnrollmentID:   req.EnrollmentID,
		ContactID:      req.ContactID,
		ProviderCallID: strings.TrimSpace(req.ProviderCallID),
		Channel:        channel,
		Status:         strings.TrimSpace(req.Status),
		EndReason:      strings.TrimSpace(req.EndReason),
		Classification: strings.TrimSpace(req.Classification),
		StartedAt:      startedAt,
		DurationMS:     req.DurationMS,
		Transcript:     req.Transcript,
		RecordingURL:   req.RecordingURL,
		Payload:        string(rawBody),
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}
