package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/idempotency"
	"github.com/halcyonlabs/outreach-engine/internal/transport"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	return fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func decodeJSON(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v, body=%s", err, string(body))
	}
	return parsed
}

type stubCallbackRepo struct {
	createFn func(ctx context.Context, r *domain.CallbackRecord) error
	created  []*domain.CallbackRecord
}

func (s *stubCallbackRepo) Create(ctx context.Context, r *domain.CallbackRecord) error {
	s.created = append(s.created, r)
	if s.createFn != nil {
		return s.createFn(ctx, r)
	}
	return nil
}

func (s *stubCallbackRepo) GetUnprocessed(context.Context, int) ([]domain.CallbackRecord, error) {
	return nil, nil
}

func (s *stubCallbackRepo) MarkProcessed(context.Context, string, time.Time, *string) error {
	return nil
}

func TestWebhookIntegration_StagesCallback(t *testing.T) {
	t.Parallel()

	repo := &stubCallbackRepo{}
	app := newTestApp(t)
	guard := idempotency.NewMemoryGuard(time.Minute)
	if err := RegisterWebhookRoutes(app, repo, guard, zap.NewNop(), nil); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}

	body := `{"providerCallId":"call-1","orgId":"org-1","enrollmentId":"enr-1","status":"completed","endReason":"customer-ended-call","classification":"interested","startedAt":"2026-03-01T10:00:00Z","durationMs":42000}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/webhooks/voice", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}

	parsed := decodeJSON(t, respBody)
	if parsed["accepted"] != true {
		t.Fatalf("accepted = %v, want true", parsed["accepted"])
	}
	if parsed["callbackId"] == "" || parsed["callbackId"] == nil {
		t.Fatal("callbackId should be set")
	}

	if len(repo.created) != 1 {
		t.Fatalf("created %d records, want 1", len(repo.created))
	}
	record := repo.created[0]
	if record.ProviderCallID != "call-1" {
		t.Fatalf("ProviderCallID = %q, want call-1", record.ProviderCallID)
	}
	if record.Channel != domain.ChannelVoice {
		t.Fatalf("Channel = %v, want VOICE", record.Channel)
	}
	if record.StartedAt == nil || !record.StartedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("StartedAt = %v, want 2026-03-01T10:00:00Z", record.StartedAt)
	}
	if record.Payload == "" {
		t.Fatal("raw payload should be preserved")
	}
	if record.Processed {
		t.Fatal("staged record must not be pre-processed")
	}
}

func TestWebhookIntegration_DuplicateShortCircuitsOnCache(t *testing.T) {
	t.Parallel()

	repo := &stubCallbackRepo{}
	app := newTestApp(t)
	guard := idempotency.NewMemoryGuard(time.Minute)
	if err := RegisterWebhookRoutes(app, repo, guard, zap.NewNop(), nil); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}

	body := `{"providerCallId":"call-dup","orgId":"org-1","status":"completed"}`

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/webhooks/sms", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("first delivery status = %d, want 202", resp.StatusCode)
	}

	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/webhooks/sms", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("retry status = %d, want 200", resp.StatusCode)
	}
	parsed := decodeJSON(t, respBody)
	if parsed["duplicate"] != true {
		t.Fatalf("duplicate = %v, want true", parsed["duplicate"])
	}
	if len(repo.created) != 1 {
		t.Fatalf("created %d records, want 1; retry must not reach the store", len(repo.created))
	}
}

func TestWebhookIntegration_DuplicateCaughtByUniqueIndex(t *testing.T) {
	t.Parallel()

	// A cold cache forwards the retry; the store answers with the
	// uniqueness violation and the handler still reports a no-op.
	repo := &stubCallbackRepo{
		createFn: func(ctx context.Context, r *domain.CallbackRecord) error {
			return fmt.Errorf("%w: provider_call_id already staged", domain.ErrDuplicate)
		},
	}
	app := newTestApp(t)
	guard := idempotency.NewMemoryGuard(time.Minute)
	if err := RegisterWebhookRoutes(app, repo, guard, zap.NewNop(), nil); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}

	body := `{"providerCallId":"call-cold","orgId":"org-1","status":"completed"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/webhooks/voice", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
	parsed := decodeJSON(t, respBody)
	if parsed["duplicate"] != true {
		t.Fatalf("duplicate = %v, want true", parsed["duplicate"])
	}
}

func TestWebhookIntegration_Validation(t *testing.T) {
	t.Parallel()

	repo := &stubCallbackRepo{}
	app := newTestApp(t)
	guard := idempotency.NewMemoryGuard(time.Minute)
	if err := RegisterWebhookRoutes(app, repo, guard, zap.NewNop(), nil); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/webhooks/voice",
		`{"orgId":"org-1","status":"completed"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing providerCallId", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/webhooks/voice",
		`{"providerCallId":"call-2","orgId":"org-1","startedAt":"yesterday"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed startedAt", resp.StatusCode)
	}

	if len(repo.created) != 0 {
		t.Fatalf("created %d records, want 0", len(repo.created))
	}
}

type stubEnrollmentService struct {
	enrollFn func(ctx context.Context, orgID, contactID, campaignID string) (*domain.Enrollment, error)
	stopFn   func(ctx context.Context, enrollmentID, reason string) error
}

func (s *stubEnrollmentService) Enroll(ctx context.Context, orgID, contactID, campaignID string) (*domain.Enrollment, error) {
	if s.enrollFn != nil {
		return s.enrollFn(ctx, orgID, contactID, campaignID)
	}
	return nil, fmt.Errorf("%w: enroll not stubbed", domain.ErrValidation)
}

func (s *stubEnrollmentService) Stop(ctx context.Context, enrollmentID, reason string) error {
	if s.stopFn != nil {
		return s.stopFn(ctx, enrollmentID, reason)
	}
	return nil
}

func TestEnrollmentIntegration_Create(t *testing.T) {
	t.Parallel()

	startedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	nextRunAt := startedAt.Add(30 * time.Minute)
	stepID := "step-1"
	channel := domain.ChannelVoice

	svc := &stubEnrollmentService{
		enrollFn: func(ctx context.Context, orgID, contactID, campaignID string) (*domain.Enrollment, error) {
			if orgID != "org-1" || contactID != "contact-1" || campaignID != "camp-1" {
				t.Fatalf("Enroll(%q, %q, %q): unexpected arguments", orgID, contactID, campaignID)
			}
			return &domain.Enrollment{
				ID:            "enr-created",
				OrgID:         orgID,
				ContactID:     contactID,
				CampaignID:    campaignID,
				Status:        domain.EnrollmentActive,
				StartedAt:     startedAt,
				CurrentStepID: &stepID,
				NextChannel:   &channel,
				NextRunAt:     &nextRunAt,
			}, nil
		},
	}

	app := newTestApp(t)
	if err := RegisterEnrollmentRoutes(app, svc); err != nil {
		t.Fatalf("RegisterEnrollmentRoutes() error = %v", err)
	}

	body := `{"orgId":"org-1","contactId":"contact-1","campaignId":"camp-1"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/enrollments", body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(respBody))
	}

	parsed := decodeJSON(t, respBody)
	if parsed["id"] != "enr-created" {
		t.Fatalf("id = %v, want enr-created", parsed["id"])
	}
	if parsed["status"] != domain.EnrollmentActive.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.EnrollmentActive)
	}
	if parsed["currentStepId"] != "step-1" {
		t.Fatalf("currentStepId = %v, want step-1", parsed["currentStepId"])
	}
	if parsed["nextChannel"] != domain.ChannelVoice.String() {
		t.Fatalf("nextChannel = %v, want VOICE", parsed["nextChannel"])
	}
}

func TestEnrollmentIntegration_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{"validation", fmt.Errorf("%w: campaign has no steps", domain.ErrValidation), fiber.StatusBadRequest},
		{"not found", fmt.Errorf("%w: campaign", domain.ErrNotFound), fiber.StatusNotFound},
		{"conflict", fmt.Errorf("%w: active enrollment exists", domain.ErrConflict), fiber.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubEnrollmentService{
				enrollFn: func(context.Context, string, string, string) (*domain.Enrollment, error) {
					return nil, tt.serviceErr
				},
			}

			app := newTestApp(t)
			if err := RegisterEnrollmentRoutes(app, svc); err != nil {
				t.Fatalf("RegisterEnrollmentRoutes() error = %v", err)
			}

			body := `{"orgId":"org-1","contactId":"contact-1","campaignId":"camp-1"}`
			resp, _ := performRequest(t, app, http.MethodPost, "/v1/enrollments", body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestEnrollmentIntegration_Stop(t *testing.T) {
	t.Parallel()

	var gotID, gotReason string
	svc := &stubEnrollmentService{
		stopFn: func(ctx context.Context, enrollmentID, reason string) error {
			gotID = enrollmentID
			gotReason = reason
			return nil
		},
	}

	app := newTestApp(t)
	if err := RegisterEnrollmentRoutes(app, svc); err != nil {
		t.Fatalf("RegisterEnrollmentRoutes() error = %v", err)
	}

	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/enrollments/enr-9/stop", `{"reason":"customer_requested"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
	if gotID != "enr-9" {
		t.Fatalf("stop id = %q, want enr-9", gotID)
	}
	if gotReason != "customer_requested" {
		t.Fatalf("stop reason = %q, want customer_requested", gotReason)
	}

	parsed := decodeJSON(t, respBody)
	if parsed["status"] != domain.EnrollmentCompleted.String() {
		t.Fatalf("status = %v, want COMPLETED", parsed["status"])
	}
}

type stubDispatchRunner struct {
	scanDueFn func(ctx context.Context) (int, error)
}

func (s *stubDispatchRunner) ScanDue(ctx context.Context) (int, error) {
	if s.scanDueFn != nil {
		return s.scanDueFn(ctx)
	}
	return 0, nil
}

func TestDispatchIntegration_RunDue(t *testing.T) {
	t.Parallel()

	runner := &stubDispatchRunner{
		scanDueFn: func(context.Context) (int, error) { return 3, nil },
	}

	app := newTestApp(t)
	if err := RegisterDispatchRoutes(app, runner); err != nil {
		t.Fatalf("RegisterDispatchRoutes() error = %v", err)
	}

	resp, respBody := performRequest(t, app, http.MethodGet, "/v1/dispatch/due", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
	parsed := decodeJSON(t, respBody)
	if parsed["dispatched"] != float64(3) {
		t.Fatalf("dispatched = %v, want 3", parsed["dispatched"])
	}
}

func TestDispatchIntegration_ScanError(t *testing.T) {
	t.Parallel()

	runner := &stubDispatchRunner{
		scanDueFn: func(context.Context) (int, error) { return 0, fmt.Errorf("queue unavailable") },
	}

	app := newTestApp(t)
	if err := RegisterDispatchRoutes(app, runner); err != nil {
		t.Fatalf("RegisterDispatchRoutes() error = %v", err)
	}

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/dispatch/due", "")
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

type stubEnrollmentRepo struct {
	getByIDFn func(ctx context.Context, id string) (*domain.Enrollment, error)
}

func (s *stubEnrollmentRepo) Create(context.Context, *domain.Enrollment) error { return nil }

func (s *stubEnrollmentRepo) GetByID(ctx context.Context, id string) (*domain.Enrollment, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, fmt.Errorf("%w: enrollment %s", domain.ErrNotFound, id)
}

func (s *stubEnrollmentRepo) FindActiveByContact(context.Context, string) (*domain.Enrollment, error) {
	return nil, domain.ErrNotFound
}

func (s *stubEnrollmentRepo) FindActiveByOrgContact(context.Context, string, string) (*domain.Enrollment, error) {
	return nil, domain.ErrNotFound
}

func (s *stubEnrollmentRepo) MarkSwitched(context.Context, string, string, time.Time) error {
	return nil
}

func (s *stubEnrollmentRepo) GetDueForDispatch(context.Context, time.Time, int) ([]domain.Enrollment, error) {
	return nil, nil
}

func (s *stubEnrollmentRepo) ClaimForDispatch(context.Context, string) (*domain.Enrollment, error) {
	return nil, nil
}

func (s *stubEnrollmentRepo) ScheduleNext(context.Context, string, string, domain.Channel, time.Time) error {
	return nil
}

func (s *stubEnrollmentRepo) DeferNextRun(context.Context, string, time.Time) error { return nil }

func (s *stubEnrollmentRepo) Complete(context.Context, string, time.Time) error { return nil }

type stubCampaignRepo struct{}

func (s *stubCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	return &domain.Campaign{ID: id, OrgID: "org-1", Name: "spring outreach"}, nil
}

func (s *stubCampaignRepo) GetStep(ctx context.Context, stepID string) (*domain.CampaignStep, error) {
	return &domain.CampaignStep{ID: stepID, CampaignID: "camp-1", Channel: domain.ChannelVoice, OrderIndex: 1}, nil
}

func (s *stubCampaignRepo) GetFirstStep(context.Context, string) (*domain.CampaignStep, error) {
	return nil, domain.ErrNotFound
}

func (s *stubCampaignRepo) GetNextStep(context.Context, string, int) (*domain.CampaignStep, error) {
	return nil, domain.ErrNotFound
}

func (s *stubCampaignRepo) GetFirstStepByChannel(context.Context, string, domain.Channel) (*domain.CampaignStep, error) {
	return nil, domain.ErrNotFound
}

type stubContactRepo struct{}

func (s *stubContactRepo) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	return &domain.Contact{ID: id, OrgID: "org-1"}, nil
}

type stubGuardEvaluator struct {
	verdict domain.GuardVerdict
}

func (s *stubGuardEvaluator) Evaluate(context.Context, *domain.Enrollment, *domain.CampaignStep, *domain.Campaign, *domain.Contact) domain.GuardVerdict {
	return s.verdict
}

func newGuardTestApp(t *testing.T, enrollments *stubEnrollmentRepo, evaluator GuardEvaluator) *fiber.App {
	t.Helper()

	app := newTestApp(t)
	if err := RegisterGuardRoutes(app, enrollments, &stubCampaignRepo{}, &stubContactRepo{}, evaluator); err != nil {
		t.Fatalf("RegisterGuardRoutes() error = %v", err)
	}
	return app
}

func TestGuardIntegration_Allow(t *testing.T) {
	t.Parallel()

	stepID := "step-1"
	enrollments := &stubEnrollmentRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Enrollment, error) {
			return &domain.Enrollment{
				ID:            id,
				OrgID:         "org-1",
				ContactID:     "contact-1",
				CampaignID:    "camp-1",
				Status:        domain.EnrollmentActive,
				CurrentStepID: &stepID,
			}, nil
		},
	}

	app := newGuardTestApp(t, enrollments, &stubGuardEvaluator{verdict: domain.AllowVerdict()})

	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/guard/evaluate", `{"enrollmentId":"enr-1"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
	parsed := decodeJSON(t, respBody)
	if parsed["allow"] != true {
		t.Fatalf("allow = %v, want true", parsed["allow"])
	}
}

func TestGuardIntegration_DenyWithHint(t *testing.T) {
	t.Parallel()

	stepID := "step-1"
	enrollments := &stubEnrollmentRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Enrollment, error) {
			return &domain.Enrollment{
				ID:            id,
				OrgID:         "org-1",
				ContactID:     "contact-1",
				CampaignID:    "camp-1",
				Status:        domain.EnrollmentActive,
				CurrentStepID: &stepID,
			}, nil
		},
	}

	retryAfter := 24 * time.Hour
	evaluator := &stubGuardEvaluator{
		verdict: domain.DenyVerdict(domain.BlockFreqCap, &domain.GuardHint{RetryAfter: &retryAfter}),
	}
	app := newGuardTestApp(t, enrollments, evaluator)

	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/guard/evaluate", `{"enrollmentId":"enr-1"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
	parsed := decodeJSON(t, respBody)
	if parsed["allow"] != false {
		t.Fatalf("allow = %v, want false", parsed["allow"])
	}
	if parsed["reason"] != domain.BlockFreqCap.String() {
		t.Fatalf("reason = %v, want %s", parsed["reason"], domain.BlockFreqCap)
	}
	if parsed["hint"] == nil {
		t.Fatal("hint should be included for capped denials")
	}
}

func TestGuardIntegration_Validation(t *testing.T) {
	t.Parallel()

	app := newGuardTestApp(t, &stubEnrollmentRepo{}, &stubGuardEvaluator{verdict: domain.AllowVerdict()})

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/guard/evaluate", `{}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing enrollmentId", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/guard/evaluate", `{"enrollmentId":"missing"}`)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown enrollment", resp.StatusCode)
	}
}

func TestHealthIntegration_Livez(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	app.Get("/livez", LivezHandler())

	resp, respBody := performRequest(t, app, http.MethodGet, "/livez", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	parsed := decodeJSON(t, respBody)
	if parsed["status"] != "ok" {
		t.Fatalf("status = %v, want ok", parsed["status"])
	}
}
