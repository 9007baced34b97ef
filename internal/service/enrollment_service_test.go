package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
)

func TestEnrollmentServiceEnrollHappyPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	firstStep := &domain.CampaignStep{
		ID:           "step-1",
		CampaignID:   "camp-1",
		OrderIndex:   0,
		Channel:      domain.ChannelVoice,
		WaitBeforeMS: int64(30 * time.Minute / time.Millisecond),
	}

	var created *domain.Enrollment
	enrollments := &fakeEnrollmentRepo{
		findActiveByOrgContactFn: func(ctx context.Context, orgID, contactID string) (*domain.Enrollment, error) {
			return nil, domain.ErrNotFound
		},
		createFn: func(ctx context.Context, e *domain.Enrollment) error {
			created = e
			return nil
		},
	}
	campaigns := &fakeCampaignRepo{
		getFirstStepFn: func(ctx context.Context, campaignID string) (*domain.CampaignStep, error) {
			return firstStep, nil
		},
	}

	svc, err := NewEnrollmentService(enrollments, campaigns, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEnrollmentService() error = %v", err)
	}
	svc.now = func() time.Time { return now }

	enrollment, err := svc.Enroll(context.Background(), "org-1", "contact-1", "camp-1")
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}

	if created == nil {
		t.Fatal("expected Create to be called")
	}
	if enrollment.Status != domain.EnrollmentActive {
		t.Fatalf("status = %s, want ACTIVE", enrollment.Status)
	}
	if enrollment.CurrentStepID == nil || *enrollment.CurrentStepID != "step-1" {
		t.Fatalf("current step = %v, want step-1", enrollment.CurrentStepID)
	}
	if enrollment.NextChannel == nil || *enrollment.NextChannel != domain.ChannelVoice {
		t.Fatalf("next channel = %v, want VOICE", enrollment.NextChannel)
	}
	wantNextRun := now.Add(30 * time.Minute)
	if enrollment.NextRunAt == nil || !enrollment.NextRunAt.Equal(wantNextRun) {
		t.Fatalf("next run = %v, want %v", enrollment.NextRunAt, wantNextRun)
	}
}

func TestEnrollmentServiceEnrollSwitchesPriorActive(t *testing.T) {
	t.Parallel()

	prior := &domain.Enrollment{
		ID:         "enr-old",
		OrgID:      "org-1",
		ContactID:  "contact-1",
		CampaignID: "camp-old",
		Status:     domain.EnrollmentActive,
	}

	var switchedID, successorID string
	var createdID string
	enrollments := &fakeEnrollmentRepo{
		findActiveByOrgContactFn: func(ctx context.Context, orgID, contactID string) (*domain.Enrollment, error) {
			return prior, nil
		},
		markSwitchedFn: func(ctx context.Context, id, successor string, endedAt time.Time) error {
			switchedID = id
			successorID = successor
			return nil
		},
		createFn: func(ctx context.Context, e *domain.Enrollment) error {
			createdID = e.ID
			return nil
		},
	}
	campaigns := &fakeCampaignRepo{
		getFirstStepFn: func(ctx context.Context, campaignID string) (*domain.CampaignStep, error) {
			return &domain.CampaignStep{ID: "step-1", CampaignID: campaignID, Channel: domain.ChannelSMS}, nil
		},
	}

	svc, err := NewEnrollmentService(enrollments, campaigns, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEnrollmentService() error = %v", err)
	}

	if _, err := svc.Enroll(context.Background(), "org-1", "contact-1", "camp-new"); err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}

	if switchedID != "enr-old" {
		t.Fatalf("switched enrollment = %q, want enr-old", switchedID)
	}
	if successorID == "" || successorID != createdID {
		t.Fatalf("successor back-reference %q should match created enrollment %q", successorID, createdID)
	}
}

func TestEnrollmentServiceEnrollCampaignWithoutSteps(t *testing.T) {
	t.Parallel()

	campaigns := &fakeCampaignRepo{
		getFirstStepFn: func(ctx context.Context, campaignID string) (*domain.CampaignStep, error) {
			return nil, domain.ErrNotFound
		},
	}

	svc, err := NewEnrollmentService(&fakeEnrollmentRepo{}, campaigns, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEnrollmentService() error = %v", err)
	}

	_, err = svc.Enroll(context.Background(), "org-1", "contact-1", "camp-empty")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Enroll() error = %v, want ErrValidation", err)
	}
}

func TestEnrollmentServiceStopCompletesActive(t *testing.T) {
	t.Parallel()

	completed := false
	enrollments := &fakeEnrollmentRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Enrollment, error) {
			return &domain.Enrollment{ID: id, Status: domain.EnrollmentActive}, nil
		},
		completeFn: func(ctx context.Context, id string, endedAt time.Time) error {
			completed = true
			return nil
		},
	}

	svc, err := NewEnrollmentService(enrollments, &fakeCampaignRepo{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEnrollmentService() error = %v", err)
	}

	if err := svc.Stop(context.Background(), "enr-1", "operator request"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !completed {
		t.Fatal("expected Complete to be called")
	}
}

func TestEnrollmentServiceStopTerminalIsNoOp(t *testing.T) {
	t.Parallel()

	endedAt := time.Now().UTC()
	enrollments := &fakeEnrollmentRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Enrollment, error) {
			return &domain.Enrollment{ID: id, Status: domain.EnrollmentCompleted, EndedAt: &endedAt}, nil
		},
		completeFn: func(ctx context.Context, id string, endedAt time.Time) error {
			t.Fatal("Complete should not be called for a terminal enrollment")
			return nil
		},
	}

	svc, err := NewEnrollmentService(enrollments, &fakeCampaignRepo{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEnrollmentService() error = %v", err)
	}

	if err := svc.Stop(context.Background(), "enr-1", "repeat"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
