package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/queue"
)

func newTestPlanner(
	t *testing.T,
	enrollments *fakeEnrollmentRepo,
	campaigns *fakeCampaignRepo,
	contacts *fakeContactRepo,
	activities *fakeActivityRepo,
	evaluator *fakeEvaluator,
	publisher *fakePublisher,
) *DispatchPlanner {
	t.Helper()

	planner, err := NewDispatchPlanner(
		enrollments, campaigns, contacts, activities,
		evaluator, publisher,
		time.Second, 100, zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewDispatchPlanner() error = %v", err)
	}
	return planner
}

func dueEnrollment() *domain.Enrollment {
	stepID := "step-1"
	channel := domain.ChannelVoice
	nextRun := time.Now().UTC().Add(-time.Minute)
	return &domain.Enrollment{
		ID:            "enr-1",
		OrgID:         "org-1",
		ContactID:     "contact-1",
		CampaignID:    "camp-1",
		Status:        domain.EnrollmentActive,
		StartedAt:     time.Now().UTC().Add(-time.Hour),
		CurrentStepID: &stepID,
		NextChannel:   &channel,
		NextRunAt:     &nextRun,
	}
}

func plannerCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		getStepFn: func(ctx context.Context, stepID string) (*domain.CampaignStep, error) {
			return &domain.CampaignStep{ID: stepID, CampaignID: "camp-1", OrderIndex: 0, Channel: domain.ChannelVoice}, nil
		},
	}
}

func plannerContactRepo() *fakeContactRepo {
	return &fakeContactRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Contact, error) {
			return &domain.Contact{ID: id, OrgID: "org-1", Phone: "+15551112233", Consent: true}, nil
		},
	}
}

func TestDispatchPlannerAllowedPublishesAndStamps(t *testing.T) {
	t.Parallel()

	enrollment := dueEnrollment()

	var deferredTo time.Time
	enrollments := &fakeEnrollmentRepo{
		getDueForDispatchFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
			return []domain.Enrollment{*enrollment}, nil
		},
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Enrollment, error) {
			return enrollment, nil
		},
		deferNextRunFn: func(ctx context.Context, id string, nextRunAt time.Time) error {
			deferredTo = nextRunAt
			return nil
		},
	}

	var planned *domain.Activity
	activities := &fakeActivityRepo{
		createFn: func(ctx context.Context, a *domain.Activity) error {
			planned = a
			return nil
		},
	}

	var publishedQueue string
	var publishedMsg queue.DispatchMessage
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
			publishedQueue = queueName
			publishedMsg = msg
			return nil
		},
	}

	planner := newTestPlanner(t, enrollments, plannerCampaignRepo(), plannerContactRepo(), activities, &fakeEvaluator{}, publisher)

	dispatched, err := planner.ScanDue(context.Background())
	if err != nil {
		t.Fatalf("ScanDue() error = %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1", dispatched)
	}

	if planned == nil {
		t.Fatal("expected a planned activity")
	}
	if planned.Status != domain.ActivityPlanned {
		t.Fatalf("activity status = %s, want PLANNED", planned.Status)
	}
	if publishedQueue != "voice" {
		t.Fatalf("published queue = %q, want voice", publishedQueue)
	}
	if publishedMsg.ActivityID != planned.ID {
		t.Fatalf("message activity id = %q, want %q", publishedMsg.ActivityID, planned.ID)
	}
	if publishedMsg.Channel != domain.ChannelVoice {
		t.Fatalf("message channel = %s, want VOICE", publishedMsg.Channel)
	}
	if deferredTo.IsZero() {
		t.Fatal("expected the enrollment wake-up to be stamped forward")
	}
}

func TestDispatchPlannerBlockedRecordsActivityAndDefers(t *testing.T) {
	t.Parallel()

	enrollment := dueEnrollment()
	retryAfter := 24 * time.Hour

	var deferredTo time.Time
	enrollments := &fakeEnrollmentRepo{
		getDueForDispatchFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
			return []domain.Enrollment{*enrollment}, nil
		},
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Enrollment, error) {
			return enrollment, nil
		},
		deferNextRunFn: func(ctx context.Context, id string, nextRunAt time.Time) error {
			deferredTo = nextRunAt
			return nil
		},
	}

	var blocked *domain.Activity
	activities := &fakeActivityRepo{
		createFn: func(ctx context.Context, a *domain.Activity) error {
			blocked = a
			return nil
		},
	}

	evaluator := &fakeEvaluator{
		evaluateFn: func(ctx context.Context, e *domain.Enrollment, s *domain.CampaignStep, c *domain.Campaign, ct *domain.Contact) domain.GuardVerdict {
			return domain.DenyVerdict(domain.BlockFreqCap, &domain.GuardHint{RetryAfter: &retryAfter})
		},
	}

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
			t.Fatal("blocked dispatch must not publish")
			return nil
		},
	}

	planner := newTestPlanner(t, enrollments, plannerCampaignRepo(), plannerContactRepo(), activities, evaluator, publisher)

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	planner.now = func() time.Time { return now }

	dispatched, err := planner.ScanDue(context.Background())
	if err != nil {
		t.Fatalf("ScanDue() error = %v", err)
	}
	if dispatched != 0 {
		t.Fatalf("dispatched = %d, want 0", dispatched)
	}

	if blocked == nil {
		t.Fatal("expected a blocked activity")
	}
	if blocked.Status != domain.ActivityBlocked {
		t.Fatalf("activity status = %s, want BLOCKED", blocked.Status)
	}
	if blocked.BlockReason != domain.BlockFreqCap.String() {
		t.Fatalf("block reason = %q, want %q", blocked.BlockReason, domain.BlockFreqCap)
	}

	want := now.Add(retryAfter)
	if !deferredTo.Equal(want) {
		t.Fatalf("deferred to %v, want %v", deferredTo, want)
	}
}

func TestDispatchPlannerQuietHoursHintUsesScheduleAfter(t *testing.T) {
	t.Parallel()

	enrollment := dueEnrollment()
	scheduleAfter := time.Date(2026, 3, 11, 8, 1, 0, 0, time.UTC)

	var deferredTo time.Time
	enrollments := &fakeEnrollmentRepo{
		getDueForDispatchFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
			return []domain.Enrollment{*enrollment}, nil
		},
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Enrollment, error) {
			return enrollment, nil
		},
		deferNextRunFn: func(ctx context.Context, id string, nextRunAt time.Time) error {
			deferredTo = nextRunAt
			return nil
		},
	}

	evaluator := &fakeEvaluator{
		evaluateFn: func(ctx context.Context, e *domain.Enrollment, s *domain.CampaignStep, c *domain.Campaign, ct *domain.Contact) domain.GuardVerdict {
			return domain.DenyVerdict(domain.BlockQuietHours, &domain.GuardHint{ScheduleAfter: &scheduleAfter})
		},
	}

	planner := newTestPlanner(t, enrollments, plannerCampaignRepo(), plannerContactRepo(), &fakeActivityRepo{}, evaluator, &fakePublisher{})

	if _, err := planner.ScanDue(context.Background()); err != nil {
		t.Fatalf("ScanDue() error = %v", err)
	}

	if !deferredTo.Equal(scheduleAfter) {
		t.Fatalf("deferred to %v, want hinted %v", deferredTo, scheduleAfter)
	}
}

func TestDispatchPlannerSkipsLostClaim(t *testing.T) {
	t.Parallel()

	enrollment := dueEnrollment()
	enrollments := &fakeEnrollmentRepo{
		getDueForDispatchFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
			return []domain.Enrollment{*enrollment}, nil
		},
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Enrollment, error) {
			// Another planner instance claimed it, or it went terminal.
			return nil, nil
		},
	}

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
			t.Fatal("lost claim must not publish")
			return nil
		},
	}

	planner := newTestPlanner(t, enrollments, plannerCampaignRepo(), plannerContactRepo(), &fakeActivityRepo{}, &fakeEvaluator{}, publisher)

	dispatched, err := planner.ScanDue(context.Background())
	if err != nil {
		t.Fatalf("ScanDue() error = %v", err)
	}
	if dispatched != 0 {
		t.Fatalf("dispatched = %d, want 0", dispatched)
	}
}
