package service

import (
	"context"
	"time"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/provider"
	"github.com/halcyonlabs/outreach-engine/internal/queue"
)

type fakeEnrollmentRepo struct {
	createFn                 func(ctx context.Context, e *domain.Enrollment) error
	getByIDFn                func(ctx context.Context, id string) (*domain.Enrollment, error)
	findActiveByContactFn    func(ctx context.Context, contactID string) (*domain.Enrollment, error)
	findActiveByOrgContactFn func(ctx context.Context, orgID, contactID string) (*domain.Enrollment, error)
	markSwitchedFn           func(ctx context.Context, id, successorID string, endedAt time.Time) error
	getDueForDispatchFn      func(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error)
	claimForDispatchFn       func(ctx context.Context, id string) (*domain.Enrollment, error)
	scheduleNextFn           func(ctx context.Context, id, stepID string, channel domain.Channel, nextRunAt time.Time) error
	deferNextRunFn           func(ctx context.Context, id string, nextRunAt time.Time) error
	completeFn               func(ctx context.Context, id string, endedAt time.Time) error
}

func (f *fakeEnrollmentRepo) Create(ctx context.Context, e *domain.Enrollment) error {
	if f.createFn != nil {
		return f.createFn(ctx, e)
	}
	return nil
}

func (f *fakeEnrollmentRepo) GetByID(ctx context.Context, id string) (*domain.Enrollment, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEnrollmentRepo) FindActiveByContact(ctx context.Context, contactID string) (*domain.Enrollment, error) {
	if f.findActiveByContactFn != nil {
		return f.findActiveByContactFn(ctx, contactID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEnrollmentRepo) FindActiveByOrgContact(ctx context.Context, orgID, contactID string) (*domain.Enrollment, error) {
	if f.findActiveByOrgContactFn != nil {
		return f.findActiveByOrgContactFn(ctx, orgID, contactID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEnrollmentRepo) MarkSwitched(ctx context.Context, id, successorID string, endedAt time.Time) error {
	if f.markSwitchedFn != nil {
		return f.markSwitchedFn(ctx, id, successorID, endedAt)
	}
	return nil
}

func (f *fakeEnrollmentRepo) GetDueForDispatch(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	if f.getDueForDispatchFn != nil {
		return f.getDueForDispatchFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeEnrollmentRepo) ClaimForDispatch(ctx context.Context, id string) (*domain.Enrollment, error) {
	if f.claimForDispatchFn != nil {
		return f.claimForDispatchFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeEnrollmentRepo) ScheduleNext(ctx context.Context, id, stepID string, channel domain.Channel, nextRunAt time.Time) error {
	if f.scheduleNextFn != nil {
		return f.scheduleNextFn(ctx, id, stepID, channel, nextRunAt)
	}
	return nil
}

func (f *fakeEnrollmentRepo) DeferNextRun(ctx context.Context, id string, nextRunAt time.Time) error {
	if f.deferNextRunFn != nil {
		return f.deferNextRunFn(ctx, id, nextRunAt)
	}
	return nil
}

func (f *fakeEnrollmentRepo) Complete(ctx context.Context, id string, endedAt time.Time) error {
	if f.completeFn != nil {
		return f.completeFn(ctx, id, endedAt)
	}
	return nil
}

type fakeActivityRepo struct {
	createFn                           func(ctx context.Context, a *domain.Activity) error
	getByProviderCallIDFn              func(ctx context.Context, providerCallID string) (*domain.Activity, error)
	countAttemptsFn                    func(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (int64, error)
	firstAttemptStartFn                func(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (*time.Time, error)
	countSentForEnrollmentSinceFn      func(ctx context.Context, enrollmentID string, since time.Time) (int64, error)
	countSentForCampaignChannelSinceFn func(ctx context.Context, campaignID string, channel domain.Channel, since time.Time) (int64, error)
	sumCostForCampaignFn               func(ctx context.Context, campaignID string) (float64, error)
	markSentFn                         func(ctx context.Context, id, providerRef string, sentAt time.Time) error
	markFailedFn                       func(ctx context.Context, id, endReason string, completedAt time.Time) error
}

func (f *fakeActivityRepo) Create(ctx context.Context, a *domain.Activity) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeActivityRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.Activity, error) {
	if f.getByProviderCallIDFn != nil {
		return f.getByProviderCallIDFn(ctx, providerCallID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeActivityRepo) CountAttempts(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (int64, error) {
	if f.countAttemptsFn != nil {
		return f.countAttemptsFn(ctx, enrollmentID, stepID, channel)
	}
	return 0, nil
}

func (f *fakeActivityRepo) FirstAttemptStart(ctx context.Context, enrollmentID, stepID string, channel domain.Channel) (*time.Time, error) {
	if f.firstAttemptStartFn != nil {
		return f.firstAttemptStartFn(ctx, enrollmentID, stepID, channel)
	}
	return nil, nil
}

func (f *fakeActivityRepo) CountSentForEnrollmentSince(ctx context.Context, enrollmentID string, since time.Time) (int64, error) {
	if f.countSentForEnrollmentSinceFn != nil {
		return f.countSentForEnrollmentSinceFn(ctx, enrollmentID, since)
	}
	return 0, nil
}

func (f *fakeActivityRepo) CountSentForCampaignChannelSince(ctx context.Context, campaignID string, channel domain.Channel, since time.Time) (int64, error) {
	if f.countSentForCampaignChannelSinceFn != nil {
		return f.countSentForCampaignChannelSinceFn(ctx, campaignID, channel, since)
	}
	return 0, nil
}

func (f *fakeActivityRepo) SumCostForCampaign(ctx context.Context, campaignID string) (float64, error) {
	if f.sumCostForCampaignFn != nil {
		return f.sumCostForCampaignFn(ctx, campaignID)
	}
	return 0, nil
}

func (f *fakeActivityRepo) MarkSent(ctx context.Context, id, providerRef string, sentAt time.Time) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, providerRef, sentAt)
	}
	return nil
}

func (f *fakeActivityRepo) MarkFailed(ctx context.Context, id, endReason string, completedAt time.Time) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, endReason, completedAt)
	}
	return nil
}

type fakeCampaignRepo struct {
	getByIDFn               func(ctx context.Context, id string) (*domain.Campaign, error)
	getStepFn               func(ctx context.Context, stepID string) (*domain.CampaignStep, error)
	getFirstStepFn          func(ctx context.Context, campaignID string) (*domain.CampaignStep, error)
	getNextStepFn           func(ctx context.Context, campaignID string, afterOrder int) (*domain.CampaignStep, error)
	getFirstStepByChannelFn func(ctx context.Context, campaignID string, channel domain.Channel) (*domain.CampaignStep, error)
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return &domain.Campaign{ID: id, QuietStart: "21:00", QuietEnd: "08:00", FrequencyCapPer24h: 3, DefaultConsent: true}, nil
}

func (f *fakeCampaignRepo) GetStep(ctx context.Context, stepID string) (*domain.CampaignStep, error) {
	if f.getStepFn != nil {
		return f.getStepFn(ctx, stepID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCampaignRepo) GetFirstStep(ctx context.Context, campaignID string) (*domain.CampaignStep, error) {
	if f.getFirstStepFn != nil {
		return f.getFirstStepFn(ctx, campaignID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCampaignRepo) GetNextStep(ctx context.Context, campaignID string, afterOrder int) (*domain.CampaignStep, error) {
	if f.getNextStepFn != nil {
		return f.getNextStepFn(ctx, campaignID, afterOrder)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCampaignRepo) GetFirstStepByChannel(ctx context.Context, campaignID string, channel domain.Channel) (*domain.CampaignStep, error) {
	if f.getFirstStepByChannelFn != nil {
		return f.getFirstStepByChannelFn(ctx, campaignID, channel)
	}
	return nil, domain.ErrNotFound
}

type fakeContactRepo struct {
	getByIDFn func(ctx context.Context, id string) (*domain.Contact, error)
}

func (f *fakeContactRepo) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

type fakeCallbackRepo struct {
	createFn         func(ctx context.Context, r *domain.CallbackRecord) error
	getUnprocessedFn func(ctx context.Context, limit int) ([]domain.CallbackRecord, error)
	markProcessedFn  func(ctx context.Context, id string, processedAt time.Time, errMsg *string) error
}

func (f *fakeCallbackRepo) Create(ctx context.Context, r *domain.CallbackRecord) error {
	if f.createFn != nil {
		return f.createFn(ctx, r)
	}
	return nil
}

func (f *fakeCallbackRepo) GetUnprocessed(ctx context.Context, limit int) ([]domain.CallbackRecord, error) {
	if f.getUnprocessedFn != nil {
		return f.getUnprocessedFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeCallbackRepo) MarkProcessed(ctx context.Context, id string, processedAt time.Time, errMsg *string) error {
	if f.markProcessedFn != nil {
		return f.markProcessedFn(ctx, id, processedAt, errMsg)
	}
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.DispatchMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, campaignID, status, endReason string) (domain.RetryPolicy, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, campaignID, status, endReason string) (domain.RetryPolicy, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, campaignID, status, endReason)
	}
	return domain.SafeDefaultPolicy(), nil
}

type fakeEvaluator struct {
	evaluateFn func(ctx context.Context, enrollment *domain.Enrollment, step *domain.CampaignStep, campaign *domain.Campaign, contact *domain.Contact) domain.GuardVerdict
}

func (f *fakeEvaluator) Evaluate(
	ctx context.Context,
	enrollment *domain.Enrollment,
	step *domain.CampaignStep,
	campaign *domain.Campaign,
	contact *domain.Contact,
) domain.GuardVerdict {
	if f.evaluateFn != nil {
		return f.evaluateFn(ctx, enrollment, step, campaign, contact)
	}
	return domain.AllowVerdict()
}

type fakeSender struct {
	sendFn func(ctx context.Context, req provider.SendRequest) (*provider.SendResponse, error)
}

func (f *fakeSender) Send(ctx context.Context, req provider.SendRequest) (*provider.SendResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &provider.SendResponse{StatusCode: 200}, nil
}

type fakeSenderRegistry struct {
	forChannelFn func(channel domain.Channel) (provider.Sender, error)
}

func (f *fakeSenderRegistry) ForChannel(channel domain.Channel) (provider.Sender, error) {
	if f.forChannelFn != nil {
		return f.forChannelFn(channel)
	}
	return &fakeSender{}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel string) (bool, error)
	waitFn  func(ctx context.Context, channel string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}
