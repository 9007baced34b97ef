package repository

import (
	"time"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
)

// EnrollmentModel is the persistence model for the enrollments table.
type EnrollmentModel struct {
	ID                   string                  `gorm:"type:uuid;primaryKey"`
	OrgID                string                  `gorm:"type:uuid;not null"`
	ContactID            string                  `gorm:"type:uuid;not null"`
	CampaignID           string                  `gorm:"type:uuid;not null"`
	Status               domain.EnrollmentStatus `gorm:"type:varchar(20);not null"`
	StartedAt            time.Time               `gorm:"not null"`
	EndedAt              *time.Time
	CurrentStepID        *string         `gorm:"type:uuid"`
	NextChannel          *domain.Channel `gorm:"type:varchar(10)"`
	NextRunAt            *time.Time
	SwitchedToEnrollment *string `gorm:"type:uuid"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (EnrollmentModel) TableName() string {
	return "enrollments"
}

// ActivityModel is the persistence model for the activities table. The
// partial unique index on provider_call_id is the dedup correctness layer.
type ActivityModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	OrgID          string                `gorm:"type:uuid;not null"`
	EnrollmentID   string                `gorm:"type:uuid;not null"`
	CampaignID     string                `gorm:"type:uuid;not null"`
	StepID         string                `gorm:"type:uuid;not null"`
	Channel        domain.Channel        `gorm:"type:varchar(10);not null"`
	AttemptNo      int                   `gorm:"not null;default:1"`
	Status         domain.ActivityStatus `gorm:"type:varchar(20);not null"`
	ScheduledAt    time.Time             `gorm:"not null"`
	SentAt         *time.Time
	CompletedAt    *time.Time
	Outcome        string  `gorm:"type:varchar(64)"`
	EndReason      string  `gorm:"type:varchar(64)"`
	BlockReason    string  `gorm:"type:varchar(32)"`
	ProviderRef    string  `gorm:"type:varchar(255)"`
	ProviderCallID *string `gorm:"type:varchar(255)"`
	DurationMS     *int64
	Transcript     *string `gorm:"type:text"`
	RecordingURL   *string `gorm:"type:varchar(1024)"`
	CostUSD        float64 `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (ActivityModel) TableName() string {
	return "activities"
}

// CallbackRecordModel is the persistence model for staged provider callbacks.
type CallbackRecordModel struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	OrgID          string         `gorm:"type:uuid"`
	EnrollmentID   *string        `gorm:"type:uuid"`
	ContactID      *string        `gorm:"type:uuid"`
	ProviderCallID string         `gorm:"type:varchar(255);not null"`
	Channel        domain.Channel `gorm:"type:varchar(10);not null"`
	Status         string         `gorm:"type:varchar(64)"`
	EndReason      string         `gorm:"type:varchar(64)"`
	Classification string         `gorm:"type:varchar(64)"`
	StartedAt      *time.Time
	DurationMS     *int64
	Transcript     *string `gorm:"type:text"`
	RecordingURL   *string `gorm:"type:varchar(1024)"`
	Payload        string  `gorm:"type:text"`
	Processed      bool    `gorm:"not null;default:false"`
	ProcessedAt    *time.Time
	ErrorMsg       *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (CallbackRecordModel) TableName() string {
	return "callback_records"
}

func enrollmentModelFromDomain(e *domain.Enrollment) *EnrollmentModel {
	if e == nil {
		return nil
	}

	return &EnrollmentModel{
		ID:                   e.ID,
		OrgID:                e.OrgID,
		ContactID:            e.ContactID,
		CampaignID:           e.CampaignID,
		Status:               e.Status,
		StartedAt:            e.StartedAt,
		EndedAt:              e.EndedAt,
		CurrentStepID:        e.CurrentStepID,
		NextChannel:          e.NextChannel,
		NextRunAt:            e.NextRunAt,
		SwitchedToEnrollment: e.SwitchedToEnrollment,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

func enrollmentModelToDomain(m *EnrollmentModel) *domain.Enrollment {
	if m == nil {
		return nil
	}

	return &domain.Enrollment{
		ID:                   m.ID,
		OrgID:                m.OrgID,
		ContactID:            m.ContactID,
		CampaignID:           m.CampaignID,
		Status:               m.Status,
		StartedAt:            m.StartedAt,
		EndedAt:              m.EndedAt,
		CurrentStepID:        m.CurrentStepID,
		NextChannel:          m.NextChannel,
		NextRunAt:            m.NextRunAt,
		SwitchedToEnrollment: m.SwitchedToEnrollment,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func activityModelFromDomain(a *domain.Activity) *ActivityModel {
	if a == nil {
		return nil
	}

	return &ActivityModel{
		ID:             a.ID,
		OrgID:          a.OrgID,
		EnrollmentID:   a.EnrollmentID,
		CampaignID:     a.CampaignID,
		StepID:         a.StepID,
		Channel:        a.Channel,
		AttemptNo:      a.AttemptNo,
		Status:         a.Status,
		ScheduledAt:    a.ScheduledAt,
		SentAt:         a.SentAt,
		CompletedAt:    a.CompletedAt,
		Outcome:        a.Outcome,
		EndReason:      a.EndReason,
		BlockReason:    a.BlockReason,
		ProviderRef:    a.ProviderRef,
		ProviderCallID: a.ProviderCallID,
		DurationMS:     a.DurationMS,
		Transcript:     a.Transcript,
		RecordingURL:   a.RecordingURL,
		CostUSD:        a.CostUSD,
		CreatedAt:      a.CreatedAt,
	}
}

func activityModelToDomain(m *ActivityModel) *domain.Activity {
	if m == nil {
		return nil
	}

	return &domain.Activity{
		ID:             m.ID,
		OrgID:          m.OrgID,
		EnrollmentID:   m.EnrollmentID,
		CampaignID:     m.CampaignID,
		StepID:         m.StepID,
		Channel:        m.Channel,
		AttemptNo:      m.AttemptNo,
		Status:         m.Status,
		ScheduledAt:    m.ScheduledAt,
		SentAt:         m.SentAt,
		CompletedAt:    m.CompletedAt,
		Outcome:        m.Outcome,
		EndReason:      m.EndReason,
		BlockReason:    m.BlockReason,
		ProviderRef:    m.ProviderRef,
		ProviderCallID: m.ProviderCallID,
		DurationMS:     m.DurationMS,
		Transcript:     m.Transcript,
		RecordingURL:   m.RecordingURL,
		CostUSD:        m.CostUSD,
		CreatedAt:      m.CreatedAt,
	}
}

func callbackModelFromDomain(r *domain.CallbackRecord) *CallbackRecordModel {
	if r == nil {
		return nil
	}

	return &CallbackRecordModel{
		ID:             r.ID,
		OrgID:          r.OrgID,
		EnrollmentID:   r.EnrollmentID,
		ContactID:      r.ContactID,
		ProviderCallID: r.ProviderCallID,
		Channel:        r.Channel,
		Status:         r.Status,
		EndReason:      r.EndReason,
		Classification: r.Classification,
		StartedAt:      r.StartedAt,
		DurationMS:     r.DurationMS,
		Transcript:     r.Transcript,
		RecordingURL:   r.RecordingURL,
		Payload:        r.Payload,
		Processed:      r.Processed,
		ProcessedAt:    r.ProcessedAt,
		ErrorMsg:       r.ErrorMsg,
		CreatedAt:      r.CreatedAt,
	}
}

func callbackModelToDomain(m *CallbackRecordModel) *domain.CallbackRecord {
	if m == nil {
		return nil
	}

	return &domain.CallbackRecord{
		ID:             m.ID,
		OrgID:          m.OrgID,
		EnrollmentID:   m.EnrollmentID,
		ContactID:      m.ContactID,
		ProviderCallID: m.ProviderCallID,
		Channel:        m.Channel,
		Status:         m.Status,
		EndReason:      m.EndReason,
		Classification: m.Classification,
		StartedAt:      m.StartedAt,
		DurationMS:     m.DurationMS,
		Transcript:     m.Transcript,
		RecordingURL:   m.RecordingURL,
		Payload:        m.Payload,
		Processed:      m.Processed,
		ProcessedAt:    m.ProcessedAt,
		ErrorMsg:       m.ErrorMsg,
		CreatedAt:      m.CreatedAt,
	}
}
