package domain

import (
	"fmt"
	"strings"
	"time"
)

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "ACTIVE"
	EnrollmentSwitched  EnrollmentStatus = "SWITCHED"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
)

func (s EnrollmentStatus) String() string { return string(s) }

func (s EnrollmentStatus) IsValid() bool {
	switch s {
	case EnrollmentActive, EnrollmentSwitched, EnrollmentCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether the enrollment accepts no further transitions.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentSwitched || s == EnrollmentCompleted
}

func ParseEnrollmentStatusFromString(s string) (EnrollmentStatus, error) {
	st := EnrollmentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid enrollment status %q", ErrValidation, s)
	}
	return st, nil
}

// Enrollment is one contact's progress through one campaign. At most one
// ACTIVE enrollment exists per (org, contact); the uniqueness is enforced by
// a partial index at the storage layer.
type Enrollment struct {
	ID                   string           `gorm:"type:uuid;primaryKey"`
	OrgID                string           `gorm:"type:uuid;not null"`
	ContactID            string           `gorm:"type:uuid;not null"`
	CampaignID           string           `gorm:"type:uuid;not null"`
	Status               EnrollmentStatus `gorm:"type:varchar(20);not null"`
	StartedAt            time.Time        `gorm:"not null"`
	EndedAt              *time.Time
	CurrentStepID        *string  `gorm:"type:uuid"`
	NextChannel          *Channel `gorm:"type:varchar(10)"`
	NextRunAt            *time.Time
	SwitchedToEnrollment *string `gorm:"type:uuid"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (e *Enrollment) Validate() error {
	if e.OrgID == "" {
		return fmt.Errorf("%w: org id is required", ErrValidation)
	}
	if e.ContactID == "" {
		return fmt.Errorf("%w: contact id is required", ErrValidation)
	}
	if e.CampaignID == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	if e.Status.IsTerminal() && e.EndedAt == nil {
		return fmt.Errorf("%w: terminal enrollment must carry ended_at", ErrValidation)
	}
	if e.Status == EnrollmentActive && e.EndedAt != nil {
		return fmt.Errorf("%w: active enrollment must not carry ended_at", ErrValidation)
	}
	return nil
}
