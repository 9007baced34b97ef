package domain

import (
	"fmt"
	"strings"
	"time"
)

// CallbackRecord is one staged provider callback awaiting outcome processing.
// Rows are written by the webhook handlers and drained by the ingest scanner;
// Processed marks the row consumed, ErrorMsg annotates logical dead-ends so
// they are never re-attempted.
type CallbackRecord struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	OrgID          string  `gorm:"type:uuid"`
	EnrollmentID   *string `gorm:"type:uuid"`
	ContactID      *string `gorm:"type:uuid"`
	ProviderCallID string  `gorm:"type:varchar(255);not null"`
	Channel        Channel `gorm:"type:varchar(10);not null"`
	Status         string  `gorm:"type:varchar(64)"`
	EndReason      string  `gorm:"type:varchar(64)"`
	Classification string  `gorm:"type:varchar(64)"`
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

func (r *CallbackRecord) Validate() error {
	if strings.TrimSpace(r.ProviderCallID) == "" {
		return fmt.Errorf("%w: provider call id is required", ErrValidation)
	}
	if !r.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, r.Channel)
	}
	return nil
}
