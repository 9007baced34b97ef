package domain

import (
	"fmt"
	"time"
)

// Campaign defines an outreach sequence and its admission-control knobs.
// Quiet hours are stored as "HH:MM" wall-clock boundaries; the window wraps
// midnight when start >= end (the 21:00-08:00 default).
type Campaign struct {
	ID                 string `gorm:"type:uuid;primaryKey"`
	OrgID              string `gorm:"type:uuid;not null"`
	Name               string `gorm:"type:varchar(255);not null"`
	QuietStart         string `gorm:"type:varchar(5);not null;default:'21:00'"`
	QuietEnd           string `gorm:"type:varchar(5);not null;default:'08:00'"`
	FrequencyCapPer24h int    `gorm:"not null;default:3"`
	BudgetLimitUSD     *float64
	HourlyRateLimit    *int
	DefaultConsent     bool `gorm:"not null;default:true"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CampaignStep is one ordered stage of a campaign bound to a single channel.
// Steps are totally ordered by OrderIndex within a campaign; the next step is
// the one with the smallest OrderIndex strictly greater than the current step.
type CampaignStep struct {
	ID           string  `gorm:"type:uuid;primaryKey"`
	CampaignID   string  `gorm:"type:uuid;not null"`
	OrderIndex   int     `gorm:"not null"`
	Channel      Channel `gorm:"type:varchar(10);not null"`
	WaitBeforeMS int64   `gorm:"not null;default:0"`
	TemplateRef  string  `gorm:"type:varchar(255)"`
	CreatedAt    time.Time
}

// WaitBefore returns the inter-step delay as a duration.
func (s *CampaignStep) WaitBefore() time.Duration {
	if s == nil || s.WaitBeforeMS <= 0 {
		return 0
	}
	return time.Duration(s.WaitBeforeMS) * time.Millisecond
}

func (s *CampaignStep) Validate() error {
	if s.CampaignID == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if s.OrderIndex < 0 {
		return fmt.Errorf("%w: order index must be >= 0", ErrValidation)
	}
	if !s.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, s.Channel)
	}
	return nil
}
