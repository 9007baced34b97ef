package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActivityStatus represents the lifecycle state of one dispatch attempt.
type ActivityStatus string

const (
	ActivityPlanned   ActivityStatus = "PLANNED"
	ActivitySent      ActivityStatus = "SENT"
	ActivityCompleted ActivityStatus = "COMPLETED"
	ActivityFailed    ActivityStatus = "FAILED"
	ActivityBlocked   ActivityStatus = "BLOCKED"
)

func (s ActivityStatus) String() string { return string(s) }

func (s ActivityStatus) IsValid() bool {
	switch s {
	case ActivityPlanned, ActivitySent, ActivityCompleted, ActivityFailed, ActivityBlocked:
		return true
	}
	return false
}

func ParseActivityStatusFromString(s string) (ActivityStatus, error) {
	st := ActivityStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid activity status %q", ErrValidation, s)
	}
	return st, nil
}

// Activity records one dispatch attempt for one enrollment at one step.
// ProviderCallID is the provider-assigned dedup key: the unique index on it
// makes a second ingestion of the same call a no-op rather than a new row.
type Activity struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	OrgID          string         `gorm:"type:uuid;not null"`
	EnrollmentID   string         `gorm:"type:uuid;not null"`
	CampaignID     string         `gorm:"type:uuid;not null"`
	StepID         string         `gorm:"type:uuid;not null"`
	Channel        Channel        `gorm:"type:varchar(10);not null"`
	AttemptNo      int            `gorm:"not null;default:1"`
	Status         ActivityStatus `gorm:"type:varchar(20);not null"`
	ScheduledAt    time.Time      `gorm:"not null"`
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

func (a *Activity) Validate() error {
	if a.EnrollmentID == "" {
		return fmt.Errorf("%w: enrollment id is required", ErrValidation)
	}
	if a.StepID == "" {
		return fmt.Errorf("%w: step id is required", ErrValidation)
	}
	if !a.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, a.Channel)
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, a.Status)
	}
	return nil
}

// terminalOutcomes is the closed set of classifications that complete an
// enrollment instead of advancing it.
var terminalOutcomes = map[string]struct{}{
	"booked":             {},
	"appointment_booked": {},
	"cold":               {},
	"not_interested":     {},
	"dnc":                {},
}

// IsTerminalOutcome reports whether an outcome classification ends the
// enrollment. Unknown labels advance to the next step instead.
func IsTerminalOutcome(outcome string) bool {
	normalized := strings.ToLower(strings.TrimSpace(outcome))
	_, ok := terminalOutcomes[normalized]
	return ok
}
