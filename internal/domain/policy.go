package domain

import "time"

// MatchAny is the wildcard value for retry policy match columns.
const MatchAny = "ANY"

// Conservative backfill values applied to global-scope policies with unset
// numeric fields.
const (
	DefaultFirstRetryMins      = 1440
	DefaultSubsequentRetryMins = 1440
	DefaultMaxRetryDays        = 4
)

// RetryPolicy maps an observed (status, end reason) outcome shape to a
// retry/advance decision. CampaignID nil means global fallback scope. Within
// a scope several rows may match one outcome; the resolver ranks them by
// specificity and the selection is deterministic.
type RetryPolicy struct {
	ID                  string  `gorm:"type:uuid;primaryKey"`
	CampaignID          *string `gorm:"type:uuid"`
	MatchStatus         string  `gorm:"type:varchar(64);not null;default:'ANY'"`
	MatchEndReason      string  `gorm:"type:varchar(64);not null;default:'ANY'"`
	IsConnected         bool    `gorm:"not null;default:false"`
	ShouldRetry         bool    `gorm:"not null;default:false"`
	RetrySMS            bool    `gorm:"not null;default:false"`
	FirstRetryMins      *int
	SubsequentRetryMins *int
	MaxRetryDays        *int
	AlignSameTime       *bool
	CreatedAt           time.Time
}

// FirstRetryDelay returns the delay before the first retry.
func (p *RetryPolicy) FirstRetryDelay() time.Duration {
	mins := DefaultFirstRetryMins
	if p.FirstRetryMins != nil && *p.FirstRetryMins > 0 {
		mins = *p.FirstRetryMins
	}
	return time.Duration(mins) * time.Minute
}

// SubsequentRetryDelay returns the delay between later retries.
func (p *RetryPolicy) SubsequentRetryDelay() time.Duration {
	mins := DefaultSubsequentRetryMins
	if p.SubsequentRetryMins != nil && *p.SubsequentRetryMins > 0 {
		mins = *p.SubsequentRetryMins
	}
	return time.Duration(mins) * time.Minute
}

// RetryWindow returns the maximum retry window measured from enrollment start.
func (p *RetryPolicy) RetryWindow() time.Duration {
	days := DefaultMaxRetryDays
	if p.MaxRetryDays != nil && *p.MaxRetryDays > 0 {
		days = *p.MaxRetryDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// ShouldAlignSameTime reports whether retries keep the wall-clock time of the
// first attempt. Unset defaults to true.
func (p *RetryPolicy) ShouldAlignSameTime() bool {
	if p.AlignSameTime == nil {
		return true
	}
	return *p.AlignSameTime
}

// SafeDefaultPolicy is the hard-coded terminal fallback when no policy row
// matches in any scope: not connected, no retry. Resolution never fails with
// a missing-decision error.
func SafeDefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MatchStatus:    MatchAny,
		MatchEndReason: MatchAny,
		IsConnected:    false,
		ShouldRetry:    false,
	}
}
