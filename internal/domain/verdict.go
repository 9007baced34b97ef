package domain

import "time"

// BlockReason identifies which admission guard denied a send.
type BlockReason string

const (
	BlockQuietHours BlockReason = "quiet_hours"
	BlockNoConsent  BlockReason = "no_consent"
	BlockFreqCap    BlockReason = "freq_cap"
	BlockBudgetCap  BlockReason = "budget_cap"
	BlockRateCap    BlockReason = "rate_cap"
)

func (r BlockReason) String() string { return string(r) }

// GuardHint suggests how the caller can recover from a denial.
type GuardHint struct {
	// ScheduleAfter is the next permissible send time (quiet hours).
	ScheduleAfter *time.Time `json:"scheduleAfter,omitempty"`
	// RetryAfter is a relative backoff suggestion (frequency/rate caps).
	RetryAfter *time.Duration `json:"retryAfter,omitempty"`
	// Action is a free-form operator suggestion, e.g. pause_campaign.
	Action string `json:"action,omitempty"`
}

// GuardVerdict is the outcome of admission-control evaluation. Denial is an
// expected branch, not an error: callers inspect Allow and Reason instead of
// an error value.
type GuardVerdict struct {
	Allow  bool        `json:"allow"`
	Reason BlockReason `json:"reason,omitempty"`
	Hint   *GuardHint  `json:"hint,omitempty"`
}

// AllowVerdict is the verdict returned when every guard passes.
func AllowVerdict() GuardVerdict {
	return GuardVerdict{Allow: true}
}

// DenyVerdict builds a denial with the triggering reason and optional hint.
func DenyVerdict(reason BlockReason, hint *GuardHint) GuardVerdict {
	return GuardVerdict{Allow: false, Reason: reason, Hint: hint}
}
