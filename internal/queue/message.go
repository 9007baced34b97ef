package queue

import (
	"fmt"
	"strings"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
)

// DispatchMessage is the broker payload for one planned channel send. The
// channel is fixed at the planner boundary as a closed enum, so workers never
// interpret free-form action strings.
type DispatchMessage struct {
	EnrollmentID  string         `json:"enrollmentId"`
	ActivityID    string         `json:"activityId"`
	StepID        string         `json:"stepId"`
	Channel       domain.Channel `json:"channel"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.EnrollmentID) == "" {
		return fmt.Errorf("enrollmentId is required")
	}
	if strings.TrimSpace(m.ActivityID) == "" {
		return fmt.Errorf("activityId is required")
	}
	if strings.TrimSpace(m.StepID) == "" {
		return fmt.Errorf("stepId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}
