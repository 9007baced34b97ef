package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
)

// Sender is the outbound channel delivery port.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (*SendResponse, error)
}

// SendRequest carries everything a channel provider needs for one attempt.
type SendRequest struct {
	Channel       domain.Channel
	To            string
	TemplateRef   string
	EnrollmentID  string
	ActivityID    string
	CorrelationID string
}

func (r SendRequest) Validate() error {
	if !r.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", r.Channel)
	}
	if strings.TrimSpace(r.To) == "" {
		return fmt.Errorf("recipient address is required")
	}
	if strings.TrimSpace(r.ActivityID) == "" {
		return fmt.Errorf("activity id is required")
	}
	return nil
}

// SendResponse stores provider call metadata for audit and persistence.
type SendResponse struct {
	StatusCode     int
	Body           string
	ProviderCallID string
}

// Registry maps channels to their configured senders.
type Registry struct {
	senders map[domain.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[domain.Channel]Sender)}
}

func (r *Registry) Register(channel domain.Channel, sender Sender) error {
	if !channel.IsValid() {
		return fmt.Errorf("invalid channel %q", channel)
	}
	if sender == nil {
		return fmt.Errorf("sender is required for channel %q", channel)
	}
	r.senders[channel] = sender
	return nil
}

// ForChannel returns the sender registered for a channel.
func (r *Registry) ForChannel(channel domain.Channel) (Sender, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is not initialized")
	}
	sender, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel %q", channel)
	}
	return sender, nil
}
