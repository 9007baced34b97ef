package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
)

const defaultSendTimeout = 10 * time.Second

type sendRequestBody struct {
	To            string `json:"to"`
	Channel       string `json:"channel"`
	TemplateRef   string `json:"templateRef,omitempty"`
	EnrollmentID  string `json:"enrollmentId"`
	ActivityID    string `json:"activityId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type sendResponseBody struct {
	CallID string `json:"callId"`
}

// HTTPProvider posts send requests to a channel provider's HTTP endpoint.
type HTTPProvider struct {
	client   *resty.Client
	channel  domain.Channel
	endpoint string
}

func NewHTTPProvider(channel domain.Channel, endpoint string) (*HTTPProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewHTTPProviderWithClient(channel, endpoint, client)
}

func NewHTTPProviderWithClient(channel domain.Channel, endpoint string, client *resty.Client) (*HTTPProvider, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("invalid channel %q", channel)
	}

	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("provider endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid provider endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPProvider{
		client:   client,
		channel:  channel,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *HTTPProvider) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid send request: %w", err)
	}
	if req.Channel != p.channel {
		return nil, fmt.Errorf("channel mismatch: request %q, provider %q", req.Channel, p.channel)
	}

	reqBody := sendRequestBody{
		To:            req.To,
		Channel:       strings.ToLower(req.Channel.String()),
		TemplateRef:   req.TemplateRef,
		EnrollmentID:  req.EnrollmentID,
		ActivityID:    req.ActivityID,
		CorrelationID: req.CorrelationID,
	}

	var respBody sendResponseBody

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(p.endpoint)
	if err != nil {
		code := classifyTransportError(err)
		return nil, &ProviderError{
			Code:      code,
			Message:   "provider request failed",
			Transient: code.Retryable() && !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Code:      FailureNetworkGlitch,
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResponse{
			StatusCode:     statusCode,
			Body:           responseBody,
			ProviderCallID: providerCallID(response, respBody),
		}, nil
	}

	code := classifyHTTPStatus(statusCode)
	return nil, &ProviderError{
		Code:       code,
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  code.Retryable(),
	}
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerCallID(response *resty.Response, body sendResponseBody) string {
	if id := strings.TrimSpace(body.CallID); id != "" {
		return id
	}
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Call-ID", "X-Call-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
