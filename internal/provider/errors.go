package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// FailureCode is the closed vocabulary of provider failure classifications.
type FailureCode string

const (
	FailureTimeout          FailureCode = "timeout"
	FailureThrottled        FailureCode = "throttled"
	FailureNetworkGlitch    FailureCode = "network_glitch"
	FailurePolicyDenied     FailureCode = "policy_denied"
	FailureInvalidPayload   FailureCode = "invalid_payload"
	FailureQuotaExhausted   FailureCode = "quota_exhausted"
	FailurePermanentFailure FailureCode = "permanent_failure"
	FailureBounced          FailureCode = "bounced"
)

// Retryable reports whether a failure code warrants a redelivery attempt.
// Anything outside the known retryable set is treated as permanent.
func (c FailureCode) Retryable() bool {
	switch c {
	case FailureTimeout, FailureThrottled, FailureNetworkGlitch:
		return true
	default:
		return false
	}
}

// ProviderError classifies provider call failures as transient/permanent.
type ProviderError struct {
	Code       FailureCode
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.Code != "" {
		parts = append(parts, string(e.Code))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// FailureCodeOf extracts the failure classification from an error, falling
// back to network_glitch for transient errors and permanent_failure otherwise.
func FailureCodeOf(err error) FailureCode {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Code != "" {
		return providerErr.Code
	}
	if IsTransient(err) {
		return FailureNetworkGlitch
	}
	return FailurePermanentFailure
}

func classifyHTTPStatus(statusCode int) FailureCode {
	switch {
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return FailureTimeout
	case statusCode == http.StatusTooManyRequests:
		return FailureThrottled
	case statusCode >= http.StatusInternalServerError && statusCode <= 599:
		return FailureNetworkGlitch
	case statusCode == http.StatusForbidden:
		return FailurePolicyDenied
	case statusCode == http.StatusPaymentRequired:
		return FailureQuotaExhausted
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return FailureInvalidPayload
	case statusCode == http.StatusGone:
		return FailureBounced
	default:
		return FailurePermanentFailure
	}
}

func classifyTransportError(err error) FailureCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	return FailureNetworkGlitch
}
