package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/tinker/internal/recovery"
)

// FailReason categorizes why a provider request failed.
type FailReason string

const (
	// FailBilling indicates payment/quota issues (HTTP 402)
	FailBilling FailReason = "billing"

	// FailRateLimit indicates rate limiting (HTTP 429)
	FailRateLimit FailReason = "rate_limit"

	// FailAuth indicates authentication failure (HTTP 401, 403)
	FailAuth FailReason = "auth"

	// FailTimeout indicates request timeout
	FailTimeout FailReason = "timeout"

	// FailServerError indicates server-side issues (HTTP 5xx)
	FailServerError FailReason = "server_error"

	// FailInvalidRequest indicates client-side issues (HTTP 400)
	FailInvalidRequest FailReason = "invalid_request"

	// FailModelUnavailable indicates the model is not available
	FailModelUnavailable FailReason = "model_unavailable"

	// FailUnknown indicates an unclassified error
	FailUnknown FailReason = "unknown"
)

// IsRetryable returns true if the reason suggests retrying may succeed.
func (r FailReason) IsRetryable() bool {
	switch r {
	case FailRateLimit, FailTimeout, FailServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from a model provider with the context
// needed for retry decisions and debugging.
type ProviderError struct {
	// Reason categorizes the error for retry logic
	Reason FailReason

	// Provider is the name of the provider (e.g., "anthropic", "openai")
	Provider string

	// Model is the model that was requested
	Model string

	// Status is the HTTP status code, if applicable
	Status int

	// Code is the provider-specific error code
	Code string

	// Message is the human-readable error message
	Message string

	// RequestID is the provider's request ID for debugging
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))

	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}

	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError, classifying the cause's message.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailUnknown,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}

	return err
}

// WithStatus adds HTTP status to the error and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// WithCode adds a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != FailUnknown {
		e.Reason = reason
	}
	return e
}

// WithRequestID adds the provider's request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects an error message and returns a FailReason.
func ClassifyError(err error) FailReason {
	if err == nil {
		return FailUnknown
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return FailTimeout
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "529") {
		return FailRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return FailAuth
	}

	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "insufficient") ||
		strings.Contains(errStr, "402") {
		return FailBilling
	}

	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "model_not_found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "unavailable") {
		return FailModelUnavailable
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return FailServerError
	}

	return FailUnknown
}

// classifyStatusCode returns a FailReason based on HTTP status code.
func classifyStatusCode(status int) FailReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailAuth
	case status == http.StatusPaymentRequired:
		return FailBilling
	case status == http.StatusTooManyRequests:
		return FailRateLimit
	case status == http.StatusBadRequest:
		return FailInvalidRequest
	case status == http.StatusNotFound:
		return FailModelUnavailable
	case status >= 500:
		return FailServerError
	default:
		return FailUnknown
	}
}

// classifyErrorCode returns a FailReason based on provider-specific codes.
func classifyErrorCode(code string) FailReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded", "overloaded_error":
		return FailRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return FailAuth
	case "billing_error", "insufficient_quota":
		return FailBilling
	case "model_not_found", "model_not_available", "not_found_error":
		return FailModelUnavailable
	case "api_error", "server_error", "internal_error":
		return FailServerError
	case "invalid_request_error":
		return FailInvalidRequest
	default:
		return FailUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// Classify maps provider errors onto recovery kinds for the retry layer.
// Structured ProviderErrors decide from their reason; raw errors fall back
// to message classification.
func Classify(err error) recovery.Kind {
	if err == nil {
		return recovery.KindFatal
	}
	if errors.Is(err, context.Canceled) {
		return recovery.KindCancelled
	}

	reason := ClassifyError(err)
	if providerErr, ok := GetProviderError(err); ok {
		reason = providerErr.Reason
	}
	if reason.IsRetryable() {
		return recovery.KindTransient
	}
	return recovery.KindFatal
}
