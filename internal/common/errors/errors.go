// Package errors provides standardized error handling for the realtime agent.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Transport / channel errors
	ErrCodeTransport    ErrorCode = "TRANSPORT_ERROR"
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"

	// Backend REST errors
	ErrCodeBackend    ErrorCode = "BACKEND_ERROR"
	ErrCodeAuthFailed ErrorCode = "AUTH_FAILED"

	// Negotiation errors
	ErrCodeNegotiationTimeout ErrorCode = "NEGOTIATION_TIMEOUT"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"

	// Local validation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// 2. Error Constructors
// ==========================

// NewTransportError creates a retryable transport error for a channel.
func NewTransportError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransport,
		Message:   "Realtime channel transport error",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewNotConnectedError creates a non-retryable error for sends on a closed channel.
func NewNotConnectedError(channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotConnected,
		Message:   "Realtime channel is not connected",
		Details:   fmt.Sprintf("channel: %s", channel),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewBackendError creates an error for a non-2xx backend response.
// 5xx responses are retryable, 4xx are not.
func NewBackendError(endpoint string, status int, body string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBackend,
		Message:   "Backend request failed",
		Details:   fmt.Sprintf("endpoint: %s, status: %d, body: %s", endpoint, status, snippet(body)),
		Retryable: status >= 500,
		Metadata:  map[string]interface{}{"status": status, "endpoint": endpoint},
		Timestamp: time.Now().UTC(),
	}
}

// NewBackendUnreachableError creates a retryable error for network-level failures.
func NewBackendUnreachableError(endpoint string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBackend,
		Message:   "Backend unreachable",
		Details:   fmt.Sprintf("endpoint: %s, error: %s", endpoint, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewAuthFailedError creates a non-retryable authentication error.
func NewAuthFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthFailed,
		Message:   "Authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNegotiationTimeoutError creates a non-retryable negotiation deadline error.
func NewNegotiationTimeoutError(requestID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNegotiationTimeout,
		Message:   "Provider did not respond before the deadline",
		Details:   fmt.Sprintf("requestId: %s", requestID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidStateError creates a non-retryable state machine error.
func NewInvalidStateError(operation, state string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidState,
		Message:   "Operation not valid in current state",
		Details:   fmt.Sprintf("operation: %s, state: %s", operation, state),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable local validation error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Payload validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// CodeOf extracts the error code from err, or "" if err is not a StandardError.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err is a StandardError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetErrorCategory returns the coarse category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TRANSPORT") || strings.Contains(codeStr, "CONNECTED"):
		return "TRANSPORT"
	case strings.Contains(codeStr, "AUTH"):
		return "AUTH"
	case strings.Contains(codeStr, "BACKEND"):
		return "BACKEND"
	case strings.Contains(codeStr, "NEGOTIATION") || strings.Contains(codeStr, "STATE"):
		return "NEGOTIATION"
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

func snippet(body string) string {
	const max = 200
	body = strings.TrimSpace(body)
	if len(body) > max {
		return body[:max] + "..."
	}
	return body
}
