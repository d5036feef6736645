package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Constructors
// ==========================

func TestTransportErrorIsRetryable(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewTransportError("chat.7", cause)

	assert.Equal(t, ErrCodeTransport, err.Code)
	assert.True(t, err.Retryable)
	assert.Contains(t, err.Details, "chat.7")
	assert.True(t, stderrors.Is(err, cause), "cause must unwrap")
}

func TestNotConnectedErrorIsNotRetryable(t *testing.T) {
	err := NewNotConnectedError("user_feed.42")

	assert.Equal(t, ErrCodeNotConnected, err.Code)
	assert.False(t, err.Retryable)
}

func TestBackendErrorRetryableByStatusClass(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", 500, true},
		{"bad gateway", 502, true},
		{"not found", 404, false},
		{"conflict", 409, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewBackendError("/api/notifications/", tt.status, "body")
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.Metadata["status"])
		})
	}
}

func TestBackendErrorTruncatesLongBody(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	err := NewBackendError("/api/profile/", 500, string(long))
	assert.Less(t, len(err.Details), 300)
}

func TestNegotiationTimeoutCarriesRequestID(t *testing.T) {
	err := NewNegotiationTimeoutError("23")
	assert.Equal(t, ErrCodeNegotiationTimeout, err.Code)
	assert.Contains(t, err.Details, "23")
	assert.False(t, err.Retryable)
}

// ==========================
// Utilities
// ==========================

func TestCodeOfAndIsCode(t *testing.T) {
	err := NewInvalidStateError("begin", "accepted")

	assert.Equal(t, ErrCodeInvalidState, CodeOf(err))
	assert.True(t, IsCode(err, ErrCodeInvalidState))
	assert.False(t, IsCode(err, ErrCodeTransport))

	assert.Equal(t, ErrorCode(""), CodeOf(fmt.Errorf("plain")))
	assert.False(t, IsCode(nil, ErrCodeTransport))
}

func TestCodeOfUnwrapsWrappedErrors(t *testing.T) {
	inner := NewAuthFailedError("token expired")
	wrapped := fmt.Errorf("session open: %w", inner)

	assert.Equal(t, ErrCodeAuthFailed, CodeOf(wrapped))
	assert.False(t, IsRetryable(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewBackendUnreachableError("/api/login/", fmt.Errorf("refused"))))
	assert.False(t, IsRetryable(NewValidationFailedError("missing field")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestGetErrorCategory(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected string
	}{
		{ErrCodeTransport, "TRANSPORT"},
		{ErrCodeNotConnected, "TRANSPORT"},
		{ErrCodeAuthFailed, "AUTH"},
		{ErrCodeBackend, "BACKEND"},
		{ErrCodeNegotiationTimeout, "NEGOTIATION"},
		{ErrCodeInvalidState, "NEGOTIATION"},
		{ErrCodeValidationFailed, "VALIDATION"},
		{"SOMETHING_ELSE", "OTHER"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCategory(tt.code))
		})
	}
}

func TestErrorStringFormat(t *testing.T) {
	err := NewNotConnectedError("chat.1")
	require.Contains(t, err.Error(), "NOT_CONNECTED")
}
