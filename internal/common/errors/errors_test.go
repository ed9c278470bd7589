package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardError_Error(t *testing.T) {
	err := NewSessionBusyError("9647701112222")
	assert.Equal(t, "StandardError[SESSION_BUSY]: Session lock is held by another message", err.Error())
	assert.True(t, err.Retryable)
	assert.WithinDuration(t, time.Now().UTC(), err.Timestamp, time.Second)
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("commit: %w", NewConcurrencyConflictError("u1", 3, 4))
	assert.Equal(t, ErrCodeConcurrencyConflict, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
}

func TestNormalize(t *testing.T) {
	std := NewAITimeoutError(8 * time.Second)
	assert.Same(t, std, Normalize(fmt.Errorf("wrap: %w", std)))

	n := Normalize(stderrors.New("boom"))
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), n.Code)
	assert.Equal(t, "boom", n.Details)
	assert.False(t, n.Retryable)
}

func TestGetRetryCount(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeSessionStoreFailed, 3},
		{ErrCodeOrderPersistFailed, 3},
		{ErrCodeSessionBusy, 2},
		{ErrCodeAITimeout, 2},
		{ErrCodeAIQuotaExceeded, 1},
		{ErrCodeDuplicateMessage, 0},
		{ErrCodeValidationRejection, 0},
		{"SOMETHING_ELSE", 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, GetRetryCount(tt.code))
			assert.Equal(t, tt.want > 0, IsRetryableErrorCode(tt.code))
		})
	}
}

func TestConvertToBPMNError(t *testing.T) {
	std := NewRateLimitedError("u1", 2*time.Second)
	bpmn := ConvertToBPMNError(std)

	assert.Equal(t, "RATE_LIMITED", bpmn.Code)
	assert.Equal(t, 0, bpmn.Retries)
	vars := bpmn.ToErrorVariables()
	assert.Equal(t, "RATE_LIMITED", vars["errorCode"])
	assert.Equal(t, "RATE_LIMITED", vars["originalErrorCode"])
	assert.Equal(t, int64(2000), vars["retryAfterMs"])

	nonRetryable := &StandardError{Code: ErrCodeSessionStoreFailed, Retryable: false, Timestamp: time.Now()}
	assert.Equal(t, 0, ConvertToBPMNError(nonRetryable).Retries)

	unmapped := ConvertToBPMNError(NewBusinessRuleError("x", "y"))
	assert.Equal(t, "BUSINESS_RULE_VIOLATION", unmapped.Code)
}

func TestGetErrorCategory(t *testing.T) {
	tests := map[ErrorCode]string{
		ErrCodeAITimeout:              "AI",
		ErrCodeExtractionFailure:      "AI",
		ErrCodeSessionBusy:            "SESSION",
		ErrCodeDuplicateMessage:       "SESSION",
		ErrCodeConcurrencyConflict:    "SESSION",
		ErrCodeCatalogLookupFailed:    "CATALOG",
		ErrCodeOrderPersistFailed:     "ORDER",
		ErrCodeNotificationSendFailed: "DELIVERY",
		ErrCodeTransportSendFailed:    "DELIVERY",
		ErrCodeRateLimited:            "GUARD",
		ErrCodeInvalidInput:           "VALIDATION",
		"WHATEVER":                    "OTHER",
	}
	for code, want := range tests {
		assert.Equal(t, want, GetErrorCategory(code), string(code))
	}
}

func TestNewTransportSendFailedError_Retryable(t *testing.T) {
	require.True(t, NewTransportSendFailedError(503, "unavailable").Retryable)
	require.True(t, NewTransportSendFailedError(429, "slow down").Retryable)
	require.False(t, NewTransportSendFailedError(400, "bad recipient").Retryable)
}
