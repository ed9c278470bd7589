// Package errors provides the error taxonomy shared by the ordering core,
// the transport adapters and the Zeebe job workers.
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

// Conversation core
const (
	ErrCodeExtractionFailure   ErrorCode = "EXTRACTION_FAILURE"
	ErrCodeValidationRejection ErrorCode = "VALIDATION_REJECTION"
	ErrCodeDuplicateMessage    ErrorCode = "DUPLICATE_MESSAGE"
	ErrCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	ErrCodeSessionExpired      ErrorCode = "SESSION_EXPIRED"
	ErrCodeSessionBusy         ErrorCode = "SESSION_BUSY"
	ErrCodeSessionStoreFailed  ErrorCode = "SESSION_STORE_FAILED"
)

// AI interpreter
const (
	ErrCodeAITimeout           ErrorCode = "AI_TIMEOUT"
	ErrCodeAIQuotaExceeded     ErrorCode = "AI_QUOTA_EXCEEDED"
	ErrCodeAIMalformedResponse ErrorCode = "AI_MALFORMED_RESPONSE"
	ErrCodeAIUnavailable       ErrorCode = "AI_UNAVAILABLE"
)

// Collaborators
const (
	ErrCodeCatalogLookupFailed    ErrorCode = "CATALOG_LOOKUP_FAILED"
	ErrCodeOrderPersistFailed     ErrorCode = "ORDER_PERSIST_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeTransportSendFailed    ErrorCode = "TRANSPORT_SEND_FAILED"
	ErrCodeRateLimited            ErrorCode = "RATE_LIMITED"
	ErrCodeMessageRejected        ErrorCode = "MESSAGE_REJECTED"
	ErrCodeInvalidInput           ErrorCode = "INVALID_INPUT"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata returns the error with one metadata entry added.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the ErrorCode of a wrapped StandardError, or "" if none.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewExtractionFailureError(err error) *StandardError {
	return newError(ErrCodeExtractionFailure, "AI extraction failed", err.Error(), false)
}

func NewValidationRejectionError(step, details string) *StandardError {
	return newError(ErrCodeValidationRejection, "No safe interpretation for step",
		fmt.Sprintf("step: %s, %s", step, details), false)
}

func NewDuplicateMessageError(userID, messageID string) *StandardError {
	return newError(ErrCodeDuplicateMessage, "Message already processed",
		fmt.Sprintf("userId: %s, messageId: %s", userID, messageID), false)
}

func NewConcurrencyConflictError(userID string, expected, actual int64) *StandardError {
	return newError(ErrCodeConcurrencyConflict, "Session advanced during resolution",
		fmt.Sprintf("userId: %s, expectedVersion: %d, actualVersion: %d", userID, expected, actual), false)
}

func NewSessionExpiredError(userID string, idle time.Duration) *StandardError {
	return newError(ErrCodeSessionExpired, "Session idle timeout",
		fmt.Sprintf("userId: %s, idle: %s", userID, idle), false)
}

func NewSessionBusyError(userID string) *StandardError {
	return newError(ErrCodeSessionBusy, "Session lock is held by another message",
		fmt.Sprintf("userId: %s", userID), true)
}

func NewSessionStoreFailedError(op string, err error) *StandardError {
	return newError(ErrCodeSessionStoreFailed, "Session store operation failed",
		fmt.Sprintf("op: %s, error: %s", op, err.Error()), true)
}

func NewAITimeoutError(timeout time.Duration) *StandardError {
	return newError(ErrCodeAITimeout, "AI interpreter timeout",
		fmt.Sprintf("call exceeded %s", timeout), true)
}

func NewAIQuotaExceededError(details string) *StandardError {
	return newError(ErrCodeAIQuotaExceeded, "AI interpreter quota or rate limit exceeded", details, true)
}

func NewAIMalformedResponseError(details string) *StandardError {
	return newError(ErrCodeAIMalformedResponse, "AI interpreter returned malformed output", details, false)
}

func NewAIUnavailableError(err error) *StandardError {
	return newError(ErrCodeAIUnavailable, "AI interpreter unavailable", err.Error(), true)
}

func NewCatalogLookupFailedError(candidate string, err error) *StandardError {
	return newError(ErrCodeCatalogLookupFailed, "Catalog lookup failed",
		fmt.Sprintf("candidate: %s, error: %s", candidate, err.Error()), true)
}

func NewOrderPersistFailedError(err error) *StandardError {
	return newError(ErrCodeOrderPersistFailed, "Order could not be persisted", err.Error(), true)
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true)
}

func NewTransportSendFailedError(status int, details string) *StandardError {
	return newError(ErrCodeTransportSendFailed, "Outbound message delivery failed",
		fmt.Sprintf("status: %d, %s", status, details), status >= 500 || status == 429)
}

func NewRateLimitedError(userID string, retryAfter time.Duration) *StandardError {
	return newError(ErrCodeRateLimited, "Too many messages",
		fmt.Sprintf("userId: %s, retryAfter: %s", userID, retryAfter), false).
		WithMetadata("retryAfterMs", retryAfter.Milliseconds())
}

func NewMessageRejectedError(reason string) *StandardError {
	return newError(ErrCodeMessageRejected, "Inbound message rejected", reason, false)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid job input", details, false)
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newError("EXTERNAL_SERVICE_ERROR", fmt.Sprintf("External service '%s' error", service), err.Error(), true)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError("TIMEOUT_ERROR", fmt.Sprintf("Service '%s' timeout", service), err.Error(), true)
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return newError("RESOURCE_NOT_FOUND", fmt.Sprintf("Resource not found in %s", service), details, false)
}

func NewBusinessRuleError(message, details string) *StandardError {
	return newError("BUSINESS_RULE_VIOLATION", message, details, false)
}

func NewAuthenticationError(details string) *StandardError {
	return newError("AUTHENTICATION_ERROR", "Authentication failed", details, false)
}

// ==========================
// 4. Retry and BPMN mapping
// ==========================

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeExtractionFailure:      "EXTRACTION_FAILURE",
	ErrCodeValidationRejection:    "CLARIFICATION_REQUIRED",
	ErrCodeDuplicateMessage:       "DUPLICATE_MESSAGE",
	ErrCodeConcurrencyConflict:    "STALE_RESULT_DISCARDED",
	ErrCodeSessionExpired:         "SESSION_EXPIRED",
	ErrCodeSessionBusy:            "SESSION_BUSY",
	ErrCodeSessionStoreFailed:     "SESSION_STORE_FAILED",
	ErrCodeAITimeout:              "AI_TIMEOUT",
	ErrCodeAIQuotaExceeded:        "AI_QUOTA_EXCEEDED",
	ErrCodeAIMalformedResponse:    "AI_MALFORMED_RESPONSE",
	ErrCodeAIUnavailable:          "AI_UNAVAILABLE",
	ErrCodeCatalogLookupFailed:    "CATALOG_LOOKUP_FAILED",
	ErrCodeOrderPersistFailed:     "ORDER_PERSIST_FAILED",
	ErrCodeNotificationSendFailed: "NOTIFICATION_SEND_FAILED",
	ErrCodeTransportSendFailed:    "TRANSPORT_SEND_FAILED",
	ErrCodeRateLimited:            "RATE_LIMITED",
	ErrCodeMessageRejected:        "MESSAGE_REJECTED",
	ErrCodeInvalidInput:           "INVALID_INPUT",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeSessionStoreFailed,
		ErrCodeCatalogLookupFailed,
		ErrCodeOrderPersistFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeTransportSendFailed:
		return 3

	case ErrCodeSessionBusy,
		ErrCodeAITimeout,
		ErrCodeAIUnavailable:
		return 2

	case ErrCodeAIQuotaExceeded:
		return 1

	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "AI_") || code == ErrCodeExtractionFailure:
		return "AI"
	case strings.Contains(codeStr, "SESSION") || code == ErrCodeDuplicateMessage || code == ErrCodeConcurrencyConflict:
		return "SESSION"
	case strings.Contains(codeStr, "CATALOG"):
		return "CATALOG"
	case strings.Contains(codeStr, "ORDER"):
		return "ORDER"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "TRANSPORT"):
		return "DELIVERY"
	case code == ErrCodeRateLimited || code == ErrCodeMessageRejected:
		return "GUARD"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
