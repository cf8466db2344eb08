// Package apierr defines the coded errors surfaced by the HTTP API and
// recorded on failed jobs. Every error carries an HTTP status, a stable
// machine code, and optional details; handlers convert anything else to
// a generic internal error so internals never leak to callers.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a coded API error.
type Error struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	// Retryable marks transient failures the dispatcher may retry.
	Retryable bool `json:"-"`

	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Wrap attaches an underlying cause without changing what the caller sees.
func (e *Error) Wrap(err error) *Error {
	clone := *e
	clone.wrapped = err
	return &clone
}

// WithDetails returns a copy carrying extra structured context.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// As extracts an *Error from an error chain, or nil.
func As(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsRetryable reports whether the error chain contains a retryable
// coded error. Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	if apiErr := As(err); apiErr != nil {
		return apiErr.Retryable
	}
	return false
}

// Authentication and authorization.

func Authentication(msg string) *Error {
	if msg == "" {
		msg = "Authentication required"
	}
	return &Error{Status: http.StatusUnauthorized, Code: "AUTHENTICATION_ERROR", Message: msg}
}

func InvalidAPIKey() *Error {
	return &Error{Status: http.StatusUnauthorized, Code: "INVALID_API_KEY", Message: "Invalid or expired API key"}
}

// NotFound covers both missing resources and foreign-owned ones: the two
// are indistinguishable to the caller so existence never leaks.
func NotFound(resource, id string) *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with ID '%s' not found", resource, id),
		Details: map[string]any{"id": id},
	}
}

func JobNotFound(id string) *Error {
	e := NotFound("Job", id)
	e.Code = "JOB_NOT_FOUND"
	return e
}

// Validation.

func Validation(msg string, details map[string]any) *Error {
	if msg == "" {
		msg = "Request validation failed"
	}
	return &Error{Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: msg, Details: details}
}

func InvalidAudioFormat(got string, supported []string) *Error {
	e := Validation(fmt.Sprintf("Audio format '%s' is not supported", got), map[string]any{
		"format_received":   got,
		"supported_formats": supported,
	})
	e.Code = "INVALID_AUDIO_FORMAT"
	return e
}

func FileTooLarge(size, max string) *Error {
	e := Validation(fmt.Sprintf("File size (%s) exceeds maximum (%s)", size, max), map[string]any{
		"file_size": size,
		"max_size":  max,
	})
	e.Code = "FILE_TOO_LARGE"
	return e
}

func InvalidStateTransition(jobID, current string) *Error {
	e := Validation("Only pending or queued jobs can be cancelled", map[string]any{
		"job_id":         jobID,
		"current_status": current,
	})
	e.Code = "INVALID_STATE_TRANSITION"
	return e
}

// Rate limiting.

func RateLimited(limit, remaining int, resetAt int64) *Error {
	return &Error{
		Status:  http.StatusTooManyRequests,
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "Rate limit exceeded. Please retry later.",
		Details: map[string]any{"limit": limit, "remaining": remaining, "reset_at": resetAt},
	}
}

// Backend services. All retryable: the service may come back.

func serviceUnavailable(code, msg string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: code, Message: msg, Retryable: true}
}

func LLMUnavailable() *Error {
	return serviceUnavailable("LLM_SERVICE_ERROR", "LLM service is unavailable")
}

func STTUnavailable() *Error {
	return serviceUnavailable("STT_SERVICE_ERROR", "Speech-to-Text service is unavailable")
}

func DiarizationUnavailable() *Error {
	return serviceUnavailable("DIARIZATION_SERVICE_ERROR", "Speaker Diarization service is unavailable")
}

// Storage.

func Storage(msg string) *Error {
	if msg == "" {
		msg = "Storage operation failed"
	}
	return &Error{Status: http.StatusInternalServerError, Code: "STORAGE_ERROR", Message: msg, Retryable: true}
}

func BlobNotFound(key string) *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Code:    "FILE_NOT_FOUND",
		Message: "File not found in storage",
		Details: map[string]any{"key": key},
	}
}

// Jobs.

func JobFailed(jobID, reason string) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    "JOB_PROCESSING_ERROR",
		Message: fmt.Sprintf("Failed to process job '%s': %s", jobID, reason),
		Details: map[string]any{"job_id": jobID, "reason": reason},
	}
}

func JobTimeout(jobID string, seconds int) *Error {
	return &Error{
		Status:  http.StatusRequestTimeout,
		Code:    "JOB_TIMEOUT",
		Message: fmt.Sprintf("Job '%s' timed out after %d seconds", jobID, seconds),
		Details: map[string]any{"job_id": jobID, "timeout_seconds": seconds},
	}
}

func JobAlreadyExists(id string) *Error {
	return &Error{
		Status:  http.StatusConflict,
		Code:    "JOB_ALREADY_EXISTS",
		Message: "Job already exists",
		Details: map[string]any{"job_id": id},
	}
}

func Internal() *Error {
	return &Error{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "An internal error occurred"}
}
