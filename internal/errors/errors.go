// Package errors consolidates error definitions for the entire project.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions (client-caused vs system-caused)
// - HTTP status mapping for the API surface
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Authentication errors - rejected at the gateway, never enqueued.
	ErrMissingSecret = errors.New("missing shared secret header")
	ErrAuthFailed    = errors.New("shared secret mismatch")

	// Validation errors - client-caused, rejected at the gateway.
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidValue     = errors.New("invalid value")
	ErrClockSkew        = errors.New("timestamp outside acceptable clock-skew window")

	// Contract violations - invalid query parameters, non-retryable.
	ErrInvalidBucketSize = errors.New("bucket size must be 5 or 60 minutes")
	ErrInvalidPercentile = errors.New("unsupported percentile")
	ErrInvalidWindow     = errors.New("window end must be after window start")
	ErrWindowTooLarge    = errors.New("window exceeds maximum span")
	ErrTooManyPoints     = errors.New("working set exceeds maximum point count")

	// Transient system errors - retryable.
	ErrEnqueueTimeout   = errors.New("enqueue timed out")
	ErrQueueClosed      = errors.New("queue is closed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("timeout")

	// Terminal pipeline errors.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// Store errors.
	ErrNotFound = errors.New("not found")

	// Internal errors.
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsAuth returns true if err is an authentication error.
func IsAuth(err error) bool {
	return errors.Is(err, ErrMissingSecret) ||
		errors.Is(err, ErrAuthFailed)
}

// IsValidation returns true if err is a payload validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrClockSkew)
}

// IsContractViolation returns true if err is an invalid-query-parameter error.
// Contract violations fail fast and must not be retried.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrInvalidBucketSize) ||
		errors.Is(err, ErrInvalidPercentile) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrWindowTooLarge) ||
		errors.Is(err, ErrTooManyPoints)
}

// IsRetriable returns true if the error is system-caused and potentially
// transient. Client-caused errors (auth, validation, contract) are never
// retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrEnqueueTimeout) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// ============================================================================
// HTTP status mapping
// ============================================================================

// HTTPStatus maps an error to the HTTP status code returned by the API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsAuth(err):
		return http.StatusUnauthorized
	case IsValidation(err), IsContractViolation(err):
		return http.StatusBadRequest
	case Is(err, ErrNotFound):
		return http.StatusNotFound
	case Is(err, ErrEnqueueTimeout), Is(err, ErrQueueClosed):
		return http.StatusServiceUnavailable
	case IsRetriable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("%s '%v': %s: %w", field, value, reason, ErrInvalidValue)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors so a rejected payload
// reports every problem at once.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// AddInvalid adds an invalid value error.
func (v *ValidationErrors) AddInvalid(field string, value interface{}, reason string) {
	v.Errors = append(v.Errors, NewInvalidValue(field, value, reason))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
