package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTemplate is returned for template identifiers outside the
	// registered set. Surfaced to callers as a validation error.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrEmptyContent is returned when a request resolves to neither HTML
	// nor text content.
	ErrEmptyContent = errors.New("notification has no content")

	// ErrInvalidDriver is returned for unsupported database drivers.
	ErrInvalidDriver = errors.New("invalid database driver")
)

// ValidationError indicates a malformed or incomplete request. Validation
// failures are caller bugs, not identity behavior, so they are never
// written to the audit log.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error for a request field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RateWindow names the quota window that rejected a send.
type RateWindow string

const (
	WindowHourly RateWindow = "hourly"
	WindowDaily  RateWindow = "daily"
)

// RejectedError indicates the rate limiter refused admission. The window
// distinguishes remediation: retry within the hour vs. tomorrow.
type RejectedError struct {
	Window RateWindow
	Reason string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

// DeliveryError indicates the provider call failed. The provider's message
// is preserved for diagnostics and recorded as the failure reason.
type DeliveryError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery failed: provider returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("delivery failed: %s", e.Message)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
