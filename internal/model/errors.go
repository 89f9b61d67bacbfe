package model

import (
	"errors"
	"strings"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	// ErrInvalidQuery marks malformed or incomplete search input.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrValidationFailed marks a trip that violates the schema on insert.
	ErrValidationFailed = errors.New("validation failed")

	// ErrNotFound means geocoding produced no candidates. It is an empty
	// resolution, not a failure.
	ErrNotFound = errors.New("no geocoding result")

	// ErrUpstreamUnavailable means the geocoding service could not be
	// reached after the retry budget was spent. Callers may retry later.
	ErrUpstreamUnavailable = errors.New("geocoding upstream unavailable")

	// ErrGeocodingFailed is the terminal failure of a geocoding call chain.
	ErrGeocodingFailed = errors.New("geocoding failed")

	// ErrTripNotFound is returned when a trip id does not exist.
	ErrTripNotFound = errors.New("trip not found")
)

// FieldError names one offending input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field-level problems. It unwraps to Kind, which is
// either ErrInvalidQuery or ErrValidationFailed.
type ValidationError struct {
	Kind   error
	Fields []FieldError
}

// NewValidationError starts an empty error of the given kind.
func NewValidationError(kind error) *ValidationError {
	return &ValidationError{Kind: kind}
}

// Add records a problem with field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err returns nil when no field was recorded.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return e.Kind.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// FieldsOf extracts field errors from err, if any.
func FieldsOf(err error) []FieldError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}
