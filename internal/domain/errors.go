package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a rule or record lookup misses,
	// including lookups against another principal's data.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateTransaction is returned when a record with the same
	// transaction id already exists for the principal. The caller must
	// supply a new id; the first record is left untouched.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrDelegateUnavailable marks a failed external delegate call.
	// It is internal only: the gateway converts it into a fallback,
	// never into a caller-visible failure.
	ErrDelegateUnavailable = errors.New("scoring delegate unavailable")
)

// ValidationError reports malformed rule or transaction input.
// It is reported to the caller and never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
