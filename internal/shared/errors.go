package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an invariant violation caused by the caller's intent.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState marks an operation not allowed in the entity's lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrBusy is a transient conflict (lock wait or serialization failure); callers may retry with backoff.
	ErrBusy = fmt.Errorf("%w: resource busy, retry later", ErrConflict)
)

// ErrorKind is the stable category exposed to calling layers.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindInvalidState ErrorKind = "invalid_state"
	KindInternal     ErrorKind = "internal"
)

// KindOf classifies err. Anything outside the taxonomy is internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the failure was transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a field-level validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with context.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// InvalidStatef wraps ErrInvalidState with context.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
