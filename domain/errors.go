package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the addressed board, list, card or comment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrContractViolation marks caller bugs such as malformed container keys
	// or indexes that address no item. It is never retried.
	ErrContractViolation = errors.New("contract violation")
	// ErrDeclined is returned when the caller refused a destructive action.
	ErrDeclined = errors.New("destructive action declined")
)

// ValidationError rejects user input before any mutation is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RequireText trims s and fails when nothing is left.
func RequireText(field, s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", &ValidationError{Field: field, Reason: "must not be empty"}
	}
	return trimmed, nil
}

// Contractf wraps ErrContractViolation with a formatted message.
func Contractf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}
