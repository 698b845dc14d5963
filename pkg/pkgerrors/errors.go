// Package pkgerrors holds the sentinel errors and structured error kinds
// shared across PailFlow's components, per the error-kind taxonomy in §7.
package pkgerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConcurrentModification is returned when optimistic locking fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInsufficientCredits is returned by the admission check when a
	// user's credit balance is below the configured minimum.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrCheckpointMissing is returned when a resume attempt finds no
	// checkpoint for a thread.
	ErrCheckpointMissing = errors.New("checkpoint missing")

	// ErrPlacementUnavailable is returned when no placement backend is
	// configured or reachable.
	ErrPlacementUnavailable = errors.New("no placement backend available")

	// ErrDuplicateSession is not treated as an error by callers (§4.1:
	// "returns ok"), but is exposed so callers can distinguish the case
	// in logs.
	ErrDuplicateSession = errors.New("session already running for room")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PlacementError wraps the cause of a failed placement attempt, letting the
// orchestrator report the last cause across a fallback chain (§4.1, §7).
type PlacementError struct {
	Backend string
	Cause   error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("placement backend %q failed: %v", e.Backend, e.Cause)
}

func (e *PlacementError) Unwrap() error { return e.Cause }

// NewPlacementError builds a PlacementError for the given backend.
func NewPlacementError(backend string, cause error) error {
	return &PlacementError{Backend: backend, Cause: cause}
}
