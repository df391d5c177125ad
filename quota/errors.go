/*
errors.go - Centralized error types for the quota package

PURPOSE:
  All quota error types in one place. The API layer maps these onto HTTP
  statuses; callers use errors.Is/errors.As, never string matching.

ERROR CATEGORIES:
  1. Validation errors - malformed input, breakdowns that don't reconcile
  2. Resolution errors - no governing target for a user/period
  3. Conflict errors - overlapping active targets during distribution

SEE ALSO:
  - distribution.go: raises validation and conflict errors
  - resolver.go: raises NoActiveTargetError
*/
package quota

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrTargetNotFound is returned when a referenced target doesn't exist.
	ErrTargetNotFound = errors.New("target not found")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoActiveTarget is returned when no active target covers the
	// requested period. Callers must treat this explicitly; the engine
	// never substitutes a default rate.
	ErrNoActiveTarget = errors.New("no active target for period")

	// ErrTargetConflict is returned when active targets already overlap the
	// requested range and the conflict policy is "skip".
	ErrTargetConflict = errors.New("overlapping active targets")

	// ErrInvalidPeriod is returned when period bounds are inverted.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field and the expected contract.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Message)
}

// NoActiveTargetError reports which user/period had no governing target.
type NoActiveTargetError struct {
	UserID UserID
	Period Period
}

func (e *NoActiveTargetError) Error() string {
	return fmt.Sprintf("no active target for user %s in %s", e.UserID, e.Period)
}

func (e *NoActiveTargetError) Unwrap() error { return ErrNoActiveTarget }

// ConflictError reports the overlapping targets that blocked distribution.
type ConflictError struct {
	UserID      UserID
	Requested   Period
	Overlapping []Target
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user %s has %d active target(s) overlapping %s",
		e.UserID, len(e.Overlapping), e.Requested)
}

func (e *ConflictError) Unwrap() error { return ErrTargetConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrNoActiveTarget)
}

// IsConflict returns true if the error indicates overlapping targets.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTargetConflict)
}
