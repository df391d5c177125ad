/*
errors.go - Centralized error types for the commission package

PURPOSE:
  All commission error types in one place. The API layer maps these onto
  HTTP statuses; callers use errors.Is/errors.As, never string matching.

ERROR CATEGORIES:
  1. Transition errors - illegal (status, action) pairs
  2. Permission errors - actor lacks the role a transition requires
  3. Concurrency errors - optimistic status guard lost the race
  4. Uniqueness errors - second commission for the same deal

SEE ALSO:
  - statemachine.go: raises transition/permission/stale errors
  - calculator.go: raises duplicate-deal and no-target conditions
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCommissionNotFound is returned when a referenced commission
	// doesn't exist.
	ErrCommissionNotFound = errors.New("commission not found")

	// ErrDealNotFound is returned when a referenced deal doesn't exist.
	ErrDealNotFound = errors.New("deal not found")

	// ErrDuplicateDeal is returned by stores when a commission already
	// exists for the deal. Callers resolve it by fetching the existing
	// row, never by crashing or duplicating.
	ErrDuplicateDeal = errors.New("commission already exists for deal")

	// ErrStaleStatus is returned when the persisted status no longer
	// matches the transition's expected source state.
	ErrStaleStatus = errors.New("commission status changed concurrently")

	// ErrCommissionPaid is returned when an operation would alter a paid
	// commission. Paid commissions are immutable.
	ErrCommissionPaid = errors.New("paid commissions cannot be modified")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError reports the offending (status, action) pair.
type TransitionError struct {
	Status Status
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("action %q is not allowed while status is %q", e.Action, e.Status)
}

// PermissionError reports an actor lacking the role an action requires.
type PermissionError struct {
	Actor  string
	Action Action
	Need   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("actor %s may not %s: requires %s", e.Actor, e.Action, e.Need)
}

// ValidationError names the offending field and the expected contract.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Message)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var ve *ValidationError
	var te *TransitionError
	return errors.As(err, &ve) || errors.As(err, &te)
}

// IsPermission returns true for role failures.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCommissionNotFound) || errors.Is(err, ErrDealNotFound)
}

// IsConflict returns true for uniqueness and optimistic-lock failures.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateDeal) || errors.Is(err, ErrStaleStatus)
}
