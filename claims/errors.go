/*
errors.go - Centralized error types for the claims engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP status codes.

ERROR CATEGORIES:
  1. Not-found errors - Missing claims or users
  2. Validation errors - Invalid amounts, invalid status transitions
  3. Concurrency errors - Optimistic version conflicts
  4. Authorization errors - Caller lacks the required capability

USAGE:
  Store implementations return these sentinels; callers test with errors.Is:

    if errors.Is(err, claims.ErrClaimNotFound) { ... }

SEE ALSO:
  - store.go: Interfaces whose implementations return these errors
  - settlement.go: Propagation policy during settlement
*/
package claims

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrClaimNotFound is returned when a referenced claim doesn't exist.
	ErrClaimNotFound = errors.New("claim not found")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	// Also covers referential integrity: a claim must reference an existing owner.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidAmount is returned when an amount is negative or unparseable.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrConcurrentModification is returned when optimistic versioning detects
	// that a claim changed between read and write-back.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateUsername is returned when creating a user whose username is taken.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrForbidden is returned when the caller lacks the capability for an action.
	ErrForbidden = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidTransitionError reports an attempted status transition that the
// lifecycle does not allow (e.g. rejecting an already-paid claim).
type InvalidTransitionError struct {
	ClaimID int64
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("claim %d: invalid transition %s -> %s", e.ClaimID, e.From, e.To)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClaimNotFound) || errors.Is(err, ErrUserNotFound)
}

// IsConflict returns true if the error indicates a write conflict the caller
// may retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrDuplicateUsername)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var transition *InvalidTransitionError
	return errors.Is(err, ErrInvalidAmount) || errors.As(err, &transition)
}
