/*
errors.go - Centralized error types for the passbook engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Callers use errors.Is against the sentinels; structured errors carry
  context and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Validation errors   - malformed input, rejected before any mutation
  2. Invariant violations - specific codes so callers render a precise message
  3. Not-found errors    - unknown member/scheme/enrollment/entry ids

SEE ALSO:
  - ledger.go: raises invariant violations on append/update/remove
  - lifting.go: raises AlreadyLifted/InvalidLiftingDate
  - api/handlers.go: maps these to HTTP statuses via Code/IsInvariantViolation
*/
package passbook

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrChitValueExceeded is returned when appending an entry would push the
	// cumulative paid amount of an enrollment past its scheme's chit value.
	ErrChitValueExceeded = errors.New("chit value exceeded")

	// ErrDuplicateLifting is returned when a second lifting entry is appended
	// to an enrollment's ledger. A member lifts the chit at most once.
	ErrDuplicateLifting = errors.New("duplicate lifting entry")

	// ErrAlreadyLifted is returned by the lifting handler when the enrollment
	// already has a lifting on record.
	ErrAlreadyLifted = errors.New("enrollment already lifted")

	// ErrInvalidLiftingDate is returned when a lifting date precedes the
	// enrollment start or the latest schedule version.
	ErrInvalidLiftingDate = errors.New("invalid lifting date")

	// ErrImmutableEntry is returned when editing or deleting a GENERATED entry.
	ErrImmutableEntry = errors.New("generated entries are immutable")

	// ErrNoActiveSchedule is returned when asking for the active schedule
	// version on a date before the enrollment start.
	ErrNoActiveSchedule = errors.New("no active schedule version")

	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// Not-found sentinels.
	ErrMemberNotFound     = errors.New("member not found")
	ErrSchemeNotFound     = errors.New("scheme not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrEntryNotFound      = errors.New("ledger entry not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ChitValueExceededError reports how far an append overshoots the chit value.
type ChitValueExceededError struct {
	EnrollmentID EnrollmentID
	ChitValue    decimal.Decimal
	AlreadyPaid  decimal.Decimal
	Attempted    decimal.Decimal
}

func (e *ChitValueExceededError) Error() string {
	return fmt.Sprintf("chit value exceeded for %s: paid %s + attempted %s > chit value %s",
		e.EnrollmentID, e.AlreadyPaid, e.Attempted, e.ChitValue)
}

func (e *ChitValueExceededError) Unwrap() error { return ErrChitValueExceeded }

// InvalidLiftingDateError explains which boundary the lifting date violated.
type InvalidLiftingDateError struct {
	EnrollmentID EnrollmentID
	LiftingDate  Date
	Boundary     Date
	Reason       string // "before enrollment start" or "before latest schedule version"
}

func (e *InvalidLiftingDateError) Error() string {
	return fmt.Sprintf("invalid lifting date %s for %s: %s (%s)",
		e.LiftingDate, e.EnrollmentID, e.Reason, e.Boundary)
}

func (e *InvalidLiftingDateError) Unwrap() error { return ErrInvalidLiftingDate }

// ValidationError reports a field-level input problem. It is raised before
// any mutation takes place.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsInvariantViolation returns true for the invariant errors that map to a
// conflict response: the caller's request was well-formed but contradicts
// ledger or schedule state.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrChitValueExceeded) ||
		errors.Is(err, ErrDuplicateLifting) ||
		errors.Is(err, ErrAlreadyLifted) ||
		errors.Is(err, ErrInvalidLiftingDate) ||
		errors.Is(err, ErrImmutableEntry)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrSchemeNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsValidation returns true if the error is due to invalid client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Code returns a stable machine-readable code for an engine error, so API
// callers can render a precise message.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrChitValueExceeded):
		return "CHIT_VALUE_EXCEEDED"
	case errors.Is(err, ErrDuplicateLifting):
		return "DUPLICATE_LIFTING"
	case errors.Is(err, ErrAlreadyLifted):
		return "ALREADY_LIFTED"
	case errors.Is(err, ErrInvalidLiftingDate):
		return "INVALID_LIFTING_DATE"
	case errors.Is(err, ErrImmutableEntry):
		return "IMMUTABLE_ENTRY"
	case errors.Is(err, ErrNoActiveSchedule):
		return "NO_ACTIVE_SCHEDULE"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case IsNotFound(err):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
