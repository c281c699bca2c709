/*
errors.go - Centralized error types for the tenancy financial engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these; the HTTP layer maps them with errors.As.

ERROR CATEGORIES:
  1. Validation - Rejected before any write
  2. Not found  - Record absent in the caller's agency scope
  3. Conflict   - Bedroom already actively reserved, schedule already generated
  4. State      - Transition not permitted from the current status
  5. Overpayment - Payment would push a line past its amount due

USAGE:
    var conflict *lettings.ReservationConflictError
    if errors.As(err, &conflict) {
        fmt.Printf("held by %s until %s\n", conflict.ApplicantName, conflict.ExpiresAt)
    }

SEE ALSO:
  - deposit/service.go: Returns StateError and ReservationConflictError
  - rent/ledger.go: Returns OverpaymentError
  - api/handlers.go: HTTP status mapping
*/
package lettings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a record is absent in the agency scope.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState is returned for a transition the current status forbids.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrOverpayment is returned when payments would exceed the amount due.
	ErrOverpayment = errors.New("payment exceeds amount due")

	// ErrActiveReservation is the store-level signal that the one-active-
	// reservation-per-bedroom constraint fired.
	ErrActiveReservation = errors.New("bedroom already has an active reservation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing kind of record.
type NotFoundError struct {
	Kind string // "application", "bedroom", "deposit", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound is shorthand for a *NotFoundError.
func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// ConflictError is a generic uniqueness conflict.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ReservationConflictError carries enough detail for an operator to resolve
// a double booking without another lookup.
type ReservationConflictError struct {
	BedroomID     BedroomID
	DepositID     DepositID
	ApplicantName string
	ExpiresAt     time.Time
}

func (e *ReservationConflictError) Error() string {
	return fmt.Sprintf("bedroom %s is reserved by %s until %s (deposit %s)",
		e.BedroomID, e.ApplicantName, e.ExpiresAt.UTC().Format(DateLayout), e.DepositID)
}

func (e *ReservationConflictError) Unwrap() error { return ErrConflict }

// StateError reports the current status and the statuses the operation needs.
type StateError struct {
	Op       string
	Current  DepositStatus
	Required []DepositStatus
}

func (e *StateError) Error() string {
	required := make([]string, len(e.Required))
	for i, s := range e.Required {
		required[i] = string(s)
	}
	return fmt.Sprintf("cannot %s: deposit is %s, requires %s",
		e.Op, e.Current, strings.Join(required, " or "))
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// OverpaymentError details the rejected amount.
type OverpaymentError struct {
	ScheduleID  ScheduleID
	AmountDue   decimal.Decimal
	AlreadyPaid decimal.Decimal
	Attempted   decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s on %s exceeds outstanding %s (due %s, paid %s)",
		e.Attempted.StringFixed(MoneyPlaces), e.ScheduleID, e.Outstanding().StringFixed(MoneyPlaces),
		e.AmountDue.StringFixed(MoneyPlaces), e.AlreadyPaid.StringFixed(MoneyPlaces))
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// Outstanding is what could still be paid.
func (e *OverpaymentError) Outstanding() decimal.Decimal {
	return e.AmountDue.Sub(e.AlreadyPaid)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrOverpayment)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
