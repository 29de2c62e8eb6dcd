/*
errors.go - Centralized error types for the lending engine

PURPOSE:
  All error types in one place. The API layer maps these to HTTP statuses
  and user-facing messages; the engine itself never formats for a user.

ERROR CATEGORIES:
  1. Caller errors    - Unauthorized, Forbidden
  2. Lookup errors    - NotFound
  3. Lifecycle errors - InvalidTransition, ConcurrentModification
  4. Input errors     - Validation
  5. Storage errors   - Datastore (opaque passthrough)

USAGE:
    if errors.Is(err, lending.ErrInvalidTransition) { ... }

    var verr *lending.ValidationError
    if errors.As(err, &verr) && verr.Code == lending.CodeItemInUse { ... }

SEE ALSO:
  - api/errors.go: HTTP mapping and localization
*/
package lending

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when an operation has no caller identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when an event is not legal from the
	// request's current status. No side effect has been applied.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation is returned for business-rule violations on input.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification is returned when a conditional write finds the
	// row changed since it was read. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrReferenced is returned by stores when a delete would orphan other rows.
	ErrReferenced = errors.New("row is still referenced")

	// ErrDatastore marks opaque storage failures.
	ErrDatastore = errors.New("datastore error")
)

// Validation codes carried by ValidationError.Code.
const (
	CodeInvalidQuantity   = "invalid_quantity"
	CodeInsufficientStock = "insufficient_stock"
	CodeInvalidPeriod     = "invalid_period"
	CodeReturnDatePast    = "return_date_past"
	CodeInvalidDate       = "invalid_date"
	CodeBelowBorrowed     = "below_borrowed"
	CodeItemInUse         = "item_in_use"
	CodeNameRequired      = "name_required"
	CodeInvalidAmount     = "invalid_amount"
	CodeExceedsBalance    = "exceeds_balance"
	CodeInvalidRole       = "invalid_role"
	CodeInvalidFilter     = "invalid_filter"
	CodeItemRequired      = "item_required"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing row.
type NotFoundError struct {
	Kind string // "item", "request", "profile", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransitionError is returned by Transition for an illegal (status, event) pair.
type TransitionError struct {
	RequestID RequestID
	From      Status
	Event     Event
}

func (e *TransitionError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("cannot %s a %s request", e.Event, e.From)
	}
	return fmt.Sprintf("cannot %s request %s: status is %s", e.Event, e.RequestID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError describes one rejected input.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DatastoreError wraps a storage failure that is not one of the sentinels.
type DatastoreError struct {
	Op  string
	Err error
}

func (e *DatastoreError) Error() string {
	return fmt.Sprintf("datastore %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying driver error.
func (e *DatastoreError) Unwrap() []error { return []error{ErrDatastore, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func notFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

func invalid(code, field, format string, args ...any) error {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller or its input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
