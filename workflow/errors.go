/*
errors.go - Error taxonomy for the replenishment workflow

PURPOSE:
  All workflow error types in one place. Callers branch on category with
  errors.Is against the sentinels; the API layer maps categories to HTTP
  status codes (validation/state -> 400, permission -> 403, not found -> 404,
  conflict -> 409).

CATEGORIES:
  ValidationError:   Malformed or missing input (empty reject reason,
                     non-positive quantity, unresolvable reference).
  PermissionError:   The actor may not trigger this transition on this
                     request.
  InvalidStateError: The transition is not legal from the request's current
                     status. The message is user-fixable ("only pending
                     requests can be approved").
  NotFoundError:     The request id does not resolve.
  ConflictError:     A concurrent writer won (identifier generation retries
                     exhausted, or the status changed mid-transition).
                     Safe to retry.

USAGE:
    if errors.Is(err, workflow.ErrInvalidState) { ... }

    var verr *workflow.ValidationError
    if errors.As(err, &verr) { ... }
*/
package workflow

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrPermission marks an actor lacking rights for a transition.
	ErrPermission = errors.New("permission denied")

	// ErrInvalidState marks a transition attempted from a status that does
	// not permit it.
	ErrInvalidState = errors.New("invalid request state")

	// ErrNotFound marks an unresolvable request id.
	ErrNotFound = errors.New("request not found")

	// ErrConflict marks a lost race with a concurrent writer. Retryable.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrDuplicateNumber is returned by stores when an insert collides with
	// an existing request/shipment number. The engine retries generation a
	// bounded number of times before surfacing ErrConflict.
	ErrDuplicateNumber = errors.New("duplicate identifier")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PermissionError reports a denied access-policy check.
type PermissionError struct {
	Msg string
}

func (e *PermissionError) Error() string { return e.Msg }
func (e *PermissionError) Unwrap() error { return ErrPermission }

func NewPermissionError(format string, args ...any) *PermissionError {
	return &PermissionError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports a transition attempted from the wrong status.
// Msg is user-facing and names the precondition.
type InvalidStateError struct {
	Msg     string
	Current Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s (current status: %s)", e.Msg, e.Current)
}
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func NewInvalidStateError(msg string, current Status) *InvalidStateError {
	return &InvalidStateError{Msg: msg, Current: current}
}

// NotFoundError reports an unresolvable id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError reports an exhausted retry loop or optimistic-lock failure.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }
func (e *ConflictError) Unwrap() error { return ErrConflict }

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// StatusMismatchError is returned by Store.Transition when the request's
// status no longer matches the expected precondition. The engine converts it
// into an operation-specific InvalidStateError.
type StatusMismatchError struct {
	Expected Status
	Current  Status
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("status precondition failed: expected %s, found %s", e.Expected, e.Current)
}
func (e *StatusMismatchError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed when retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to caller input or timing,
// not a server fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrPermission) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing request.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
