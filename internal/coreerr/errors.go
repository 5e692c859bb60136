// Package coreerr defines the typed error taxonomy used throughout the
// scheduling core so callers can dispatch on error kind with errors.As
// instead of matching on message text.
package coreerr

import "fmt"

// Kind identifies which category of failure an error belongs to.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindIllegalState    Kind = "illegal_state"
	KindForbidden       Kind = "forbidden"
	KindStoreUnavailable Kind = "store_unavailable"
	KindInternal        Kind = "internal"
)

// Error is a typed failure carrying the operation that failed, the
// component that raised it, the resource involved, and an optional cause.
type Error struct {
	Kind      Kind
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: failed to %s", e.Kind, e.Operation)
	if e.Component != "" {
		msg += fmt.Sprintf(", component: %s", e.Component)
	}
	if e.Resource != "" {
		msg += fmt.Sprintf(", resource: %s", e.Resource)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(", cause: %s", e.Cause)
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newErr(kind Kind, operation, component, resource string, cause error) *Error {
	return &Error{Kind: kind, Operation: operation, Component: component, Resource: resource, Cause: cause}
}

// Validation reports malformed caller input; no state is changed.
func Validation(operation, resource string, cause error) *Error {
	return newErr(KindValidation, operation, "", resource, cause)
}

// NotFound reports that a referenced entity does not exist.
func NotFound(operation, component, resource string) *Error {
	return newErr(KindNotFound, operation, component, resource, nil)
}

// Conflict reports a concurrent race the caller lost (e.g. job already claimed).
func Conflict(operation, component, resource string, cause error) *Error {
	return newErr(KindConflict, operation, component, resource, cause)
}

// IllegalState reports a requested transition not permitted from the current state.
func IllegalState(operation, component, resource string, cause error) *Error {
	return newErr(KindIllegalState, operation, component, resource, cause)
}

// Forbidden reports an authorization-like mismatch (e.g. a non-owning agent
// attempting to complete a job it was not assigned).
func Forbidden(operation, component, resource string) *Error {
	return newErr(KindForbidden, operation, component, resource, nil)
}

// StoreUnavailable reports a backend I/O failure.
func StoreUnavailable(operation, component string, cause error) *Error {
	return newErr(KindStoreUnavailable, operation, component, "", cause)
}

// Internal reports a programmer error or invariant violation.
func Internal(operation, component string, cause error) *Error {
	return newErr(KindInternal, operation, component, "", cause)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	return e.Kind == kind
}

// asError is a small local errors.As wrapper kept here to avoid importing
// the standard errors package into every call site that just wants Is.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
