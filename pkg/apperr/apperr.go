// Package apperr is the error taxonomy shared by the ledger and billing
// services. Handlers map kinds to HTTP status codes with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("conflict")
	ErrAuthorization = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
)

// ErrOptimisticLock a versioned record was modified by another operation.
var ErrOptimisticLock = errors.New("record was modified by another operation, please retry")

// Error carries a human-readable reason plus its kind.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool { return target == e.Kind }

// Unwrap exposes the kind so errors.Is/As walk through it.
func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation malformed or out-of-policy input.
func Validation(format string, args ...any) error {
	return newError(ErrValidation, format, args...)
}

// Conflict a uniqueness or exclusivity constraint is already satisfied.
func Conflict(format string, args ...any) error {
	return newError(ErrConflict, format, args...)
}

// Forbidden the actor lacks rights over the target record.
func Forbidden(format string, args ...any) error {
	return newError(ErrAuthorization, format, args...)
}

// NotFound the referenced record does not exist.
func NotFound(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

// Message returns the human-readable reason of a taxonomy error, or
// fallback for anything else.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fallback
}

// IsDomain reports whether err belongs to the taxonomy as opposed to an
// unexpected persistence failure.
func IsDomain(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAuthorization) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrOptimisticLock)
}
