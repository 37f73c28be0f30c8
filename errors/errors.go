// Package errors provides error handling for jobpulse.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for operators
//
// and defines the sentinels the orchestration core classifies failures by.
//
// Usage:
//
//	if err := store.MarkCompleted(ctx, id); err != nil {
//	    return errors.Wrapf(err, "failed to complete timer %s", id)
//	}
//
//	if errors.IsConflictError(err) {
//	    // state conflict: benign, log and move on
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors. Wrap these with errors.Wrap() to add context while
// preserving the classification checked with errors.Is().
var (
	// ErrNotFound indicates the referenced application, workflow run, timer or document does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a state conflict: a second active workflow run,
	// or an action against an already terminal entity
	ErrConflict = New("state conflict")

	// ErrExternalService indicates the generation, email or storage service failed
	ErrExternalService = New("external service error")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrServiceUnavailable indicates a required service is not configured or reachable
	ErrServiceUnavailable = New("service unavailable")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflictError checks if an error is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsExternalServiceError checks if an error is or wraps ErrExternalService
func IsExternalServiceError(err error) bool {
	return err != nil && Is(err, ErrExternalService)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, fmt.Sprintf(format, args...))
}

// NewConflictError creates a state-conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Wrap(ErrConflict, fmt.Sprintf(format, args...))
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// NewExternalServiceError creates an error attributed to an external service.
// The message reads "service: message", followed by the sentinel text.
func NewExternalServiceError(service, message string) error {
	return Wrapf(ErrExternalService, "%s: %s", service, message)
}

// WrapExternalService marks err as coming from an external service.
func WrapExternalService(err error, service string) error {
	if err == nil {
		return nil
	}
	return WithSecondaryError(NewExternalServiceError(service, err.Error()), err)
}
