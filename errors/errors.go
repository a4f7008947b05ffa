// Package errors provides error handling for dmypyls.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details that survive wrapping
//
// Usage:
//
//	if err := sup.Start(root); err != nil {
//	    return errors.Wrap(err, "failed to start dmypy")
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "is dmypy on PATH?")
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
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

// Assertions
var (
	AssertionFailedf                 = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
	IsAssertionFailure               = crdb.IsAssertionFailure
)

// Generic sentinels. Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")
)

// Worker lifecycle and analysis sentinels.
var (
	// ErrWorkerNotReady is returned when an analysis command is attempted before
	// the worker's launch command has completed.
	ErrWorkerNotReady = Wrap(ErrServiceUnavailable, "dmypy worker not ready")

	// ErrAlreadyStarted is returned by Start when the worker is already starting or ready.
	ErrAlreadyStarted = New("dmypy worker already started")

	// ErrNoRootPath is returned when a worker command needs a workspace root that was never set.
	ErrNoRootPath = New("workspace root path not set")

	// ErrRootAlreadySet is returned when a session tries to set its root path twice.
	ErrRootAlreadySet = New("workspace root path already set")

	// ErrMalformedDefinition is an internal error: the worker output matched the
	// definition pattern but its line or column could not be parsed.
	ErrMalformedDefinition = New("malformed definition match in worker output")
)

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsServiceUnavailableError checks if an error is or wraps ErrServiceUnavailable
func IsServiceUnavailableError(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// IsWorkerNotReady checks if an error is or wraps ErrWorkerNotReady
func IsWorkerNotReady(err error) bool {
	return err != nil && Is(err, ErrWorkerNotReady)
}

// IsMalformedDefinition checks if an error is or wraps ErrMalformedDefinition
func IsMalformedDefinition(err error) bool {
	return err != nil && Is(err, ErrMalformedDefinition)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewMalformedDefinitionError wraps ErrMalformedDefinition with the offending match text
// and the parse error as a secondary cause.
func NewMalformedDefinitionError(match string, cause error) error {
	err := WithDetailf(ErrMalformedDefinition, "match: %q", match)
	if cause != nil {
		err = WithSecondaryError(err, cause)
	}
	return WithStack(err)
}
