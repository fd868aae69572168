// Package errors provides error handling for scribeq.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, sql.ErrNoRows) {
//	    // handle not found
//	}
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
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
)

// Sentinel errors for the job scheduler.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested job does not exist
	ErrNotFound = New("job not found")

	// ErrInvalidTransition indicates a user action illegal for the job's
	// current status (e.g. cancel on a processing job). This is a client
	// error: the job record is left unchanged.
	ErrInvalidTransition = New("invalid status transition")

	// ErrConflictRetryExhausted indicates a store transaction kept
	// colliding with concurrent writers past the bounded retry budget.
	// The operation may be retried by the caller; job state is unchanged.
	ErrConflictRetryExhausted = New("transaction conflict retries exhausted")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidTransition checks if an error is or wraps ErrInvalidTransition.
// Callers should report these as rejected requests, not system faults.
func IsInvalidTransition(err error) bool {
	return err != nil && Is(err, ErrInvalidTransition)
}

// IsTransient checks if an error represents a retryable store conflict.
// Callers must not mark a job failed on a transient error alone.
func IsTransient(err error) bool {
	return err != nil && Is(err, ErrConflictRetryExhausted)
}

// NewNotFound creates a not-found error with a formatted message.
func NewNotFound(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidTransition creates an invalid-transition error with a
// formatted message describing the rejected action.
func NewInvalidTransition(format string, args ...interface{}) error {
	return Wrap(ErrInvalidTransition, Newf(format, args...).Error())
}
