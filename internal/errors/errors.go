// Package errors provides coded errors for the canvas engine.
//
// Codes let callers separate the three failure families the engine knows
// about: invalid input (rejected before any mutation), replication failures
// (logged and retried, never surfaced to the mutator), and storage or
// configuration failures at the process edge.
//
//	err := errors.New(errors.ErrCodeInvalidInput, "node type %q is unknown", t)
//	if errors.Is(err, errors.ErrCodeInvalidInput) {
//	    // reject the request
//	}
package errors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"

	ErrCodeNotFound Code = "NOT_FOUND"

	ErrCodeNotConnected      Code = "NOT_CONNECTED"
	ErrCodeTransactionFailed Code = "TRANSACTION_FAILED"
	ErrCodeStorage           Code = "STORAGE_ERROR"

	ErrCodeUnauthorized Code = "UNAUTHORIZED"

	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an existing cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether any *Error in err's chain carries code.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode returns the outermost code in err's chain, or "".
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns the message without the code prefix.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Transient reports whether err is a replication failure worth retrying.
func Transient(err error) bool {
	return Is(err, ErrCodeNotConnected) || Is(err, ErrCodeTransactionFailed)
}
