// Package apperr defines the error codes surfaced to chat clients.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable, client-visible error code
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeSessionBusy     Code = "SESSION_BUSY"
	CodeAccessDenied    Code = "ACCESS_DENIED"
	CodeProviderTimeout Code = "PROVIDER_TIMEOUT"
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
)

// Error is an error that is safe to show to the client
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a client-safe error
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and client-safe message to an internal error
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Validation creates a VALIDATION_ERROR
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Busy creates a SESSION_BUSY error
func Busy() *Error {
	return New(CodeSessionBusy, "a request is already in progress for this session")
}

// Internal converts any error into a generic INTERNAL_ERROR
func Internal(err error) *Error {
	return Wrap(CodeInternal, "something went wrong while preparing the answer, please try again", err)
}

// CodeOf extracts the code from err. Unknown errors map to INTERNAL_ERROR.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Public returns the code and a message that never leaks internal details
func Public(err error) (Code, string) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code, appErr.Message
	}
	return CodeInternal, Internal(nil).Message
}
