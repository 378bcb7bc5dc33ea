// Package errors provides the coded error taxonomy shared by the registry,
// the scheduler and the HTTP layer.
//
// Codes follow the format {domain}.{error} and are stable, so device firmware
// and admin tooling can branch on them. The message is for humans.
package errors

import (
	"errors"
	"fmt"
)

const (
	CodeInvalidInput = "request.invalid_input" // Malformed id, out-of-range hour/minute, bad body
	CodeConflict     = "device.already_exists" // Duplicate device id
	CodeNotFound     = "resource.not_found"    // Unknown device or task
	CodeUnauthorized = "auth.unauthorized"     // Bad credential or expired session
	CodeInvalidState = "state.invalid"         // Rejected by a domain guard
	CodeInternal     = "error.internal"        // Anything unexpected
	CodeUnknown      = "error.unknown"
)

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// GetCode extracts the error code from an error, CodeUnknown if it carries none.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// ToCodeAndMessage extracts both code and message from an error.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}
	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// InvalidInput creates a "request.invalid_input" error.
func InvalidInput(format string, args ...any) *CodedError {
	return New(CodeInvalidInput, fmt.Sprintf(format, args...))
}

// Conflict creates a "device.already_exists" error.
func Conflict(deviceID string) *CodedError {
	return New(CodeConflict, fmt.Sprintf("device %s already exists", deviceID))
}

// NotFound creates a "resource.not_found" error.
func NotFound(resource string) *CodedError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// Unauthorized creates an "auth.unauthorized" error. The message never says
// which part of the credential was wrong.
func Unauthorized() *CodedError {
	return New(CodeUnauthorized, "invalid or expired credentials")
}

// InvalidState creates a "state.invalid" error carrying the guard's reason.
func InvalidState(reason string) *CodedError {
	return New(CodeInvalidState, reason)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
