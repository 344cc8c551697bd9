package host

import (
	"errors"
	"fmt"
)

// Common host errors
var (
	// ErrEventInactive indicates an event method was called after dispatch
	// finished and no lifetime extension is pending
	ErrEventInactive = errors.New("event is no longer active")

	// ErrAlreadyResponded indicates RespondWith was called twice
	ErrAlreadyResponded = errors.New("fetch event already responded")

	// ErrNoResponse indicates a RespondWith promise settled without a response
	ErrNoResponse = errors.New("respondWith settled without a response")
)

// ErrorCode identifies specific host error types
type ErrorCode string

const (
	// Lifecycle errors
	ErrorCodeInstallFailed  ErrorCode = "INSTALL_FAILED"
	ErrorCodeInstallTimeout ErrorCode = "INSTALL_TIMEOUT"
	ErrorCodeNotInstalled   ErrorCode = "NOT_INSTALLED"

	// Request errors
	ErrorCodeFetchFailed ErrorCode = "FETCH_FAILED"
)

// Error represents a host error with additional context
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new host error
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	e.Context[key] = value
	return e
}

// IsRetryable returns true if the host may try the operation again later
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrorCodeInstallFailed,
		ErrorCodeInstallTimeout:
		return true
	default:
		return false
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var he *Error
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}
