package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a backend failure for the fallback mesh.
type ErrorCode string

const (
	// ErrCodeUnavailable marks a backend disabled by configuration.
	// This is a capability statement, not a runtime failure.
	ErrCodeUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// ErrCodeTimeout marks a backend call that exceeded its deadline.
	ErrCodeTimeout ErrorCode = "BACKEND_TIMEOUT"

	// ErrCodeProtocol marks a malformed or unexpected response shape.
	ErrCodeProtocol ErrorCode = "BACKEND_PROTOCOL"

	// ErrCodePartialArchive marks an archive batch that partly failed.
	ErrCodePartialArchive ErrorCode = "PARTIAL_ARCHIVE"

	// ErrCodeNotFound is exchanged between a backend and the mesh when a
	// record does not exist in that tier. It never crosses the mesh
	// boundary: callers observe nil, not an error.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is the structured error exchanged between backends and the mesh.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Backend   string    `json:"backend,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithBackend tags the error with the failing tier's name.
func (e *Error) WithBackend(name string) *Error {
	e.Backend = name
	return e
}

// WithRetryable marks whether a retry against the same tier could help.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the code from an error chain, or "".
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a per-tier miss.
func IsNotFound(err error) bool {
	return GetErrorCode(err) == ErrCodeNotFound
}

// IsUnavailable reports whether err marks a tier disabled by configuration.
func IsUnavailable(err error) bool {
	return GetErrorCode(err) == ErrCodeUnavailable
}

// IsTimeout reports whether err marks an exceeded per-backend deadline.
func IsTimeout(err error) bool {
	return GetErrorCode(err) == ErrCodeTimeout
}
