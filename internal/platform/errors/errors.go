package errors

import (
	stderrors "errors"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message
	Status   int               // HTTP status when the error came from a response
	Metadata map[string]string // Additional context
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// FromResponse builds the error for a non-2xx response. A code reported by
// the server wins over the one derived from the status.
func FromResponse(status int, code Code, message string) *Error {
	if !code.Known() {
		code = FromHTTPStatus(status)
	}
	if message == "" {
		message = string(code)
	}
	return &Error{Code: code, Message: message, Status: status}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// Message returns the message of the first *Error in err's chain, or
// err.Error() for foreign errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Error()
	}
	return err.Error()
}
