// Package errors provides coded errors for the marketplace service. Handlers
// map codes to HTTP statuses; the workflow engine returns these as values and
// never panics.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers.
type Code string

const (
	// CodeValidation marks malformed or incomplete user input.
	CodeValidation Code = "VALIDATION"
	// CodePermission marks a role/ownership/transition denial.
	CodePermission Code = "PERMISSION"
	// CodeConflict marks a state conflict detected at commit time, e.g. a
	// duplicate proposal or an organization that lost its qualification.
	CodeConflict Code = "CONFLICT"
	// CodeNotFound marks a missing resource.
	CodeNotFound Code = "NOT_FOUND"
	// CodeIntegrity marks an expected record missing mid-operation. It always
	// aborts the enclosing transaction.
	CodeIntegrity Code = "INTEGRITY"
	// CodeInternal marks everything else.
	CodeInternal Code = "INTERNAL"
)

// Error is a coded error with optional field-level detail.
type Error struct {
	Code    Code
	Message string
	Fields  map[string][]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// InvalidInput creates a validation error carrying field-level detail.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: message,
		Fields:  map[string][]string{field: {message}},
	}
}

// NotFound creates a not-found error for a resource.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s not found: %s", resource, id)
}

// Permission creates a permission denial.
func Permission(message string) *Error {
	return New(CodePermission, message)
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the HTTP status a handler should write.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodePermission:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeIntegrity, CodeInternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return CodeOf(err) == code }

// As delegates to the standard library.
func As(err error, target any) bool { return errors.As(err, target) }
