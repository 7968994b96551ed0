package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound           ErrorType = "NOT_FOUND"
	ErrorTypeValidation         ErrorType = "VALIDATION"
	ErrorTypeInvariantViolation ErrorType = "INVARIANT_VIOLATION"
	ErrorTypePreconditionFailed ErrorType = "PRECONDITION_FAILED"
	ErrorTypeInternal           ErrorType = "INTERNAL"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

// InvariantViolation reports misuse of a structure, such as iterating a tree
// that is not normalized. Callers should not retry.
func InvariantViolation(message string) *Error {
	return &Error{
		Type:    ErrorTypeInvariantViolation,
		Message: message,
		Code:    http.StatusInternalServerError,
	}
}

func PreconditionFailed(message string) *Error {
	return &Error{
		Type:    ErrorTypePreconditionFailed,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func Internal(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Code:    http.StatusInternalServerError,
		cause:   cause,
	}
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// Is reports whether any error in err's chain is an *Error of type t.
func Is(err error, t ErrorType) bool {
	var e *Error
	for err != nil {
		if stderrors.As(err, &e) {
			if e.Type == t {
				return true
			}
			err = e.cause
			continue
		}
		return false
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 500.
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}

// AsError returns the *Error in err's chain, carrying the full message of
// err. Errors outside this package become Internal.
func AsError(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		c := *e
		c.Message = err.Error()
		return &c
	}
	return Internal(err.Error(), err)
}
