// Package errors provides the structured error type surfaced to API callers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Well-known error kinds produced by the orchestration core.
const (
	KindBusNotRunning          = "BusNotRunning"
	KindInvalidStateTransition = "InvalidStateTransition"
	KindValidationFailed       = "ValidationFailed"
	KindNotFound               = "NotFound"
	KindBadRequest             = "BadRequest"
	KindInternal               = "Internal"
)

// FieldError describes a single rejected field in a request or a single
// collaborator rejection during trade validation.
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

// Error carries a machine-readable kind alongside the human-readable message.
type Error struct {
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`

	cause error
}

var _ error = (*Error)(nil)

func New(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind string, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), cause: cause}
}

func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// WithField returns a copy of the error with an additional field error.
func (e *Error) WithField(kind, field, message string) *Error {
	err := *e
	err.Fields = append(err.Fields, FieldError{Kind: kind, Field: field, Message: message})
	return &err
}

// Is matches on kind so callers can compare against sentinel kinds without
// caring about the message.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// HTTPStatus maps an error kind to the status code the API layer responds
// with. Unknown kinds are treated as internal errors.
func HTTPStatus(err error) int {
	var e *Error
	if !As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindInvalidStateTransition:
		return http.StatusConflict
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindBusNotRunning:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
