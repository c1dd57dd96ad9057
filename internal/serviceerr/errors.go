package serviceerr

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeValidation      Code = "VALIDATION"
	CodeFlowExpired     Code = "FLOW_EXPIRED"
	CodeProtocolError   Code = "PROTOCOL_ERROR"
	CodeConversionError Code = "CONVERSION_ERROR"
	CodePackagingError  Code = "PACKAGING_ERROR"
	CodeDeliveryError   Code = "DELIVERY_ERROR"

	// Custom codes
	CodeNotFound Code = "NOT_FOUND"
	CodeUnknown  Code = "UNKNOWN"
)

// Error is a service error carrying a stable code for the callers and an
// optional human readable description.
type Error struct {
	Err         Code
	Description string
	Cause       error
}

var (
	ErrUnknown     = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrFlowExpired = &Error{Err: CodeFlowExpired, Description: "authentication flow expired or unknown"}
	ErrNotFound    = &Error{Err: CodeNotFound, Description: "not found"}
)

// New returns a service error with the given code and description.
func New(code Code, description string) *Error {
	return &Error{Err: code, Description: description}
}

// Wrap returns a service error with the given code. The description is taken
// from the cause.
func Wrap(code Code, cause error) *Error {
	e := &Error{Err: code, Cause: cause}
	if cause != nil {
		e.Description = cause.Error()
	}

	return e
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a service error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Err == e.Err
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeValidation, CodeFlowExpired, CodeProtocolError, CodeConversionError:
		return http.StatusBadRequest
	case CodePackagingError:
		return http.StatusInternalServerError
	case CodeDeliveryError:
		return http.StatusBadGateway
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the code of the first service error in the chain of err,
// CodeUnknown otherwise.
func CodeOf(err error) Code {
	var serviceErr *Error
	if !errors.As(err, &serviceErr) {
		return CodeUnknown
	}

	return serviceErr.Err
}
