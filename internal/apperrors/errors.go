package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers at the API boundary.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindConflict           Kind = "conflict"
	KindBookingRestriction Kind = "booking_restriction"
	KindNotFound           Kind = "not_found"
	KindAssignment         Kind = "assignment"
	KindResourceShortfall  Kind = "resource_shortfall"
	KindForbidden          Kind = "forbidden"
	KindInternal           Kind = "internal"
)

// Error is the application error carried out of the scheduling core.
// Detail holds a structured payload (for example a conflict report) that
// handlers render next to the message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a structured payload and returns the same error.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Validationf(code, format string, args ...any) *Error {
	return Validation(code, fmt.Sprintf(format, args...))
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func BookingRestriction(code, message string) *Error {
	return &Error{Kind: KindBookingRestriction, Code: code, Message: message}
}

// NotFound wraps a repository sentinel so errors.Is keeps working.
func NotFound(code string, err error) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: err.Error(), Err: err}
}

func Assignment(code, message string) *Error {
	return &Error{Kind: KindAssignment, Code: code, Message: message}
}

func ResourceShortfall(message string) *Error {
	return &Error{Kind: KindResourceShortfall, Code: "resource_shortfall", Message: message}
}

// Forbidden is raised outside the core, by the access checks of the API layer.
func Forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: message, Err: err}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf returns the machine code of err, or "internal_error".
func CodeOf(err error) string {
	if appErr, ok := As(err); ok && appErr.Code != "" {
		return appErr.Code
	}
	return "internal_error"
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
