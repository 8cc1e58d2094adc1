// Package apperr implements the engine's error taxonomy: Validation,
// NotFound, Conflict, Transient, Permanent, Internal. Each carries a
// stable Code so the Control API boundary can map it to an HTTP status
// without string-sniffing.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for propagation and HTTP mapping.
type Code string

const (
	CodeValidation Code = "VALIDATION"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeTransient  Code = "TRANSIENT"
	CodePermanent  Code = "PERMANENT"
	CodeInternal   Code = "INTERNAL"
)

// Error is the engine-wide error type. It wraps an optional underlying
// cause so errors.Is/errors.As keep working across the taxonomy.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error { return newf(CodeValidation, format, args...) }
func NotFoundf(format string, args ...any) *Error    { return newf(CodeNotFound, format, args...) }
func Conflictf(format string, args ...any) *Error    { return newf(CodeConflict, format, args...) }
func Transientf(format string, args ...any) *Error   { return newf(CodeTransient, format, args...) }
func Permanentf(format string, args ...any) *Error   { return newf(CodePermanent, format, args...) }
func Internalf(format string, args ...any) *Error    { return newf(CodeInternal, format, args...) }

// Wrap attaches code/message context to an existing error while
// preserving it as the Cause for errors.Is/As.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err, defaulting to CodeInternal when
// err is not (or does not wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
