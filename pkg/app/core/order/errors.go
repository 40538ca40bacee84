package order

import (
	"errors"
	"fmt"
)

// Code classifies a trade error for machine-readable reporting and HTTP
// mapping at the API boundary.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeEngineRejected    Code = "ENGINE_REJECTED"
	CodeEngineUnavailable Code = "ENGINE_UNAVAILABLE"
)

// Error is the typed error for everything user-visible in the order
// lifecycle. Engine failures wrap the underlying cause.
type Error struct {
	Code   Code
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Reason: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Reason: fmt.Sprintf(format, args...)}
}

func InvalidStatef(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Reason: fmt.Sprintf(format, args...)}
}

func EngineRejected(reason string) *Error {
	return &Error{Code: CodeEngineRejected, Reason: reason}
}

func EngineUnavailable(reason string, cause error) *Error {
	return &Error{Code: CodeEngineUnavailable, Reason: reason, cause: cause}
}

// CodeOf extracts the error code, or "" for untyped errors.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// ReasonOf extracts the machine-readable reason, falling back to Error().
func ReasonOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
