package session

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorNotFound          ErrorCode = "NOT_FOUND"
	ErrorReferenceNotFound ErrorCode = "REFERENCE_NOT_FOUND"
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorInternal          ErrorCode = "INTERNAL"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("session: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("session: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of a session error, or ErrorInternal for any other
// non-nil error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrorInternal
}
