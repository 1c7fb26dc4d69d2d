package tmsearch

import (
	"errors"
	"fmt"
)

const (
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeUnavailable  = "unavailable"
	CodeTimeout      = "timeout"
	CodeRejected     = "rejected"
	CodeInternal     = "internal"
)

type Error struct {
	Code      string
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so sentinels compare against wrapped instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

var (
	// ErrSearchRunning is the policy denial for a second concurrent workflow.
	ErrSearchRunning = &Error{Code: CodeRejected, Message: "search already running"}
	// ErrUnauthorized covers a missing token and a 401 from the cache.
	ErrUnauthorized = &Error{Code: CodeUnauthorized}
)

func NewUnauthorizedError(message string, err error) error {
	return &Error{Code: CodeUnauthorized, Message: message, Err: err}
}

func NewUnavailableError(message string, err error) error {
	return &Error{Code: CodeUnavailable, Message: message, Transient: true, Err: err}
}

func NewTimeoutError(message string, err error) error {
	return &Error{Code: CodeTimeout, Message: message, Transient: true, Err: err}
}

func NewValidationError(message string) error {
	return &Error{Code: CodeValidation, Message: message}
}

// ErrorCode returns the code of the first *Error in err's chain, or
// CodeInternal.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StageError ties a failure to the workflow stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
