package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error codes
// ---------------------------------------------------------------------------

// ErrorCode classifies runtime failures and throw statuses.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	CodeFull
	CodeMalformed
	CodeUnresolved
	CodeRuntime
	CodeTimeout
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeFull:
		return "full"
	case CodeMalformed:
		return "malformed"
	case CodeUnresolved:
		return "unresolved"
	case CodeRuntime:
		return "runtime"
	case CodeTimeout:
		return "timeout"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a status returned to the host or to a caller inside an actor.
// Two Errors match under errors.Is when their codes are equal.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrFull       = &Error{Code: CodeFull}
	ErrMalformed  = &Error{Code: CodeMalformed}
	ErrUnresolved = &Error{Code: CodeUnresolved}
	ErrRuntime    = &Error{Code: CodeRuntime}
	ErrTimeout    = &Error{Code: CodeTimeout}
)

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode carried by err. Errors that carry none map to
// CodeRuntime; nil maps to CodeNone.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	var th *Throw
	if errors.As(err, &th) {
		return th.Code
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeRuntime
}

// ---------------------------------------------------------------------------
// Throw: an unwind in flight
// ---------------------------------------------------------------------------

// Throw is returned up the Go call chain while an actor unwinds to its
// innermost recovery point. The payload has already been recorded on the
// catch record; Throw carries only the status.
type Throw struct {
	Code ErrorCode
}

func (t *Throw) Error() string {
	return "thrown: " + t.Code.String()
}

func isThrow(err error) bool {
	var th *Throw
	return errors.As(err, &th)
}
