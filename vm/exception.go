package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Recovery points
// ---------------------------------------------------------------------------

// catchRecord is a recovery point installed by Try or PCall. Records form a
// stack per actor linked through prev; the innermost is a.catches.
type catchRecord struct {
	sp     int
	frame  *Frame
	prev   *catchRecord
	status ErrorCode

	// payload is the thrown value. When the heap could not hold an error
	// message at throw time, text keeps it until the unwind has released
	// the failed attempt's garbage.
	payload Value
	text    string
}

// Try runs f under a recovery point. If f completes, nil is pushed and
// CodeNone returned. If f throws, the stack length and frame are restored
// to what they were when Try was entered, the thrown payload is pushed and
// the throw's code returned.
func (a *Actor) Try(f func(a *Actor) error) ErrorCode {
	return a.protect(a.stack.Len(), func() error {
		if err := f(a); err != nil {
			return err
		}
		return a.Push(Nil)
	})
}

// PCall is a protected Call: on success the callee and its arguments are
// replaced by the result, on a throw by the thrown payload. Either way the
// stack ends one value above the callee's slot.
func (a *Actor) PCall(nargs int) ErrorCode {
	base := a.stack.Len() - nargs - 1
	if base < a.frame.bp {
		base = a.frame.bp
	}
	return a.protect(base, func() error { return a.Call(nargs) })
}

func (a *Actor) protect(sp int, f func() error) ErrorCode {
	// the payload or nil result must fit without a fresh overflow
	if a.stack.Len() >= a.stack.Cap() {
		if err := a.stack.grow(a.stack.Len() + 1); err != nil {
			return CodeFull
		}
	}
	rec := &catchRecord{sp: sp, frame: a.frame, prev: a.catches}
	a.catches = rec
	err := a.guard(f)
	if err != nil && !isThrow(err) {
		err = a.asThrow(err)
	}
	a.catches = rec.prev
	if err == nil {
		return CodeNone
	}

	a.stack.SetLen(rec.sp)
	a.frame = rec.frame
	payload := rec.payload
	if rec.text != "" {
		payload = a.messageValue(rec.text)
	}
	_ = a.stack.Push(payload)
	return rec.status
}

// guard runs f, turning a Go panic into a runtime throw.
func (a *Actor) guard(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = a.raiseText(CodeRuntime, fmt.Sprint(r))
		}
	}()
	return f()
}

// ---------------------------------------------------------------------------
// Throwing
// ---------------------------------------------------------------------------

// Throw unwinds to the innermost recovery point with status ec. The top of
// the current frame, if any, is the payload. The returned error must be
// propagated up to the recovery point.
func (a *Actor) Throw(ec ErrorCode) error {
	payload := Nil
	if a.stack.Len() > a.frame.bp {
		payload = a.stack.Top()
		a.stack.SetLen(a.stack.Len() - 1)
	}
	return a.raise(ec, payload)
}

// Errorf throws a runtime error whose payload is the formatted message.
func (a *Actor) Errorf(format string, args ...any) error {
	return a.raiseText(CodeRuntime, fmt.Sprintf(format, args...))
}

func (a *Actor) raise(ec ErrorCode, payload Value) error {
	if ec == CodeNone {
		ec = CodeRuntime
	}
	rec := a.catches
	if rec == nil {
		a.exitWith(ec, payload)
		a.vm.hooks.panic(a, ec, payload)
		return &Throw{Code: ec}
	}
	rec.status = ec
	rec.payload = payload
	rec.text = ""
	a.vm.hooks.throw(a, ec)
	return &Throw{Code: ec}
}

// raiseText throws msg as a string payload. If the heap cannot hold the
// message now, it is allocated once the recovery point has unwound.
func (a *Actor) raiseText(ec ErrorCode, msg string) error {
	n := ObjectSize(wordSize + len(msg))
	if a.heap.Free() >= n {
		v, _ := a.heap.newBytes(TagString, []byte(msg))
		return a.raise(ec, v)
	}
	if a.catches == nil {
		a.exitWith(ec, Nil)
		v := a.messageValue(msg)
		a.stack.Set(0, v)
		a.vm.hooks.panic(a, ec, v)
		return &Throw{Code: ec}
	}
	err := a.raise(ec, Nil)
	a.catches.text = msg
	return err
}

// asThrow converts an ordinary error returned by host code into a throw.
func (a *Actor) asThrow(err error) error {
	if isThrow(err) {
		return err
	}
	var e *Error
	if errors.As(err, &e) && e.Code != CodeNone {
		msg := err.Error()
		if err == error(e) && e.Msg != "" {
			msg = e.Msg
		}
		return a.raiseText(e.Code, msg)
	}
	return a.raiseText(CodeRuntime, err.Error())
}

// messageValue allocates msg as a string, nil if the heap is exhausted.
func (a *Actor) messageValue(msg string) Value {
	if err := a.reserve(ObjectSize(wordSize + len(msg))); err != nil {
		return Nil
	}
	v, err := a.heap.newBytes(TagString, []byte(msg))
	if err != nil {
		return Nil
	}
	return v
}
