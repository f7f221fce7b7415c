package vm

import "time"

// Receive timeouts.
const (
	// DontWait makes Recv return ErrTimeout immediately when the mailbox
	// has nothing unread.
	DontWait time.Duration = 0
	// Forever makes Recv wait until a message arrives.
	Forever time.Duration = -1
)

// ---------------------------------------------------------------------------
// Message copy rules
// ---------------------------------------------------------------------------

// portable prepares v for transfer out of the sender's heap. Scalars travel
// by value; strings travel as their bytes and are re-allocated in the
// receiver's heap. Everything else stays private to its actor.
func (a *Actor) portable(v Value) (Value, []byte, error) {
	switch v.tag {
	case TagNil, TagBool, TagInt, TagReal, TagPID:
		return v, nil, nil
	case TagString:
		b, err := a.heap.bytesOf(v, TagString)
		if err != nil {
			return Nil, nil, err
		}
		return Value{tag: TagString}, append([]byte(nil), b...), nil
	}
	return Nil, nil, newError(CodeRuntime, "unsupported message type %s", v.tag)
}

// deliver appends a portable value to a's mailbox. It runs on the goroutine
// holding the turn of a's scheduler while a is not running.
func (a *Actor) deliver(v Value, text []byte) error {
	if !a.mailbox.canAccept() {
		return newError(CodeFull, "mailbox of pid %d is full", a.pid)
	}
	if v.tag == TagString {
		if err := a.reserve(ObjectSize(wordSize + len(text))); err != nil {
			return newError(CodeFull, "heap of pid %d cannot hold a %d byte message", a.pid, len(text))
		}
		s, err := a.heap.newBytes(TagString, text)
		if err != nil {
			return err
		}
		v = s
	}
	a.mailbox.append(v)
	a.hasInput = true
	return nil
}

// accepting reports whether a can still receive messages.
func (a *Actor) accepting() bool {
	return a.state == ActorRunning || a.state == ActorSuspended
}

// ---------------------------------------------------------------------------
// Actor messaging API
// ---------------------------------------------------------------------------

// Send copies v to the mailbox of the actor to. Messages to unknown or dead
// pids are dropped as dead letters. ErrFull is returned, not thrown, when
// the receiver or the outgoing queue cannot take the message; unsupported
// payloads throw.
func (a *Actor) Send(to PID, v Value) error {
	msg, text, err := a.portable(v)
	if err != nil {
		return a.asThrow(err)
	}
	owner, ok := a.vm.procs.Owner(to)
	if !ok {
		a.vm.deadLetter(to, "send")
		a.Charge(1)
		return nil
	}
	if owner != a.sched {
		load, err := a.sched.Outgoing(Envelope{To: to, Payload: msg, Text: text})
		if err != nil {
			return err
		}
		a.Charge(1 + load/100)
		return nil
	}

	r, ok := a.vm.procs.Lookup(to)
	if !ok || !r.accepting() {
		a.vm.deadLetter(to, "send")
		a.Charge(1)
		return nil
	}
	if err := r.deliver(msg, text); err != nil {
		return err
	}
	a.Charge(1)
	return nil
}

// Recv pushes the next unread message. With nothing unread it returns
// ErrTimeout at once for DontWait; otherwise it suspends until a message
// arrives or the timeout passes and then looks exactly once more.
func (a *Actor) Recv(timeout time.Duration) error {
	for retried := false; ; retried = true {
		if v, ok := a.mailbox.next(); ok {
			if err := a.Push(v); err != nil {
				a.mailbox.pp--
				return err
			}
			return nil
		}
		a.hasInput = false
		if timeout == DontWait || retried {
			return newError(CodeTimeout, "receive timed out")
		}
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		a.suspend(waitMessage, deadline)
	}
}

// Remove deletes the most recently received message and rewinds.
func (a *Actor) Remove() error {
	if err := a.mailbox.Remove(); err != nil {
		return a.asThrow(err)
	}
	return nil
}

// Rewind makes the next Recv start again from the oldest message.
func (a *Actor) Rewind() { a.mailbox.Rewind() }

// ---------------------------------------------------------------------------
// Spawning from inside an actor
// ---------------------------------------------------------------------------

// Spawn starts a new actor on a's scheduler running the callable below the
// top nargs values with those values as arguments. Arguments follow the
// message copy rules. The callable and arguments are replaced by the new
// pid.
func (a *Actor) Spawn(nargs, stackSize int) error {
	base := a.stack.Len() - nargs - 1
	if nargs < 0 || base < a.frame.bp {
		return a.raiseText(CodeRuntime, "no function to spawn")
	}
	entry := a.stack.At(base)
	if !entry.tag.IsCallable() || entry.fn == nil {
		return a.raiseText(CodeRuntime, "attempt to spawn a non-function")
	}
	type arg struct {
		v    Value
		text []byte
	}
	args := make([]arg, nargs)
	for i := range args {
		v, text, err := a.portable(a.stack.At(base + 1 + i))
		if err != nil {
			return a.asThrow(err)
		}
		args[i] = arg{v, text}
	}

	pid, err := a.sched.spawn(stackSize, func(c *Actor) error {
		if err := c.stack.Push(entry); err != nil {
			return err
		}
		for _, x := range args {
			v := x.v
			if v.tag == TagString {
				if err := c.reserve(ObjectSize(wordSize + len(x.text))); err != nil {
					return err
				}
				v, _ = c.heap.newBytes(TagString, x.text)
			}
			if err := c.stack.Push(v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return a.asThrow(err)
	}
	a.stack.Set(base, PIDValue(pid))
	a.stack.SetLen(base + 1)
	a.Charge(1)
	return nil
}
