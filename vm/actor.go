package vm

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Actor state
// ---------------------------------------------------------------------------

// ActorState is the lifecycle state of an actor.
type ActorState int

const (
	ActorRunning ActorState = iota
	ActorSuspended
	ActorExited
	ActorDead
)

func (s ActorState) String() string {
	switch s {
	case ActorRunning:
		return "running"
	case ActorSuspended:
		return "suspended"
	case ActorExited:
		return "exited"
	case ActorDead:
		return "dead"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type waitKind int

const (
	waitNone waitKind = iota
	waitYield
	waitSleep
	waitMessage
)

// ---------------------------------------------------------------------------
// Frame: one activation in an actor's call chain
// ---------------------------------------------------------------------------

// Frame records one call. Frames are linked explicitly, so call depth is
// bounded by the actor's stack, not by the goroutine stack of the caller.
type Frame struct {
	prev  *Frame
	bp    int
	nargs int
	ip    int
	proto Prototype
}

// Prev returns the calling frame, nil for the root frame.
func (f *Frame) Prev() *Frame { return f.prev }

// BP returns the stack index of the first slot above the arguments.
func (f *Frame) BP() int { return f.bp }

// NArgs returns the number of arguments passed to this frame.
func (f *Frame) NArgs() int { return f.nargs }

// IP returns the Dispatcher's instruction pointer for this frame.
func (f *Frame) IP() int { return f.ip }

// SetIP stores the Dispatcher's instruction pointer.
func (f *Frame) SetIP(ip int) { f.ip = ip }

// Proto returns the prototype being executed, nil for native frames.
func (f *Frame) Proto() Prototype { return f.proto }

// ---------------------------------------------------------------------------
// Actor
// ---------------------------------------------------------------------------

// Actor is a lightweight process: a private stack, heap and mailbox driven
// by its own Task. Everything except Mailbox.Load is touched only from the
// goroutine currently holding the owning scheduler's turn.
type Actor struct {
	pid   PID
	vm    *VM
	sched *Scheduler

	stack   *Stack
	heap    *Heap
	mailbox *Mailbox
	task    *Task

	frame   *Frame
	catches *catchRecord

	state  ActorState
	status ErrorCode
	killed bool

	wait     waitKind
	deadline time.Time
	hasInput bool
	budget   int

	spawned time.Time
}

func newActor(v *VM, s *Scheduler, pid PID) *Actor {
	c := v.config
	return &Actor{
		pid:     pid,
		vm:      v,
		sched:   s,
		stack:   newStack(c.StackSize, c.MaxStackSize),
		heap:    NewHeap(c.HeapSize, c.MaxHeapSize),
		mailbox: newMailbox(c.MailboxSize, c.MaxMailboxSize, c.MailboxMode),
		frame:   &Frame{},
		budget:  c.Reductions,
		spawned: time.Now(),
	}
}

// PID returns the actor's identifier.
func (a *Actor) PID() PID { return a.pid }

// Scheduler returns the owning scheduler.
func (a *Actor) Scheduler() *Scheduler { return a.sched }

// VM returns the owning VM.
func (a *Actor) VM() *VM { return a.vm }

// State returns the lifecycle state.
func (a *Actor) State() ActorState { return a.state }

// Status returns the status of the actor's entry call once it has exited.
func (a *Actor) Status() ErrorCode { return a.status }

// Stack exposes the operand stack, mainly for inspectors.
func (a *Actor) Stack() *Stack { return a.stack }

// Heap exposes the actor's heap.
func (a *Actor) Heap() *Heap { return a.heap }

// Mailbox exposes the actor's mailbox.
func (a *Actor) Mailbox() *Mailbox { return a.mailbox }

// Frame returns the current frame.
func (a *Actor) Frame() *Frame { return a.frame }

// main is the task entry: a protected call of the entry value seeded at the
// bottom of the stack.
func (a *Actor) main(*Task) {
	a.status = a.PCall(a.stack.Len() - 1)
	if a.status != CodeNone {
		a.vm.hooks.panic(a, a.status, a.stack.Top())
	}
	a.state = ActorExited
	a.wait = waitNone
}

// ---------------------------------------------------------------------------
// Stack access bounded by the current frame
// ---------------------------------------------------------------------------

// Len returns the stack length.
func (a *Actor) Len() int { return a.stack.Len() }

// Push pushes v. Growing past the maximum stack size throws.
func (a *Actor) Push(v Value) error {
	if err := a.stack.Push(v); err != nil {
		return a.raiseText(CodeRuntime, "stack overflow")
	}
	return nil
}

func (a *Actor) PushNil() error { return a.Push(Nil) }

func (a *Actor) PushBool(b bool) error { return a.Push(Bool(b)) }

func (a *Actor) PushInt(n int64) error { return a.Push(Int(n)) }

func (a *Actor) PushReal(f float64) error { return a.Push(Real(f)) }

func (a *Actor) PushPID(p PID) error { return a.Push(PIDValue(p)) }

// Pop removes and returns the top value. Popping into the caller's part of
// the stack is an underflow.
func (a *Actor) Pop() (Value, error) {
	if a.stack.Len() <= a.frame.bp {
		return Nil, a.raiseText(CodeRuntime, "stack underflow")
	}
	v := a.stack.Top()
	a.stack.SetLen(a.stack.Len() - 1)
	return v, nil
}

// SetLen truncates or extends (with nil) the stack to n values. n below the
// current frame's base pointer is an underflow.
func (a *Actor) SetLen(n int) error {
	if n < a.frame.bp {
		return a.raiseText(CodeRuntime, "stack underflow")
	}
	for a.stack.Len() < n {
		if err := a.Push(Nil); err != nil {
			return err
		}
	}
	a.stack.SetLen(n)
	return nil
}

// index resolves i: negative counts from the top (-1 is the top), otherwise
// it is an absolute stack position.
func (a *Actor) index(i int) (int, error) {
	n := a.stack.Len()
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, a.raiseText(CodeRuntime, fmt.Sprintf("bad stack index %d", i))
	}
	return i, nil
}

// Get returns the value at index i (see index for the convention).
func (a *Actor) Get(i int) (Value, error) {
	j, err := a.index(i)
	if err != nil {
		return Nil, err
	}
	return a.stack.At(j), nil
}

// Set replaces the value at index i.
func (a *Actor) Set(i int, v Value) error {
	j, err := a.index(i)
	if err != nil {
		return err
	}
	a.stack.Set(j, v)
	return nil
}

// NArgs returns the argument count of the current frame.
func (a *Actor) NArgs() int { return a.frame.nargs }

// Arg returns argument i of the current frame, nil when absent.
func (a *Actor) Arg(i int) Value {
	if i < 0 || i >= a.frame.nargs {
		return Nil
	}
	return a.stack.At(a.frame.bp - a.frame.nargs + i)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Call calls the value below the top nargs values. On return the callee and
// its arguments are replaced by the single result, so the stack is one
// value longer than before the callee was pushed.
func (a *Actor) Call(nargs int) error {
	base := a.stack.Len() - nargs - 1
	if nargs < 0 || base < a.frame.bp {
		return a.raiseText(CodeRuntime, "no function to call")
	}
	callee := a.stack.At(base)
	if !callee.tag.IsCallable() || callee.fn == nil {
		return a.raiseText(CodeRuntime, "attempt to call a non-function")
	}
	a.Charge(1)

	f := &Frame{prev: a.frame, bp: a.stack.Len(), nargs: nargs}
	a.frame = f
	var err error
	if callee.tag == TagNative {
		err = callee.AsNative()(a)
	} else {
		f.proto = callee.fn
		if a.vm.dispatcher == nil {
			err = newError(CodeUnresolved, "no dispatcher for byte-code function")
		} else {
			err = a.vm.dispatcher.Execute(a)
		}
	}
	if err != nil {
		// frame and stack are restored by the recovery point
		return a.asThrow(err)
	}

	result := Nil
	if a.stack.Len() > f.bp {
		result = a.stack.Top()
	}
	a.frame = f.prev
	a.stack.Set(base, result)
	a.stack.SetLen(base + 1)
	return nil
}

// Import resolves module.name through the VM's Loader and pushes the
// resulting callable.
func (a *Actor) Import(module, name string) error {
	if a.vm.loader == nil {
		return a.raiseText(CodeUnresolved, "no loader")
	}
	v, err := a.vm.loader.Resolve(module, name)
	if err != nil {
		return a.raiseText(CodeUnresolved, err.Error())
	}
	return a.Push(v)
}

// Charge spends n reductions and yields when the turn's budget runs out.
func (a *Actor) Charge(n int) {
	a.budget -= n
	if a.budget <= 0 && a.running() {
		a.Yield()
	}
}

// running reports whether a is the actor currently holding its scheduler's
// turn.
func (a *Actor) running() bool {
	return a.sched != nil && a.sched.current == a
}

// ---------------------------------------------------------------------------
// Suspension
// ---------------------------------------------------------------------------

// Yield gives the rest of the turn back to the scheduler.
func (a *Actor) Yield() {
	a.suspend(waitYield, time.Time{})
}

// Sleep suspends the actor for at least d.
func (a *Actor) Sleep(d time.Duration) {
	a.suspend(waitSleep, time.Now().Add(d))
}

func (a *Actor) suspend(w waitKind, deadline time.Time) {
	if !a.running() {
		return
	}
	a.wait = w
	a.deadline = deadline
	a.state = ActorSuspended
	Switch(a.task, a.sched.root)
}

// runnable reports whether the scheduler should give a a turn at now.
func (a *Actor) runnable(now time.Time) bool {
	switch a.state {
	case ActorRunning:
		return true
	case ActorSuspended:
		switch a.wait {
		case waitYield:
			return true
		case waitSleep:
			return !now.Before(a.deadline)
		case waitMessage:
			if a.hasInput {
				return true
			}
			return !a.deadline.IsZero() && !now.Before(a.deadline)
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Termination
// ---------------------------------------------------------------------------

// exitWith terminates the actor leaving payload as its only stack value.
func (a *Actor) exitWith(code ErrorCode, payload Value) {
	a.stack.SetLen(0)
	_ = a.stack.Push(payload)
	a.frame = &Frame{}
	a.catches = nil
	a.status = code
	a.state = ActorExited
	a.wait = waitNone
}

// fault kills a suspended actor after a resource failure it cannot recover
// from. The message becomes its sole stack value when it can be allocated.
func (a *Actor) fault(code ErrorCode, msg string) {
	a.stack.SetLen(0)
	a.catches = nil
	payload := Nil
	if err := a.reserve(ObjectSize(wordSize + len(msg))); err == nil {
		payload, _ = a.heap.newBytes(TagString, []byte(msg))
	}
	a.killed = true
	a.exitWith(code, payload)
	a.vm.hooks.panic(a, code, payload)
	a.sched.log.Errorf("actor %d faulted: %s", a.pid, msg)
}

// ---------------------------------------------------------------------------
// Heap reservation
// ---------------------------------------------------------------------------

// reserve guarantees n free heap bytes, collecting and growing as needed.
// The roots are the stack, the whole mailbox and the payloads of pending
// catch records.
func (a *Actor) reserve(n int) error {
	if a.heap.Free() >= n {
		return nil
	}
	var payloads []Value
	for r := a.catches; r != nil; r = r.prev {
		payloads = append(payloads, r.payload)
	}
	err := a.heap.Reserve(n, a.stack.live(), a.mailbox.live(), payloads)
	i := 0
	for r := a.catches; r != nil; r = r.prev {
		r.payload = payloads[i]
		i++
	}
	return err
}

// Collect runs a full collection of the actor's heap.
func (a *Actor) Collect() {
	var payloads []Value
	for r := a.catches; r != nil; r = r.prev {
		payloads = append(payloads, r.payload)
	}
	a.heap.Collect(a.stack.live(), a.mailbox.live(), payloads)
	i := 0
	for r := a.catches; r != nil; r = r.prev {
		r.payload = payloads[i]
		i++
	}
}

// alloc reserves n bytes or throws an out of memory error.
func (a *Actor) alloc(n int) error {
	if err := a.reserve(n); err != nil {
		return a.raiseText(CodeRuntime, "out of memory")
	}
	return nil
}
