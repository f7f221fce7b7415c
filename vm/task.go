package vm

import "runtime"

// ---------------------------------------------------------------------------
// Task: cooperative coroutine primitive
// ---------------------------------------------------------------------------
//
// Each non-root Task runs on its own goroutine, but control is handed over
// explicitly through unbuffered channels so that exactly one task of a
// scheduler executes at any moment. The channel hand-off also gives the
// happens-before edge between the code before a switch and the code after
// it, so actor state needs no locking.

// Task is a cooperative execution context.
type Task struct {
	wake chan struct{}
	kill chan struct{}
	done chan struct{}

	owner     *Task
	stackSize int
	finished  bool
	deleted   bool
}

// Shadow turns the calling goroutine into a root task that other tasks can
// switch back to.
func Shadow() *Task {
	return &Task{wake: make(chan struct{})}
}

// NewTask prepares a task that runs entry on its first resume. stackSize is
// the requested native stack budget; Go grows goroutine stacks itself, so
// the value is only validated and recorded. After entry returns the task
// yields to owner forever until deleted.
func NewTask(owner *Task, entry func(t *Task), stackSize int) (*Task, error) {
	if stackSize <= 0 {
		return nil, newError(CodeFull, "native stack size %d", stackSize)
	}
	t := &Task{
		wake:      make(chan struct{}),
		kill:      make(chan struct{}),
		done:      make(chan struct{}),
		owner:     owner,
		stackSize: stackSize,
	}
	go t.run(entry)
	return t, nil
}

func (t *Task) run(entry func(t *Task)) {
	defer close(t.done)
	if !t.park() {
		return
	}
	entry(t)
	t.finished = true
	for {
		Switch(t, t.owner)
	}
}

// park blocks until the task is resumed. It reports false when the task was
// deleted instead.
func (t *Task) park() bool {
	select {
	case <-t.wake:
		return true
	case <-t.kill:
		return false
	}
}

// Switch suspends from and resumes to. It returns when some task switches
// back to from. A deleted task never returns from Switch.
func Switch(from, to *Task) {
	to.wake <- struct{}{}
	if !from.park() {
		runtime.Goexit()
	}
}

// Finished reports whether the task's entry has returned.
func (t *Task) Finished() bool { return t.finished }

// StackSize returns the requested native stack size.
func (t *Task) StackSize() int { return t.stackSize }

// Delete releases the task. The task must be suspended: never delete the
// running task or one that another task is about to switch to.
func (t *Task) Delete() {
	if t.kill == nil || t.deleted {
		return
	}
	t.deleted = true
	close(t.kill)
	<-t.done
}
