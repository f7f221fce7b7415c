package vm

import (
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Scheduler: cooperative run loop for one group of actors
// ---------------------------------------------------------------------------

// Scheduler runs its actors one at a time on whichever goroutine calls
// RunOnce or Step. Different schedulers may run in parallel; they exchange
// messages only through the envelope buffers.
type Scheduler struct {
	id   int
	vm   *VM
	root *Task
	log  commonlog.Logger

	current *Actor
	actors  []*Actor

	// spawned actors wait here until the start of the next pass
	mu       sync.Mutex
	newborns []*Actor

	outBack, outFront *envelopeQueue
	inBack, inFront   *envelopeQueue

	passes uint64
}

func newScheduler(v *VM, id int) *Scheduler {
	c := v.config
	return &Scheduler{
		id:       id,
		vm:       v,
		root:     Shadow(),
		log:      commonlog.GetLogger(fmt.Sprintf("avm.scheduler.%d", id)),
		outBack:  newEnvelopeQueue(c.QueueCapacity),
		outFront: newEnvelopeQueue(c.QueueCapacity),
		inBack:   newEnvelopeQueue(c.QueueCapacity),
		inFront:  newEnvelopeQueue(c.QueueCapacity),
	}
}

// ID returns the scheduler's index within its VM.
func (s *Scheduler) ID() int { return s.id }

// VM returns the owning VM.
func (s *Scheduler) VM() *VM { return s.vm }

// Current returns the actor holding the turn, nil between turns.
func (s *Scheduler) Current() *Actor { return s.current }

// Len returns the number of actors owned by the scheduler, including those
// spawned since the last pass.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors) + len(s.newborns)
}

// ---------------------------------------------------------------------------
// Spawn
// ---------------------------------------------------------------------------

// Spawn creates an actor that calls entry with args on its first turn.
// Arguments must be scalars: heap values belong to an actor heap and cannot
// be handed in from the host. Fails with ErrFull when the process table is
// exhausted or stackSize is not positive.
func (s *Scheduler) Spawn(entry Value, args []Value, stackSize int) (PID, error) {
	if !entry.tag.IsCallable() || entry.fn == nil {
		return 0, newError(CodeRuntime, "attempt to spawn a non-function")
	}
	for i, v := range args {
		if v.tag.IsHeap() || v.tag.IsCallable() {
			return 0, newError(CodeRuntime, "spawn argument %d: unsupported type %s", i, v.tag)
		}
	}
	return s.spawn(stackSize, func(a *Actor) error {
		if err := a.stack.Push(entry); err != nil {
			return err
		}
		for _, v := range args {
			if err := a.stack.Push(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// spawn allocates a slot, seeds the new actor's stack and creates its task.
// A slot whose actor never started is returned with its generation
// unchanged.
func (s *Scheduler) spawn(stackSize int, seed func(a *Actor) error) (PID, error) {
	if stackSize <= 0 {
		return 0, newError(CodeFull, "native stack size %d", stackSize)
	}
	pid, err := s.vm.procs.allocate(s)
	if err != nil {
		return 0, err
	}
	a := newActor(s.vm, s, pid)
	if err := seed(a); err != nil {
		s.vm.procs.abandon(pid)
		return 0, fmt.Errorf("spawn: seed stack: %w", err)
	}
	t, err := NewTask(s.root, a.main, stackSize)
	if err != nil {
		s.vm.procs.abandon(pid)
		return 0, err
	}
	a.task = t
	a.state = ActorSuspended
	a.wait = waitYield
	s.vm.procs.attach(pid, a)

	s.mu.Lock()
	s.newborns = append(s.newborns, a)
	s.mu.Unlock()

	s.log.Debugf("spawned pid %d (stack %d)", pid, stackSize)
	return pid, nil
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// RunOnce gives every runnable actor one turn in ring order, then reclaims
// the actors that exited. It returns the number of turns given.
func (s *Scheduler) RunOnce() int {
	s.mu.Lock()
	s.actors = append(s.actors, s.newborns...)
	clear(s.newborns)
	s.newborns = s.newborns[:0]
	s.mu.Unlock()

	s.passes++
	now := time.Now()
	turns := 0
	for _, a := range s.actors {
		if !a.runnable(now) {
			continue
		}
		s.resume(a)
		turns++
	}
	s.sweep()
	return turns
}

func (s *Scheduler) resume(a *Actor) {
	s.current = a
	a.state = ActorRunning
	a.wait = waitNone
	a.budget = s.vm.config.Reductions
	Switch(s.root, a.task)
	s.current = nil
}

// sweep reclaims exited actors.
func (s *Scheduler) sweep() {
	live := s.actors[:0]
	for _, a := range s.actors {
		if a.state == ActorExited {
			s.reclaim(a)
			continue
		}
		live = append(live, a)
	}
	clear(s.actors[len(live):])
	s.actors = live
}

// reclaim releases everything an exited actor owns. The exit hook sees the
// actor with its final stack still intact.
func (s *Scheduler) reclaim(a *Actor) {
	s.vm.hooks.exit(a)
	s.log.Debugf("reclaiming pid %d (status %s)", a.pid, a.status)
	if a.task != nil {
		a.task.Delete()
	}
	if err := s.vm.procs.release(a.pid); err != nil {
		s.log.Errorf("reclaim: %s", err)
	}
	a.state = ActorDead
	a.stack.SetLen(0)
	a.mailbox.reset()
	a.heap.Collect()
}

// Step runs one full scheduling round: deliver incoming envelopes, give
// every actor a turn, migrate outgoing envelopes. It reports whether any
// work was done.
func (s *Scheduler) Step() bool {
	in := s.EmptyIncoming()
	turns := s.RunOnce()
	out := s.Migrate()
	return in+turns+out > 0
}

// Idle reports whether the scheduler owns no actors and holds no
// envelopes.
func (s *Scheduler) Idle() bool {
	return s.Len() == 0 && !s.pending()
}

// shutdown kills every actor regardless of state.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.actors = append(s.actors, s.newborns...)
	s.newborns = nil
	s.mu.Unlock()

	for _, a := range s.actors {
		if a.state != ActorExited {
			a.killed = true
			a.exitWith(CodeRuntime, Nil)
		}
	}
	s.sweep()
}
