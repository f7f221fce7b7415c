package vm

import "sync"

// ---------------------------------------------------------------------------
// Envelopes: messages in transit between schedulers
// ---------------------------------------------------------------------------

// Envelope is a message bound for an actor owned by another scheduler.
// Payload holds scalars directly; for strings Payload carries only the tag
// and Text the bytes, since the sender's heap cannot travel.
type Envelope struct {
	To      PID
	Payload Value
	Text    []byte
}

// envelopeQueue is one of a scheduler's four bounded envelope buffers.
type envelopeQueue struct {
	mu    sync.Mutex
	items []Envelope
	cap   int
}

func newEnvelopeQueue(capacity int) *envelopeQueue {
	return &envelopeQueue{items: make([]Envelope, 0, capacity), cap: capacity}
}

// push appends e unless the queue is at capacity.
func (q *envelopeQueue) push(e Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, e)
	return true
}

// Len returns the number of queued envelopes.
func (q *envelopeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// swap exchanges the contents of q and o. Both locks are taken in the
// order given, so callers always pass front before back.
func (q *envelopeQueue) swap(o *envelopeQueue) {
	q.mu.Lock()
	o.mu.Lock()
	q.items, o.items = o.items, q.items
	o.mu.Unlock()
	q.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Scheduler side of the migration protocol
// ---------------------------------------------------------------------------

// Outgoing queues e for delivery to another scheduler. It returns the
// destination mailbox's load factor, or ErrFull when the outgoing back
// buffer is at capacity.
func (s *Scheduler) Outgoing(e Envelope) (int, error) {
	if !s.outBack.push(e) {
		return 0, newError(CodeFull, "outgoing queue of scheduler %d is full", s.id)
	}
	if r, ok := s.vm.procs.Lookup(e.To); ok {
		return r.mailbox.Load(), nil
	}
	return 0, nil
}

// Migrate moves outgoing envelopes to the incoming buffers of their
// destination schedulers. When the front buffer is empty it is first
// swapped with the back buffer. Envelopes are moved in order until one
// meets a full destination; the moved prefix is committed and the rest
// stays queued for the next pass. It returns the number moved or dropped.
func (s *Scheduler) Migrate() int {
	if s.outFront.Len() == 0 {
		s.outFront.swap(s.outBack)
	}

	q := s.outFront
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for ; n < len(q.items); n++ {
		e := q.items[n]
		owner, ok := s.vm.procs.Owner(e.To)
		if !ok {
			s.vm.deadLetter(e.To, "migrate")
			continue
		}
		if !owner.inBack.push(e) {
			break
		}
	}
	if n > 0 {
		rest := copy(q.items, q.items[n:])
		clear(q.items[rest:])
		q.items = q.items[:rest]
	}
	return n
}

// EmptyIncoming delivers everything that other schedulers migrated here
// since the last call. A receiver that can no longer accept its message
// stream (fixed mailbox full, or heap exhausted) is faulted.
func (s *Scheduler) EmptyIncoming() int {
	s.inFront.swap(s.inBack)

	q := s.inFront
	q.mu.Lock()
	items := q.items
	q.items = q.items[:0]
	q.mu.Unlock()

	for _, e := range items {
		a, ok := s.vm.procs.Lookup(e.To)
		if !ok || a.sched != s || !a.accepting() {
			s.vm.deadLetter(e.To, "deliver")
			continue
		}
		if err := a.deliver(e.Payload, e.Text); err != nil {
			a.fault(CodeFull, err.Error())
		}
	}
	clear(items)
	return len(items)
}

// pending reports whether any of the four envelope buffers holds work.
func (s *Scheduler) pending() bool {
	return s.outBack.Len() > 0 || s.outFront.Len() > 0 ||
		s.inBack.Len() > 0 || s.inFront.Len() > 0
}
