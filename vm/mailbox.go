package vm

import "sync/atomic"

// ---------------------------------------------------------------------------
// Mailbox: per-actor message queue with a peek cursor
// ---------------------------------------------------------------------------

// MaxLoad is the largest load factor reported for a mailbox.
const MaxLoad = 999

// Mailbox stores received messages. Messages in [0, pp) have been peeked,
// [pp, sp) are unread. Values in the mailbox live in the owner's heap.
type Mailbox struct {
	buf  []Value
	sp   int
	pp   int
	mode MailboxMode
	max  int

	// load mirrors min(sp, MaxLoad) for readers on other schedulers.
	load atomic.Int32
}

func newMailbox(size, max int, mode MailboxMode) *Mailbox {
	return &Mailbox{buf: make([]Value, size), mode: mode, max: max}
}

// Len returns the number of stored messages.
func (m *Mailbox) Len() int { return m.sp }

// Unread returns the number of messages not yet peeked.
func (m *Mailbox) Unread() int { return m.sp - m.pp }

// Cap returns the current capacity.
func (m *Mailbox) Cap() int { return len(m.buf) }

// Load returns the occupancy in [0, MaxLoad]. Safe to call from any
// goroutine.
func (m *Mailbox) Load() int { return int(m.load.Load()) }

func (m *Mailbox) publish() {
	n := m.sp
	if n > MaxLoad {
		n = MaxLoad
	}
	m.load.Store(int32(n))
}

// canAccept reports whether one more message fits, growing if needed.
func (m *Mailbox) canAccept() bool {
	if m.sp < len(m.buf) {
		return true
	}
	if m.mode == MailboxFixed || len(m.buf) >= m.max {
		return false
	}
	n := len(m.buf) * 2
	if n == 0 {
		n = 4
	}
	if n > m.max {
		n = m.max
	}
	buf := make([]Value, n)
	copy(buf, m.buf[:m.sp])
	m.buf = buf
	return true
}

// append stores v; callers check canAccept first.
func (m *Mailbox) append(v Value) {
	m.buf[m.sp] = v
	m.sp++
	m.publish()
}

// next returns the first unread message and advances the peek cursor.
func (m *Mailbox) next() (Value, bool) {
	if m.pp >= m.sp {
		return Nil, false
	}
	v := m.buf[m.pp]
	m.pp++
	return v, true
}

// Remove deletes the most recently peeked message and rewinds.
func (m *Mailbox) Remove() error {
	if m.pp <= 0 {
		return newError(CodeRuntime, "no message to remove")
	}
	copy(m.buf[m.pp-1:], m.buf[m.pp:m.sp])
	m.sp--
	m.buf[m.sp] = Nil
	m.pp = 0
	m.publish()
	return nil
}

// Rewind moves the peek cursor back to the oldest message.
func (m *Mailbox) Rewind() { m.pp = 0 }

func (m *Mailbox) live() []Value { return m.buf[:m.sp] }

func (m *Mailbox) reset() {
	clear(m.buf[:m.sp])
	m.sp, m.pp = 0, 0
	m.publish()
}
