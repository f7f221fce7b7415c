package vm

// ---------------------------------------------------------------------------
// Stack: an actor's operand and argument stack
// ---------------------------------------------------------------------------

// Stack is a growable array of Values. sp points to the next free slot.
type Stack struct {
	buf []Value
	sp  int
	max int
}

func newStack(size, max int) *Stack {
	return &Stack{buf: make([]Value, size), max: max}
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int { return s.sp }

// Cap returns the current capacity.
func (s *Stack) Cap() int { return len(s.buf) }

// Push appends v, doubling the buffer when full. It fails with ErrFull
// once the stack would exceed its maximum size.
func (s *Stack) Push(v Value) error {
	if s.sp >= len(s.buf) {
		if err := s.grow(s.sp + 1); err != nil {
			return err
		}
	}
	s.buf[s.sp] = v
	s.sp++
	return nil
}

func (s *Stack) grow(need int) error {
	if need > s.max {
		return ErrFull
	}
	n := len(s.buf) * 2
	if n == 0 {
		n = 8
	}
	for n < need {
		n *= 2
	}
	if n > s.max {
		n = s.max
	}
	buf := make([]Value, n)
	copy(buf, s.buf[:s.sp])
	s.buf = buf
	return nil
}

// At returns the value at absolute index i.
func (s *Stack) At(i int) Value { return s.buf[i] }

// Set stores v at absolute index i.
func (s *Stack) Set(i int, v Value) { s.buf[i] = v }

// Top returns the topmost value, or Nil when empty.
func (s *Stack) Top() Value {
	if s.sp == 0 {
		return Nil
	}
	return s.buf[s.sp-1]
}

// SetLen truncates the stack to n values. Released slots are cleared so the
// collector never sees stale references through them.
func (s *Stack) SetLen(n int) {
	for i := n; i < s.sp; i++ {
		s.buf[i] = Nil
	}
	s.sp = n
}

// live returns the root slice for the collector.
func (s *Stack) live() []Value { return s.buf[:s.sp] }
