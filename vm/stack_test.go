package vm

import (
	"errors"
	"testing"
)

func TestStackGrowsToMax(t *testing.T) {
	s := newStack(2, 5)
	for i := 0; i < 5; i++ {
		if err := s.Push(Int(int64(i))); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if err := s.Push(Nil); !errors.Is(err, ErrFull) {
		t.Fatalf("Push past max: got %v, want ErrFull", err)
	}
	if s.Len() != 5 || s.Cap() != 5 {
		t.Errorf("len %d cap %d", s.Len(), s.Cap())
	}
	if s.Top().AsInt() != 4 {
		t.Errorf("top = %v", s.Top())
	}
}

func TestStackSetLenClearsSlots(t *testing.T) {
	s := newStack(4, 4)
	s.Push(heapValue(TagString, 16))
	s.Push(heapValue(TagString, 32))
	s.SetLen(0)
	if !s.buf[0].IsNil() || !s.buf[1].IsNil() {
		t.Error("released slots still hold heap references")
	}
	if !s.Top().IsNil() {
		t.Error("Top of an empty stack should be nil")
	}
}
