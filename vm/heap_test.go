package vm

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Heap / collector tests
// ---------------------------------------------------------------------------

func allocString(t *testing.T, h *Heap, s string, roots []Value) Value {
	t.Helper()
	if err := h.Reserve(ObjectSize(wordSize+len(s)), roots); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	v, err := h.newBytes(TagString, []byte(s))
	if err != nil {
		t.Fatalf("newBytes: %v", err)
	}
	return v
}

func TestCollectSoundness(t *testing.T) {
	h := NewHeap(1024, 1<<24)
	roots := make([]Value, 1000)
	for i := range roots {
		roots[i] = allocString(t, h, fmt.Sprintf("object-%04d", i), roots[:i])
	}

	verify := func(stage string) {
		t.Helper()
		for i, v := range roots {
			if v.IsNil() {
				continue
			}
			b, err := h.bytesOf(v, TagString)
			if err != nil {
				t.Fatalf("%s: root %d: %v", stage, i, err)
			}
			if want := fmt.Sprintf("object-%04d", i); string(b) != want {
				t.Fatalf("%s: root %d = %q, want %q", stage, i, b, want)
			}
		}
	}

	objSize := ObjectSize(wordSize + len("object-0000"))
	for i := 0; i < 3; i++ {
		h.Collect(roots)
	}
	verify("all rooted")
	if h.Used() != 1000*objSize {
		t.Errorf("used = %d, want %d", h.Used(), 1000*objSize)
	}

	for i := 1; i < len(roots); i += 2 {
		roots[i] = Nil
	}
	for i := 0; i < 3; i++ {
		h.Collect(roots)
	}
	verify("half rooted")
	if h.Used() != 500*objSize {
		t.Errorf("used = %d, want %d", h.Used(), 500*objSize)
	}

	clear(roots)
	h.Collect(roots)
	if h.Used() != 0 {
		t.Errorf("used = %d after dropping every root, want 0", h.Used())
	}
}

func TestCollectSharedReferencesConverge(t *testing.T) {
	h := NewHeap(1024, 1024)
	s, _ := h.newBytes(TagString, []byte("shared"))
	off, err := h.newSlots(TagTuple, 2)
	if err != nil {
		t.Fatalf("newSlots: %v", err)
	}
	p := off + headerSize
	h.writeSlot(slotPos(p, 0), s)
	h.writeSlot(slotPos(p, 1), s)

	roots := []Value{heapValue(TagTuple, off), s}
	h.Collect(roots)

	want := ObjectSize(slotsSize(2)) + ObjectSize(wordSize+len("shared"))
	if h.Used() != want {
		t.Errorf("used = %d, want %d (one copy of the string)", h.Used(), want)
	}
	p, _ = h.object(roots[0], TagTuple)
	a, b := h.readSlot(slotPos(p, 0)), h.readSlot(slotPos(p, 1))
	if a.bits != b.bits || a.bits != roots[1].bits {
		t.Errorf("references diverged: %d, %d, root %d", a.bits, b.bits, roots[1].bits)
	}
}

func TestCollectKeepsFunctions(t *testing.T) {
	h := NewHeap(1024, 1024)
	off, _ := h.newSlots(TagTuple, 1)
	called := false
	h.writeSlot(slotPos(off+headerSize, 0), Native(func(*Actor) error {
		called = true
		return nil
	}))
	roots := []Value{heapValue(TagTuple, off)}
	h.Collect(roots)
	h.Collect(roots)

	p, _ := h.object(roots[0], TagTuple)
	f := h.readSlot(slotPos(p, 0)).AsNative()
	if f == nil {
		t.Fatal("function lost across collections")
	}
	f(nil)
	if !called {
		t.Error("wrong function after collection")
	}
}

func TestCollectFollowsNestedReferences(t *testing.T) {
	h := NewHeap(1024, 1024)
	fb, _ := h.newBytes(TagFixedBuffer, []byte("abc"))
	buf, _ := h.newHandle(TagBuffer, 3, int(fb.bits))
	_, _ = h.newBytes(TagString, []byte("garbage"))

	roots := []Value{heapValue(TagBuffer, buf)}
	h.Collect(roots)

	b, err := h.view(roots[0])
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if string(b) != "abc" {
		t.Errorf("buffer = %q, want abc", b)
	}
	want := ObjectSize(2*wordSize) + ObjectSize(wordSize+3)
	if h.Used() != want {
		t.Errorf("used = %d, want %d", h.Used(), want)
	}
}

func TestAllocFullLeavesHeapUntouched(t *testing.T) {
	h := NewHeap(64, 64)
	if _, err := h.Alloc(TagString, 100); !errors.Is(err, ErrFull) {
		t.Fatalf("Alloc: got %v, want ErrFull", err)
	}
	if h.Used() != 0 {
		t.Errorf("used = %d after failed alloc", h.Used())
	}
}

func TestReserveCollectsBeforeGrowing(t *testing.T) {
	h := NewHeap(64, 4096)
	_, _ = h.newBytes(TagString, []byte("dead"))
	if err := h.Reserve(48); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if h.Cap() != 64 || h.Stats().Grows != 0 {
		t.Errorf("cap %d grows %d: garbage should have been collected instead", h.Cap(), h.Stats().Grows)
	}

	roots := []Value{allocString(t, h, "live", nil)}
	if err := h.Reserve(200, roots); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if h.Cap() < 200+h.Used() || h.Stats().Grows != 1 {
		t.Errorf("cap %d grows %d after growing", h.Cap(), h.Stats().Grows)
	}
	if b, _ := h.bytesOf(roots[0], TagString); string(b) != "live" {
		t.Errorf("root = %q after grow", b)
	}

	if err := h.Reserve(8192, roots); !errors.Is(err, ErrFull) {
		t.Errorf("Reserve past max: got %v, want ErrFull", err)
	}
}

func TestHeapRejectsWrongTag(t *testing.T) {
	h := NewHeap(256, 256)
	s, _ := h.newBytes(TagString, []byte("x"))
	if _, err := h.object(heapValue(TagTuple, int(s.bits)), TagTuple); err == nil {
		t.Error("object should reject a tuple value pointing at a string")
	}
	if _, err := h.object(heapValue(TagString, 4096), TagString); err == nil {
		t.Error("object should reject an out of range offset")
	}
}

func TestReserveRefusesImpossibleRequests(t *testing.T) {
	tests := []struct {
		name string
		more int
	}{
		{"negative", -8},
		{"past max", 1<<20 + 8},
		{"huge buffer", ObjectSize(wordSize + 1<<62)},
		{"huge slots", ObjectSize(slotsSize(1 << 60))},
		{"max int", math.MaxInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHeap(1024, 1<<20)
			roots := []Value{allocString(t, h, "keep me", nil)}

			done := make(chan error, 1)
			go func() { done <- h.Reserve(tt.more, roots) }()
			select {
			case err := <-done:
				if !errors.Is(err, ErrFull) {
					t.Fatalf("Reserve(%d): got %v, want ErrFull", tt.more, err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("Reserve(%d) did not return", tt.more)
			}

			h.Collect(roots)
			if b, _ := h.bytesOf(roots[0], TagString); string(b) != "keep me" {
				t.Errorf("root = %q after refused reserve", b)
			}
			if h.Cap() != 1024 {
				t.Errorf("cap = %d, heap should not have grown", h.Cap())
			}
		})
	}
}

func TestSizesSaturate(t *testing.T) {
	for _, n := range []int{-1, maxSlots + 1, 1 << 60, math.MaxInt} {
		if got := slotsSize(n); got != tooLarge {
			t.Errorf("slotsSize(%d) = %d, want tooLarge", n, got)
		}
	}
	for _, n := range []int{-1, maxObject, math.MaxInt} {
		if got := ObjectSize(n); got != tooLarge {
			t.Errorf("ObjectSize(%d) = %d, want tooLarge", n, got)
		}
	}
	if got := sumSize(32, tooLarge); got != tooLarge {
		t.Errorf("sumSize overflowed to %d", got)
	}
	if got := ObjectSize(slotsSize(2)); got != headerSize+wordSize+2*slotSize {
		t.Errorf("ObjectSize(slotsSize(2)) = %d", got)
	}

	h := NewHeap(64, 64)
	if _, err := h.Alloc(TagString, -16); !errors.Is(err, ErrFull) {
		t.Errorf("Alloc with negative size: got %v, want ErrFull", err)
	}
}

func TestFunctionTableReusesOverwrittenSlot(t *testing.T) {
	h := NewHeap(1024, 1024)
	off, _ := h.newSlots(TagTuple, 1)
	pos := slotPos(off+headerSize, 0)
	last := 0
	for i := 0; i < 100; i++ {
		n := i
		h.writeSlot(pos, Native(func(*Actor) error {
			last = n
			return nil
		}))
	}
	if len(h.funcs) != 1 {
		t.Fatalf("function table holds %d entries, want 1", len(h.funcs))
	}
	h.readSlot(pos).AsNative()(nil)
	if last != 99 {
		t.Errorf("slot calls function %d, want 99", last)
	}

	// a scalar in between releases nothing, the next function appends
	h.writeSlot(pos, Int(1))
	h.writeSlot(pos, Native(add))
	if len(h.funcs) != 2 {
		t.Errorf("function table holds %d entries, want 2", len(h.funcs))
	}
}
