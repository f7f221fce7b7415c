package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Heap: per-actor semi-space heap with a Cheney copying collector
// ---------------------------------------------------------------------------
//
// Objects are addressed by byte offset into the live half ("cur"). Every
// object starts with a 16 byte header:
//
//	[0:4]  type tag
//	[4:8]  total size in bytes, header included, 8-byte aligned
//	[8:16] forwarding offset, noForward outside a collection
//
// Payload layouts:
//
//	FixedBuffer, String  [len u64][bytes]
//	Buffer               [len u64][backing FixedBuffer ref]
//	Tuple, block         [count u64][count slots]
//	Array, Table         [len u64][block ref]
//
// A slot is [tag u64][bits u64]. Function values are interned in the heap's
// function table and the slot stores the table index.

const (
	headerSize = 16
	slotSize   = 16
	wordSize   = 8

	noForward = ^uint64(0)
	noRef     = ^uint64(0)

	// maxObject is the largest object a header's size field can describe.
	maxObject = math.MaxInt32 &^ (wordSize - 1)
	// tooLarge is the size reported for requests no heap can satisfy.
	// Reserve and Alloc always refuse it.
	tooLarge = math.MaxInt
)

// tagBlock is the internal element block behind arrays and tables.
const tagBlock Tag = 0x40

var le = binary.LittleEndian

func alignUp(n int) int {
	return (n + wordSize - 1) &^ (wordSize - 1)
}

// ObjectSize returns the bytes consumed by an object with the given
// payload size, or tooLarge when the payload is negative or could never
// fit in a header.
func ObjectSize(payload int) int {
	if payload < 0 || payload > maxObject-headerSize {
		return tooLarge
	}
	return alignUp(headerSize + payload)
}

// sumSize adds object sizes, saturating at tooLarge.
func sumSize(sizes ...int) int {
	total := 0
	for _, n := range sizes {
		if n < 0 || n > tooLarge-total {
			return tooLarge
		}
		total += n
	}
	return total
}

// HeapStats reports collector activity.
type HeapStats struct {
	Collections int
	BytesCopied int
	Grows       int
}

// Heap is a semi-space heap. It is owned by exactly one actor.
type Heap struct {
	cur  []byte
	next []byte
	top  int // bump allocation offset
	scan int
	max  int

	funcs []any

	// collection-time state
	nextFuncs []any
	funcMap   map[uint64]uint64

	stats HeapStats
}

// NewHeap creates a heap whose halves start at size bytes and may grow to
// max bytes each.
func NewHeap(size, max int) *Heap {
	size = alignUp(size)
	if max < size {
		max = size
	}
	return &Heap{
		cur:  make([]byte, size),
		next: make([]byte, size),
		max:  max,
	}
}

// Used returns the bytes currently allocated in the live half.
func (h *Heap) Used() int { return h.top }

// Cap returns the capacity of one half.
func (h *Heap) Cap() int { return len(h.cur) }

// Free returns the bytes available before the next collection.
func (h *Heap) Free() int { return len(h.cur) - h.top }

// Stats returns collector statistics.
func (h *Heap) Stats() HeapStats { return h.stats }

// Alloc bump-allocates an object of type t with size payload bytes and
// returns its offset. The payload is zeroed. On ErrFull nothing changes.
func (h *Heap) Alloc(t Tag, size int) (int, error) {
	total := ObjectSize(size)
	if total == tooLarge || total > len(h.cur)-h.top {
		return -1, ErrFull
	}
	off := h.top
	clear(h.cur[off : off+total])
	le.PutUint32(h.cur[off:], uint32(t))
	le.PutUint32(h.cur[off+4:], uint32(total))
	le.PutUint64(h.cur[off+8:], noForward)
	h.top += total
	return off, nil
}

// Reserve makes sure more bytes can be allocated without another
// collection. It collects first and only grows both halves (doubling) when
// the collection did not free enough. ErrFull means the maximum size would
// be exceeded or more is negative; the heap is still consistent in that
// case.
func (h *Heap) Reserve(more int, roots ...[]Value) error {
	if more < 0 || more > h.max {
		return ErrFull
	}
	if h.Free() >= more {
		return nil
	}
	h.Collect(roots...)
	if h.Free() >= more {
		return nil
	}
	if more > h.max-h.top {
		return ErrFull
	}
	n := len(h.cur)
	for n-h.top < more {
		if n > h.max/2 {
			n = h.max
			break
		}
		n *= 2
	}
	if n > h.max {
		n = h.max
	}
	h.grow(n, roots...)
	return nil
}

// grow re-copies all live data into a fresh half of n bytes.
func (h *Heap) grow(n int, roots ...[]Value) {
	h.next = make([]byte, n)
	h.Collect(roots...)
	h.next = make([]byte, n)
	h.stats.Grows++
}

// Collect copies every object reachable from roots into the other half,
// rewriting the roots in place, then swaps halves.
func (h *Heap) Collect(roots ...[]Value) {
	if len(h.next) < len(h.cur) {
		h.next = make([]byte, len(h.cur))
	}
	from := h.top
	h.top = 0
	h.scan = 0
	h.nextFuncs = nil
	h.funcMap = make(map[uint64]uint64)

	for _, r := range roots {
		for i := range r {
			if r[i].tag.IsHeap() {
				r[i].bits = uint64(h.forward(int(r[i].bits), from))
			}
		}
	}
	for h.scan < h.top {
		size := int(le.Uint32(h.next[h.scan+4:]))
		h.scanObject(h.scan, from)
		h.scan += size
	}

	h.cur, h.next = h.next, h.cur
	h.funcs = h.nextFuncs
	h.nextFuncs = nil
	h.funcMap = nil
	h.scan = 0
	h.stats.Collections++
	h.stats.BytesCopied += h.top
}

// forward returns the new offset of the object at off in cur, copying it
// into next on first visit.
func (h *Heap) forward(off, limit int) int {
	if off < 0 || off+headerSize > limit {
		panic(fmt.Sprintf("heap: dangling reference %d (limit %d)", off, limit))
	}
	fw := le.Uint64(h.cur[off+8:])
	if fw != noForward {
		return int(fw)
	}
	size := int(le.Uint32(h.cur[off+4:]))
	dst := h.top
	copy(h.next[dst:dst+size], h.cur[off:off+size])
	le.PutUint64(h.next[dst+8:], noForward)
	le.PutUint64(h.cur[off+8:], uint64(dst))
	h.top += size
	return dst
}

// scanObject forwards the heap references embedded in the object at off in
// next.
func (h *Heap) scanObject(off, limit int) {
	t := Tag(le.Uint32(h.next[off:]))
	p := off + headerSize
	switch t {
	case TagBuffer, TagArray, TagTable:
		ref := le.Uint64(h.next[p+wordSize:])
		if ref != noRef {
			le.PutUint64(h.next[p+wordSize:], uint64(h.forward(int(ref), limit)))
		}
	case TagTuple, tagBlock:
		n := int(le.Uint64(h.next[p:]))
		for i := 0; i < n; i++ {
			s := p + wordSize + i*slotSize
			st := Tag(le.Uint64(h.next[s:]))
			bits := le.Uint64(h.next[s+wordSize:])
			switch {
			case st.IsHeap():
				le.PutUint64(h.next[s+wordSize:], uint64(h.forward(int(bits), limit)))
			case st.IsCallable():
				le.PutUint64(h.next[s+wordSize:], h.keepFunc(bits))
			}
		}
	}
}

func (h *Heap) keepFunc(idx uint64) uint64 {
	if n, ok := h.funcMap[idx]; ok {
		return n
	}
	n := uint64(len(h.nextFuncs))
	h.nextFuncs = append(h.nextFuncs, h.funcs[idx])
	h.funcMap[idx] = n
	return n
}

// ---------------------------------------------------------------------------
// Object access
// ---------------------------------------------------------------------------

// object validates that v refers to a live object of type want and returns
// the offset of its payload.
func (h *Heap) object(v Value, want Tag) (int, error) {
	if v.tag != want {
		return 0, newError(CodeRuntime, "expected %s, got %s", want, v.tag)
	}
	return h.payloadOf(int(v.bits), want)
}

func (h *Heap) payloadOf(off int, want Tag) (int, error) {
	if off < 0 || off+headerSize > h.top {
		return 0, newError(CodeRuntime, "bad heap reference %d", off)
	}
	if got := Tag(le.Uint32(h.cur[off:])); got != want {
		return 0, newError(CodeRuntime, "heap object at %d is %s, not %s", off, got, want)
	}
	return off + headerSize, nil
}

func (h *Heap) word(p int) uint64 { return le.Uint64(h.cur[p:]) }
func (h *Heap) setWord(p int, w uint64) { le.PutUint64(h.cur[p:], w) }
func slotPos(p, i int) int { return p + wordSize + i*slotSize }

func (h *Heap) readSlot(pos int) Value {
	t := Tag(le.Uint64(h.cur[pos:]))
	bits := le.Uint64(h.cur[pos+wordSize:])
	if t.IsCallable() {
		return Value{tag: t, fn: h.funcs[bits]}
	}
	return Value{tag: t, bits: bits}
}

// writeSlot stores v at pos. A function overwriting a function reuses the
// old function table entry, so repeated stores into one slot do not grow
// the table between collections.
func (h *Heap) writeSlot(pos int, v Value) {
	bits := v.bits
	if v.tag.IsCallable() {
		old := Tag(le.Uint64(h.cur[pos:]))
		if idx := le.Uint64(h.cur[pos+wordSize:]); old.IsCallable() && idx < uint64(len(h.funcs)) {
			bits = idx
			h.funcs[idx] = v.fn
		} else {
			bits = uint64(len(h.funcs))
			h.funcs = append(h.funcs, v.fn)
		}
	}
	le.PutUint64(h.cur[pos:], uint64(v.tag))
	le.PutUint64(h.cur[pos+wordSize:], bits)
}

// newBytes allocates a FixedBuffer or String holding a copy of data.
func (h *Heap) newBytes(t Tag, data []byte) (Value, error) {
	off, err := h.Alloc(t, wordSize+len(data))
	if err != nil {
		return Nil, err
	}
	p := off + headerSize
	h.setWord(p, uint64(len(data)))
	copy(h.cur[p+wordSize:], data)
	return heapValue(t, off), nil
}

// bytesOf returns a view of a FixedBuffer or String payload. The view is
// only valid until the next collection.
func (h *Heap) bytesOf(v Value, t Tag) ([]byte, error) {
	p, err := h.object(v, t)
	if err != nil {
		return nil, err
	}
	n := int(h.word(p))
	return h.cur[p+wordSize : p+wordSize+n], nil
}

// view returns the bytes held by a String, FixedBuffer or Buffer without
// copying. The view is only valid until the next collection.
func (h *Heap) view(v Value) ([]byte, error) {
	switch v.tag {
	case TagString, TagFixedBuffer:
		return h.bytesOf(v, v.tag)
	case TagBuffer:
		p, err := h.object(v, TagBuffer)
		if err != nil {
			return nil, err
		}
		fbp, err := h.payloadOf(int(h.word(p+wordSize)), TagFixedBuffer)
		if err != nil {
			return nil, err
		}
		n := int(h.word(p))
		return h.cur[fbp+wordSize : fbp+wordSize+n], nil
	}
	return nil, newError(CodeRuntime, "expected bytes, got %s", v.tag)
}

// newSlots allocates a Tuple or block with n slots, all nil.
func (h *Heap) newSlots(t Tag, n int) (int, error) {
	off, err := h.Alloc(t, wordSize+n*slotSize)
	if err != nil {
		return -1, err
	}
	h.setWord(off+headerSize, uint64(n))
	return off, nil
}

// newHandle allocates an Array, Table or Buffer header pointing at ref.
func (h *Heap) newHandle(t Tag, length int, ref int) (int, error) {
	off, err := h.Alloc(t, 2*wordSize)
	if err != nil {
		return -1, err
	}
	p := off + headerSize
	h.setWord(p, uint64(length))
	h.setWord(p+wordSize, uint64(ref))
	return off, nil
}

// slotsSize is the payload size of a slot object with n slots, or tooLarge
// when n slots could never fit in one object.
func slotsSize(n int) int {
	if n < 0 || n > maxSlots {
		return tooLarge
	}
	return wordSize + n*slotSize
}

// maxSlots is the largest slot count of a tuple or block.
const maxSlots = (maxObject - headerSize - wordSize) / slotSize
