package vm

import (
	"bytes"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Heap objects on the actor
// ---------------------------------------------------------------------------
//
// Every constructor reserves the bytes it needs before allocating. A reserve
// may run a collection, so heap values are re-read from the stack after it
// and never held in locals across one.

// PushString allocates s in the actor's heap and pushes it.
func (a *Actor) PushString(s string) error {
	if err := a.alloc(ObjectSize(wordSize + len(s))); err != nil {
		return err
	}
	v, err := a.heap.newBytes(TagString, []byte(s))
	if err != nil {
		return a.asThrow(err)
	}
	return a.Push(v)
}

// ToString returns the contents of a string value.
func (a *Actor) ToString(v Value) (string, error) {
	b, err := a.heap.bytesOf(v, TagString)
	if err != nil {
		return "", a.asThrow(err)
	}
	return string(b), nil
}

// PushFixedBuffer allocates a zeroed fixed-size byte buffer and pushes it.
func (a *Actor) PushFixedBuffer(n int) error {
	if n < 0 {
		return a.Errorf("negative buffer size %d", n)
	}
	if err := a.alloc(ObjectSize(wordSize + n)); err != nil {
		return err
	}
	v, err := a.heap.newBytes(TagFixedBuffer, make([]byte, n))
	if err != nil {
		return a.asThrow(err)
	}
	return a.Push(v)
}

// PushBuffer allocates an empty growable buffer with the given capacity.
func (a *Actor) PushBuffer(capacity int) error {
	if capacity < 0 {
		return a.Errorf("negative buffer capacity %d", capacity)
	}
	if err := a.alloc(sumSize(ObjectSize(2*wordSize), ObjectSize(wordSize+capacity))); err != nil {
		return err
	}
	fb, _ := a.heap.newBytes(TagFixedBuffer, make([]byte, capacity))
	off, _ := a.heap.newHandle(TagBuffer, 0, int(fb.bits))
	return a.Push(heapValue(TagBuffer, off))
}

// BufferAppend appends data to the buffer at stack index i, replacing the
// backing fixed buffer when it is too small.
func (a *Actor) BufferAppend(i int, data []byte) error {
	v, err := a.Get(i)
	if err != nil {
		return err
	}
	p, err := a.heap.object(v, TagBuffer)
	if err != nil {
		return a.asThrow(err)
	}
	n := int(a.heap.word(p))
	fbp, _ := a.heap.payloadOf(int(a.heap.word(p+wordSize)), TagFixedBuffer)
	capacity := int(a.heap.word(fbp))
	if n+len(data) > capacity {
		newCap := capacity * 2
		if newCap < n+len(data) {
			newCap = n + len(data)
		}
		if err := a.alloc(ObjectSize(wordSize + newCap)); err != nil {
			return err
		}
		v, _ = a.Get(i)
		p, _ = a.heap.object(v, TagBuffer)
		fbp, _ = a.heap.payloadOf(int(a.heap.word(p+wordSize)), TagFixedBuffer)
		grown := make([]byte, newCap)
		copy(grown, a.heap.cur[fbp+wordSize:fbp+wordSize+n])
		fb, _ := a.heap.newBytes(TagFixedBuffer, grown)
		a.heap.setWord(p+wordSize, fb.bits)
		fbp = int(fb.bits) + headerSize
	}
	copy(a.heap.cur[fbp+wordSize+n:], data)
	a.heap.setWord(p, uint64(n+len(data)))
	return nil
}

// BytesOf returns a copy of the contents of a buffer, fixed buffer or string.
func (a *Actor) BytesOf(v Value) ([]byte, error) {
	b, err := a.heap.view(v)
	if err != nil {
		return nil, a.asThrow(err)
	}
	return bytes.Clone(b), nil
}

// ---------------------------------------------------------------------------
// Tuples
// ---------------------------------------------------------------------------

// PushTuple pops the top n values and pushes a tuple holding them in order.
func (a *Actor) PushTuple(n int) error {
	if n < 0 || a.stack.Len()-n < a.frame.bp {
		return a.raiseText(CodeRuntime, "stack underflow")
	}
	if err := a.alloc(ObjectSize(slotsSize(n))); err != nil {
		return err
	}
	off, _ := a.heap.newSlots(TagTuple, n)
	p := off + headerSize
	base := a.stack.Len() - n
	for i := 0; i < n; i++ {
		a.heap.writeSlot(slotPos(p, i), a.stack.At(base+i))
	}
	a.stack.SetLen(base)
	return a.Push(heapValue(TagTuple, off))
}

// TupleLen returns the number of elements of a tuple.
func (a *Actor) TupleLen(v Value) (int, error) {
	p, err := a.heap.object(v, TagTuple)
	if err != nil {
		return 0, a.asThrow(err)
	}
	return int(a.heap.word(p)), nil
}

// TupleGet returns element i of a tuple.
func (a *Actor) TupleGet(v Value, i int) (Value, error) {
	p, err := a.heap.object(v, TagTuple)
	if err != nil {
		return Nil, a.asThrow(err)
	}
	if i < 0 || i >= int(a.heap.word(p)) {
		return Nil, a.Errorf("tuple index %d out of range", i)
	}
	return a.heap.readSlot(slotPos(p, i)), nil
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// PushArray pushes an empty array with room for capacity elements.
func (a *Actor) PushArray(capacity int) error {
	if capacity < 1 {
		capacity = 1
	}
	if err := a.alloc(sumSize(ObjectSize(2*wordSize), ObjectSize(slotsSize(capacity)))); err != nil {
		return err
	}
	blk, _ := a.heap.newSlots(tagBlock, capacity)
	off, _ := a.heap.newHandle(TagArray, 0, blk)
	return a.Push(heapValue(TagArray, off))
}

// ArrayLen returns the number of elements of an array.
func (a *Actor) ArrayLen(v Value) (int, error) {
	p, err := a.heap.object(v, TagArray)
	if err != nil {
		return 0, a.asThrow(err)
	}
	return int(a.heap.word(p)), nil
}

// ArrayGet returns element i of an array.
func (a *Actor) ArrayGet(v Value, i int) (Value, error) {
	p, err := a.heap.object(v, TagArray)
	if err != nil {
		return Nil, a.asThrow(err)
	}
	if i < 0 || i >= int(a.heap.word(p)) {
		return Nil, a.Errorf("array index %d out of range", i)
	}
	bp, _ := a.heap.payloadOf(int(a.heap.word(p+wordSize)), tagBlock)
	return a.heap.readSlot(slotPos(bp, i)), nil
}

// ArraySet stores the value on top of the stack as element i of the array
// at stack index ai and pops it.
func (a *Actor) ArraySet(ai, i int) error {
	j, err := a.operand(ai, 1)
	if err != nil {
		return err
	}
	p, err := a.heap.object(a.stack.At(j), TagArray)
	if err != nil {
		return a.asThrow(err)
	}
	if i < 0 || i >= int(a.heap.word(p)) {
		return a.Errorf("array index %d out of range", i)
	}
	bp, _ := a.heap.payloadOf(int(a.heap.word(p+wordSize)), tagBlock)
	a.heap.writeSlot(slotPos(bp, i), a.stack.Top())
	a.stack.SetLen(a.stack.Len() - 1)
	return nil
}

// operand resolves the stack index of a container that must sit below the
// top n values of the current frame.
func (a *Actor) operand(i, n int) (int, error) {
	j, err := a.index(i)
	if err != nil {
		return 0, err
	}
	if a.stack.Len()-n < a.frame.bp || a.stack.Len()-n <= j {
		return 0, a.raiseText(CodeRuntime, "stack underflow")
	}
	return j, nil
}

// ArrayPush appends the value on top of the stack to the array at stack
// index ai and pops it.
func (a *Actor) ArrayPush(ai int) error {
	j, err := a.operand(ai, 1)
	if err != nil {
		return err
	}
	p, err := a.heap.object(a.stack.At(j), TagArray)
	if err != nil {
		return a.asThrow(err)
	}
	n := int(a.heap.word(p))
	bp, _ := a.heap.payloadOf(int(a.heap.word(p+wordSize)), tagBlock)
	if capacity := int(a.heap.word(bp)); n == capacity {
		if err := a.growBlock(j, capacity*2, n); err != nil {
			return err
		}
		p, _ = a.heap.object(a.stack.At(j), TagArray)
		bp, _ = a.heap.payloadOf(int(a.heap.word(p+wordSize)), tagBlock)
	}
	a.heap.writeSlot(slotPos(bp, n), a.stack.Top())
	a.heap.setWord(p, uint64(n+1))
	a.stack.SetLen(a.stack.Len() - 1)
	return nil
}

// growBlock replaces the block of the array or table at absolute stack
// index j with one of slots slots, copying the first used slots.
func (a *Actor) growBlock(j, slots, used int) error {
	if err := a.alloc(ObjectSize(slotsSize(slots))); err != nil {
		return err
	}
	v := a.stack.At(j)
	p, _ := a.heap.object(v, v.tag)
	old := int(a.heap.word(p + wordSize))
	blk, _ := a.heap.newSlots(tagBlock, slots)
	src := old + headerSize + wordSize
	dst := blk + headerSize + wordSize
	copy(a.heap.cur[dst:dst+used*slotSize], a.heap.cur[src:src+used*slotSize])
	a.heap.setWord(p+wordSize, uint64(blk))
	return nil
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

// PushTable pushes an empty table with room for capacity entries.
func (a *Actor) PushTable(capacity int) error {
	if capacity < 1 {
		capacity = 1
	}
	pairs := tooLarge
	if capacity <= maxSlots/2 {
		pairs = slotsSize(2 * capacity)
	}
	if err := a.alloc(sumSize(ObjectSize(2*wordSize), ObjectSize(pairs))); err != nil {
		return err
	}
	blk, _ := a.heap.newSlots(tagBlock, 2*capacity)
	off, _ := a.heap.newHandle(TagTable, 0, blk)
	return a.Push(heapValue(TagTable, off))
}

// TableLen returns the number of entries of a table.
func (a *Actor) TableLen(v Value) (int, error) {
	p, err := a.heap.object(v, TagTable)
	if err != nil {
		return 0, a.asThrow(err)
	}
	return int(a.heap.word(p)), nil
}

// TableGet looks key up in a table.
func (a *Actor) TableGet(v, key Value) (Value, bool, error) {
	p, err := a.heap.object(v, TagTable)
	if err != nil {
		return Nil, false, a.asThrow(err)
	}
	i, err := a.tableFind(p, key)
	if err != nil || i < 0 {
		return Nil, false, err
	}
	bp, _ := a.heap.payloadOf(int(a.heap.word(p+wordSize)), tagBlock)
	return a.heap.readSlot(slotPos(bp, 2*i+1)), true, nil
}

// TableSet pops a value and then a key and stores the pair in the table
// at stack index ti.
func (a *Actor) TableSet(ti int) error {
	j, err := a.operand(ti, 2)
	if err != nil {
		return err
	}
	p, err := a.heap.object(a.stack.At(j), TagTable)
	if err != nil {
		return a.asThrow(err)
	}
	key := a.stack.At(a.stack.Len() - 2)
	if key.IsNil() {
		return a.Errorf("table key is nil")
	}
	i, err := a.tableFind(p, key)
	if err != nil {
		return err
	}
	n := int(a.heap.word(p))
	bp, _ := a.heap.payloadOf(int(a.heap.word(p+wordSize)), tagBlock)
	if i < 0 {
		i = n
		if capacity := int(a.heap.word(bp)) / 2; n == capacity {
			if err := a.growBlock(j, 4*capacity, 2*n); err != nil {
				return err
			}
			p, _ = a.heap.object(a.stack.At(j), TagTable)
			bp, _ = a.heap.payloadOf(int(a.heap.word(p+wordSize)), tagBlock)
		}
		a.heap.writeSlot(slotPos(bp, 2*i), a.stack.At(a.stack.Len()-2))
		a.heap.setWord(p, uint64(n+1))
	}
	a.heap.writeSlot(slotPos(bp, 2*i+1), a.stack.Top())
	a.stack.SetLen(a.stack.Len() - 2)
	return nil
}

func (a *Actor) tableFind(p int, key Value) (int, error) {
	n := int(a.heap.word(p))
	bp, err := a.heap.payloadOf(int(a.heap.word(p+wordSize)), tagBlock)
	if err != nil {
		return -1, a.asThrow(err)
	}
	for i := 0; i < n; i++ {
		k := a.heap.readSlot(slotPos(bp, 2*i))
		if a.equal(k, key) {
			return i, nil
		}
	}
	return -1, nil
}

// equal compares scalars by value and strings by content.
func (a *Actor) equal(x, y Value) bool {
	if x.tag == TagString && y.tag == TagString {
		bx, err1 := a.heap.bytesOf(x, TagString)
		by, err2 := a.heap.bytesOf(y, TagString)
		return err1 == nil && err2 == nil && bytes.Equal(bx, by)
	}
	if x.tag.IsHeap() {
		return x.tag == y.tag && x.bits == y.bits
	}
	return scalarEqual(x, y)
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// Format renders v, following heap references.
func (a *Actor) Format(v Value) string {
	var sb strings.Builder
	a.format(&sb, v, 0)
	return sb.String()
}

func (a *Actor) format(sb *strings.Builder, v Value, depth int) {
	if depth > 8 {
		sb.WriteString("...")
		return
	}
	h := a.heap
	switch v.tag {
	case TagString:
		b, err := h.bytesOf(v, TagString)
		if err != nil {
			sb.WriteString("<bad string>")
			return
		}
		sb.Write(b)
	case TagFixedBuffer, TagBuffer:
		b, err := h.view(v)
		if err != nil {
			sb.WriteString("<bad buffer>")
			return
		}
		fmt.Fprintf(sb, "<%s %d bytes>", v.tag, len(b))
	case TagTuple, TagArray:
		p, err := h.object(v, v.tag)
		lp, rp := "(", ")"
		elems := p
		if err == nil && v.tag == TagArray {
			lp, rp = "[", "]"
			elems, err = h.payloadOf(int(h.word(p+wordSize)), tagBlock)
		}
		if err != nil {
			fmt.Fprintf(sb, "<bad %s>", v.tag)
			return
		}
		n := int(h.word(p))
		sb.WriteString(lp)
		for i := 0; i < n; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			a.format(sb, h.readSlot(slotPos(elems, i)), depth+1)
		}
		sb.WriteString(rp)
	case TagTable:
		p, err := h.object(v, TagTable)
		if err != nil {
			sb.WriteString("<bad table>")
			return
		}
		n := int(h.word(p))
		bp, _ := h.payloadOf(int(h.word(p+wordSize)), tagBlock)
		sb.WriteString("{")
		for i := 0; i < n; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			a.format(sb, h.readSlot(slotPos(bp, 2*i)), depth+1)
			sb.WriteString(": ")
			a.format(sb, h.readSlot(slotPos(bp, 2*i+1)), depth+1)
		}
		sb.WriteString("}")
	default:
		sb.WriteString(v.String())
	}
}
