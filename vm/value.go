package vm

import (
	"fmt"
	"math"
	"strconv"
)

// Tag identifies the category of a Value.
type Tag uint8

const (
	TagNil Tag = iota
	TagBool
	TagInt
	TagReal
	TagPID
	TagNative
	TagBytecode
	TagFixedBuffer
	TagBuffer
	TagString
	TagTuple
	TagArray
	TagTable
)

var tagNames = [...]string{
	TagNil:         "nil",
	TagBool:        "boolean",
	TagInt:         "integer",
	TagReal:        "real",
	TagPID:         "pid",
	TagNative:      "native-function",
	TagBytecode:    "byte-code-function",
	TagFixedBuffer: "fixed-buffer",
	TagBuffer:      "buffer",
	TagString:      "string",
	TagTuple:       "tuple",
	TagArray:       "array",
	TagTable:       "table",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "tag(" + strconv.Itoa(int(t)) + ")"
}

// IsHeap reports whether values of this tag live in an actor heap.
func (t Tag) IsHeap() bool {
	return t >= TagFixedBuffer && t <= TagTable
}

// IsCallable reports whether values of this tag can be called.
func (t Tag) IsCallable() bool {
	return t == TagNative || t == TagBytecode
}

// NativeFunc is a host function callable from an actor. Arguments are read
// through Actor.Arg; the function leaves its result on top of the stack (or
// nothing, which yields nil). A returned error becomes a throw.
type NativeFunc func(a *Actor) error

// Prototype is a compiled function body executed by the Dispatcher. The core
// treats it as opaque.
type Prototype any

// Value is a tagged union. Scalars are stored in bits; heap categories store
// the object's offset in the owning actor's heap; functions carry their
// target in fn.
//
// A heap-category Value is only meaningful relative to the heap it was
// created in, and only until the next collection of that heap unless it is
// reachable from a root.
type Value struct {
	tag  Tag
	bits uint64
	fn   any
}

// Nil is the nil value.
var Nil = Value{}

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{tag: TagBool, bits: 1}
	}
	return Value{tag: TagBool}
}

// Int returns an integer value.
func Int(n int64) Value {
	return Value{tag: TagInt, bits: uint64(n)}
}

// Real returns a real value.
func Real(f float64) Value {
	return Value{tag: TagReal, bits: math.Float64bits(f)}
}

// PIDValue wraps a PID.
func PIDValue(p PID) Value {
	return Value{tag: TagPID, bits: uint64(p)}
}

// Native wraps a native function.
func Native(f NativeFunc) Value {
	if f == nil {
		return Value{tag: TagNative}
	}
	return Value{tag: TagNative, fn: f}
}

// Bytecode wraps a prototype for execution by the Dispatcher.
func Bytecode(p Prototype) Value {
	return Value{tag: TagBytecode, fn: p}
}

func heapValue(t Tag, off int) Value {
	return Value{tag: t, bits: uint64(off)}
}

// Tag returns the value's category.
func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNil() bool { return v.tag == TagNil }

// AsBool returns the payload of a boolean value.
func (v Value) AsBool() bool { return v.tag == TagBool && v.bits != 0 }

// AsInt returns the payload of an integer value.
func (v Value) AsInt() int64 { return int64(v.bits) }

// AsReal returns the payload of a real value.
func (v Value) AsReal() float64 { return math.Float64frombits(v.bits) }

// AsPID returns the payload of a pid value.
func (v Value) AsPID() PID { return PID(v.bits) }

// AsNative returns the function of a native value, or nil.
func (v Value) AsNative() NativeFunc {
	f, _ := v.fn.(NativeFunc)
	return f
}

// AsPrototype returns the prototype of a byte-code value.
func (v Value) AsPrototype() Prototype {
	if v.tag != TagBytecode {
		return nil
	}
	return v.fn
}

// HeapIndex returns the heap offset of a heap-category value.
func (v Value) HeapIndex() int { return int(v.bits) }

// Truthy follows the usual rule: only nil and false are false.
func (v Value) Truthy() bool {
	switch v.tag {
	case TagNil:
		return false
	case TagBool:
		return v.bits != 0
	}
	return true
}

// String renders scalar values. Heap values render as tag@offset; use
// Actor.Format to render their contents.
func (v Value) String() string {
	switch v.tag {
	case TagNil:
		return "nil"
	case TagBool:
		return strconv.FormatBool(v.bits != 0)
	case TagInt:
		return strconv.FormatInt(int64(v.bits), 10)
	case TagReal:
		return strconv.FormatFloat(v.AsReal(), 'g', -1, 64)
	case TagPID:
		return fmt.Sprintf("<pid %d>", v.bits)
	case TagNative:
		return "<native>"
	case TagBytecode:
		return fmt.Sprintf("<function %v>", v.fn)
	}
	return fmt.Sprintf("<%s@%d>", v.tag, v.bits)
}

// scalarEqual compares values that do not need heap access.
func scalarEqual(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagNil:
		return true
	case TagNative, TagBytecode:
		return false
	}
	return a.bits == b.bits
}
