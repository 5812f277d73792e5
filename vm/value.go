// Package vm hosts the live managed runtime: classes and methods loaded
// from IR modules, a bytecode interpreter, the method entry redirection
// primitive, and the field-indirection slot table that gives storage to
// fields added after a type was loaded.
package vm

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: tagged runtime value
// ---------------------------------------------------------------------------

// Kind identifies the runtime type of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindFloat32
	KindString
	KindObject
	KindSlotRef // stable reference into a field-indirection slot
)

// Value is a tagged runtime value. Exactly one payload field is
// meaningful for a given kind.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	obj  *Object
	slot *Slot
}

// Predefined values.
var (
	Nil   = Value{kind: KindNil}
	True  = Value{kind: KindBool, i: 1}
	False = Value{kind: KindBool, i: 0}
)

// FromInt boxes an integer.
func FromInt(n int64) Value { return Value{kind: KindInt, i: n} }

// FromFloat64 boxes a 64-bit float.
func FromFloat64(f float64) Value { return Value{kind: KindFloat, f: f} }

// FromFloat32 boxes a 32-bit float.
func FromFloat32(f float32) Value { return Value{kind: KindFloat32, f: float64(f)} }

// FromString boxes a string.
func FromString(s string) Value { return Value{kind: KindString, s: s} }

// FromBool boxes a boolean.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromObject boxes a heap object.
func FromObject(o *Object) Value {
	if o == nil {
		return Nil
	}
	return Value{kind: KindObject, obj: o}
}

// FromSlot boxes a stable reference into a field-indirection slot.
func FromSlot(s *Slot) Value { return Value{kind: KindSlotRef, slot: s} }

// Kind returns the value's runtime kind.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether the value is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsTruthy reports whether the value is neither nil nor false.
func (v Value) IsTruthy() bool {
	return !(v.kind == KindNil || (v.kind == KindBool && v.i == 0))
}

// Int returns the integer payload. Zero for non-integers.
func (v Value) Int() int64 { return v.i }

// Float64 returns the float payload. Zero for non-floats.
func (v Value) Float64() float64 { return v.f }

// Str returns the string payload.
func (v Value) Str() string { return v.s }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.kind == KindBool && v.i != 0 }

// Object returns the heap object payload, or nil.
func (v Value) Object() *Object { return v.obj }

// SlotRef returns the slot reference payload, or nil.
func (v Value) SlotRef() *Slot { return v.slot }

// Equal reports value equality: same kind, same payload. Objects compare
// by identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool, KindInt:
		return v.i == o.i
	case KindFloat, KindFloat32:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindObject:
		return v.obj == o.obj
	case KindSlotRef:
		return v.slot == o.slot
	}
	return false
}

// String returns a printable representation for debugging.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat, KindFloat32:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindObject:
		return fmt.Sprintf("a %s", v.obj.Class.Name)
	case KindSlotRef:
		return "<slot ref>"
	}
	return "<unknown>"
}
