package mmvar

import (
	"fmt"
	"math"
	"strconv"

	"github.com/hupe1980/mmvar/internal/directory"
)

// MaxNameLen is the longest variable name in bytes.
const MaxNameLen = directory.MaxNameLen

// Type is the type tag of a variable.
//
// Int64, Uint64, Float64 and Bool are immediate: the value lives inside the
// directory entry. Bytes and String are indirect: the entry points at a
// chunk in the arena.
type Type = directory.Type

const (
	TypeInt64   = directory.TypeInt64
	TypeUint64  = directory.TypeUint64
	TypeFloat64 = directory.TypeFloat64
	TypeBool    = directory.TypeBool
	TypeBytes   = directory.TypeBytes
	TypeString  = directory.TypeString
)

// Handle refers to a defined variable. It stays valid until the variable is
// removed; after that every use fails with ErrNotFound, even if the slot is
// reused for another variable.
type Handle struct {
	slot uint32
	gen  uint32
	typ  Type
}

// Type returns the type of the variable.
func (h Handle) Type() Type { return h.typ }

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("handle(%d/%d %s)", h.slot, h.gen, h.typ)
}

func handleOf(e directory.Entry) Handle {
	return Handle{slot: e.Slot, gen: e.Gen, typ: e.Type}
}

// Value is a typed variable value.
type Value struct {
	typ  Type
	bits uint64
	data []byte
}

// Int64Value returns a TypeInt64 value.
func Int64Value(v int64) Value { return Value{typ: TypeInt64, bits: uint64(v)} }

// Uint64Value returns a TypeUint64 value.
func Uint64Value(v uint64) Value { return Value{typ: TypeUint64, bits: v} }

// Float64Value returns a TypeFloat64 value. The IEEE 754 bits are stored
// unchanged, NaN payloads included.
func Float64Value(v float64) Value { return Value{typ: TypeFloat64, bits: math.Float64bits(v)} }

// BytesValue returns a TypeBytes value backed by b. b is copied into the
// store by Write, not here.
func BytesValue(b []byte) Value { return Value{typ: TypeBytes, data: b} }

// StringValue returns a TypeString value holding a copy of s.
func StringValue(s string) Value { return Value{typ: TypeString, data: []byte(s)} }

// BoolValue returns a TypeBool value.
func BoolValue(v bool) Value {
	if v {
		return Value{typ: TypeBool, bits: 1}
	}
	return Value{typ: TypeBool}
}

// Type returns the type of v.
func (v Value) Type() Type { return v.typ }

// Int64 returns the value of an Int64 variable.
func (v Value) Int64() int64 { return int64(v.bits) }

// Uint64 returns the value of a Uint64 variable.
func (v Value) Uint64() uint64 { return v.bits }

// Float64 returns the value of a Float64 variable.
func (v Value) Float64() float64 { return math.Float64frombits(v.bits) }

// Bool returns the value of a Bool variable.
func (v Value) Bool() bool { return v.bits != 0 }

// Bytes returns the contents of a Bytes or String variable.
func (v Value) Bytes() []byte { return v.data }

// Len returns the logical size of v in bytes.
func (v Value) Len() int {
	if v.typ.Immediate() {
		return 8
	}
	return len(v.data)
}

// String returns the contents of a String variable and a printable form of
// any other value.
func (v Value) String() string {
	switch v.typ {
	case TypeString:
		return string(v.data)
	case TypeBytes:
		return fmt.Sprintf("%x", v.data)
	case TypeInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case TypeUint64:
		return strconv.FormatUint(v.bits, 10)
	case TypeFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.Bool())
	default:
		return "<invalid>"
	}
}

// Variable describes a defined variable during Range.
type Variable struct {
	Name   string
	Type   Type
	Size   uint64
	Handle Handle
}
