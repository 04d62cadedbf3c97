package value

import (
	"fmt"
	"math"
	"strconv"
)

type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTable
	KindClosure
)

// String names the kind for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindClosure:
		return "closure"
	default:
		return "unknown"
	}
}

// Value represents a dynamically-typed value in the machine: constants,
// register contents, table entries, and closed upvalue payloads.
//
// Tables and closures are reference kinds: the payload is a pointer, and two
// Values holding the same pointer denote the same object. The closure payload
// is deliberately untyped here so that the vm package, which owns the closure
// type, can depend on this package without a cycle.
type Value struct {
	Kind Kind
	B    bool
	I64  int64
	F64  float64
	Str  string
	Tab  *Table
	Fn   any
}

// Nil returns the nil value.
func Nil() Value {
	return Value{Kind: KindNil}
}

// NewInt creates a new integer Value.
func NewInt(i int64) Value {
	return Value{Kind: KindInt, I64: i}
}

// NewFloat creates a new float Value.
func NewFloat(f float64) Value {
	return Value{Kind: KindFloat, F64: f}
}

// NewBool creates a new boolean Value.
func NewBool(b bool) Value {
	return Value{Kind: KindBool, B: b}
}

// NewString creates a new string Value.
func NewString(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// TableValue wraps a table as a Value.
func TableValue(t *Table) Value {
	return Value{Kind: KindTable, Tab: t}
}

// ClosureValue wraps a closure handle as a Value. The handle must be a
// pointer type so that Equal compares allocation identity.
func ClosureValue(fn any) Value {
	return Value{Kind: KindClosure, Fn: fn}
}

// IsNil reports whether the value is nil.
func (v Value) IsNil() bool {
	return v.Kind == KindNil
}

// Truthy reports the boolean interpretation used by conditional jumps:
// nil and false are falsey, everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNil:
		return false
	case KindBool:
		return v.B
	default:
		return true
	}
}

// String renders the value as a string.
func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.B {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindTable:
		return fmt.Sprintf("table[%p]", v.Tab)
	case KindClosure:
		return fmt.Sprintf("closure[%p]", v.Fn)
	default:
		return "<invalid>"
	}
}

// AsFloat64 converts the value to float64 if possible.
func (v Value) AsFloat64() (float64, error) {
	switch v.Kind {
	case KindFloat:
		return v.F64, nil
	case KindInt:
		return float64(v.I64), nil
	default:
		return 0, fmt.Errorf("cannot convert %v to float", v.Kind)
	}
}

// AsInt64 converts the value to int64 if possible.
func (v Value) AsInt64() (int64, error) {
	switch v.Kind {
	case KindInt:
		return v.I64, nil
	case KindFloat:
		return int64(v.F64), nil
	default:
		return 0, fmt.Errorf("cannot convert %v to int", v.Kind)
	}
}

// AsBool converts the value to bool if possible.
func (v Value) AsBool() (bool, error) {
	switch v.Kind {
	case KindBool:
		return v.B, nil
	case KindInt:
		return v.I64 != 0, nil
	case KindFloat:
		return math.Abs(v.F64) > 0, nil
	default:
		return false, fmt.Errorf("cannot convert %v to bool", v.Kind)
	}
}

// Equal implements value equality: numbers compare across int/float,
// strings and bools compare by content, tables and closures compare by
// allocation identity, nil equals nil.
func (v Value) Equal(o Value) bool {
	switch v.Kind {
	case KindNil:
		return o.Kind == KindNil
	case KindBool:
		return o.Kind == KindBool && v.B == o.B
	case KindInt:
		switch o.Kind {
		case KindInt:
			return v.I64 == o.I64
		case KindFloat:
			return float64(v.I64) == o.F64
		}
		return false
	case KindFloat:
		switch o.Kind {
		case KindInt:
			return v.F64 == float64(o.I64)
		case KindFloat:
			return v.F64 == o.F64
		}
		return false
	case KindString:
		return o.Kind == KindString && v.Str == o.Str
	case KindTable:
		return o.Kind == KindTable && v.Tab == o.Tab
	case KindClosure:
		return o.Kind == KindClosure && v.Fn == o.Fn
	default:
		return false
	}
}
