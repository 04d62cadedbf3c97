package vm

import (
	"errors"
	"fmt"

	"sarma/pkg/value"
)

var (
	// ErrHasUpValues is reported when a prototype with captures other than
	// the implicit environment is used to create a top-level closure.
	ErrHasUpValues = errors.New("cannot use prototype with upvalues other than env to create top-level closure")
	// ErrRequiresEnv is reported when a prototype needs an environment
	// binding but none was supplied.
	ErrRequiresEnv = errors.New("closure requires env upvalue but no environment was provided")
)

// Closure binds a FunctionProto to the concrete upvalue cells it captured.
// UpValues is index-aligned with Proto.UpValues and has exactly the same
// length.
//
// Closures are handles with allocation identity: two *Closure values are
// equal iff they point at the same allocation, never by structural
// comparison, so a *Closure works directly as a map key for caches keyed on
// closure identity.
type Closure struct {
	Proto    *FunctionProto
	UpValues []*UpValue
}

// Value wraps the closure as a machine value.
func (c *Closure) Value() value.Value {
	return value.ClosureValue(c)
}

// AsClosure unwraps a closure handle from a machine value, if it holds one.
func AsClosure(v value.Value) (*Closure, bool) {
	if v.Kind != value.KindClosure {
		return nil, false
	}
	c, ok := v.Fn.(*Closure)
	return c, ok
}

// envUpValue returns the cell backing this closure's environment capture,
// or nil if the proto declares none.
func (c *Closure) envUpValue() *UpValue {
	if i := c.Proto.EnvIndex(); i >= 0 {
		return c.UpValues[i]
	}
	return nil
}

// NewClosure creates a top-level closure, the outermost closure of a
// compiled unit. The prototype must not capture anything besides the
// implicit environment: a single env descriptor binds the supplied
// environment table as a closed cell, and any other capture means the proto
// can only be instantiated through Thread.Instantiate inside an enclosing
// frame.
func NewClosure(proto *FunctionProto, env *value.Table) (*Closure, error) {
	var upvalues []*UpValue

	if len(proto.UpValues) > 0 {
		if len(proto.UpValues) > 1 || proto.UpValues[0].Kind != UpEnv {
			return nil, ErrHasUpValues
		}
		if env == nil {
			return nil, ErrRequiresEnv
		}
		upvalues = []*UpValue{NewClosedUpValue(value.TableValue(env))}
	}

	return &Closure{Proto: proto, UpValues: upvalues}, nil
}

// Instantiate creates a nested closure for proto inside the currently
// executing frame whose closure is enclosing and whose register window
// starts at the absolute slot base. Each descriptor resolves in order:
//
//   - env forwards the enclosing closure's environment cell
//   - local reuses the thread's open cell for that slot, or opens a fresh one
//   - outer forwards the enclosing closure's cell at that index
//
// This path never fails on well-formed compiler output; out-of-range indices
// and a missing enclosing environment are compiler contract violations and
// panic.
func (t *Thread) Instantiate(proto *FunctionProto, enclosing *Closure, base int) *Closure {
	upvalues := make([]*UpValue, len(proto.UpValues))

	for i, desc := range proto.UpValues {
		switch desc.Kind {
		case UpEnv:
			env := enclosing.envUpValue()
			if env == nil {
				panic("vm: proto captures env but enclosing closure has no env upvalue")
			}
			upvalues[i] = env

		case UpParentLocal:
			slot := base + desc.Index
			if slot < 0 || slot >= len(t.regs) {
				panic(fmt.Sprintf("vm: parent-local capture of register %d outside the enclosing frame", desc.Index))
			}
			upvalues[i] = t.OpenUpvalue(slot)

		case UpOuter:
			if desc.Index < 0 || desc.Index >= len(enclosing.UpValues) {
				panic(fmt.Sprintf("vm: outer capture index %d out of range for enclosing closure with %d upvalues",
					desc.Index, len(enclosing.UpValues)))
			}
			upvalues[i] = enclosing.UpValues[desc.Index]

		default:
			panic(fmt.Sprintf("vm: unknown upvalue descriptor kind %d", desc.Kind))
		}
	}

	return &Closure{Proto: proto, UpValues: upvalues}
}
