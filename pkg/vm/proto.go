package vm

import (
	"fmt"
	"io"

	"sarma/pkg/value"
)

type UpValueKind int

const (
	// UpEnv binds the upvalue to the globals environment table at
	// closure-creation time.
	UpEnv UpValueKind = iota
	// UpParentLocal captures register Index of the directly enclosing,
	// currently executing frame.
	UpParentLocal
	// UpOuter forwards upvalue Index of the enclosing closure without
	// re-resolving it against the stack.
	UpOuter
)

// String names the descriptor kind for listings.
func (k UpValueKind) String() string {
	switch k {
	case UpEnv:
		return "env"
	case UpParentLocal:
		return "local"
	case UpOuter:
		return "outer"
	default:
		return "unknown"
	}
}

// UpValueDescriptor is the compile-time description of one capture slot.
// Index is a register for UpParentLocal, an upvalue index for UpOuter, and
// unused for UpEnv.
type UpValueDescriptor struct {
	Kind  UpValueKind
	Index int
}

// String returns a string representation of the descriptor.
func (d UpValueDescriptor) String() string {
	if d.Kind == UpEnv {
		return "env"
	}
	return fmt.Sprintf("%s %d", d.Kind, d.Index)
}

// FunctionProto is one compiled function body. It is immutable after
// construction and shared by pointer: every closure created from the same
// definition site references the identical proto, and a proto owns its
// lexically nested prototypes in Protos.
//
// The position of a descriptor in UpValues is the upvalue's identity within
// this proto; a closure's upvalue vector is index-aligned with it.
type FunctionProto struct {
	FixedParams uint8
	HasVarargs  bool
	StackSize   uint16
	Constants   []value.Value
	Opcodes     []Instruction
	UpValues    []UpValueDescriptor
	Protos      []*FunctionProto
}

// EnvIndex returns the position of the Environment descriptor in UpValues,
// or -1 if this proto does not capture the environment.
func (p *FunctionProto) EnvIndex() int {
	for i, d := range p.UpValues {
		if d.Kind == UpEnv {
			return i
		}
	}
	return -1
}

// Dump writes a human-readable listing of the proto and, recursively, its
// nested prototypes. Advisory output only; nothing parses it back.
func (p *FunctionProto) Dump(w io.Writer) {
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "FunctionProto(%p)\n", p)
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "fixed_params: %d, has_varargs: %t, stack_size: %d\n",
		p.FixedParams, p.HasVarargs, p.StackSize)
	if len(p.Constants) > 0 {
		fmt.Fprintln(w, "constants:")
		for i, c := range p.Constants {
			fmt.Fprintf(w, "%d: %s %s\n", i, c.Kind, c)
		}
	}
	if len(p.Opcodes) > 0 {
		fmt.Fprintln(w, "opcodes:")
		for i, in := range p.Opcodes {
			fmt.Fprintf(w, "%d: %s\n", i, in)
		}
	}
	if len(p.UpValues) > 0 {
		fmt.Fprintln(w, "upvalues:")
		for i, d := range p.UpValues {
			fmt.Fprintf(w, "%d: %s\n", i, d)
		}
	}
	if len(p.Protos) > 0 {
		fmt.Fprintln(w, "prototypes:")
		for _, sub := range p.Protos {
			sub.Dump(w)
		}
	}
}
