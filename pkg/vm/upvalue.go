package vm

import "sarma/pkg/value"

// UpValue is a shared mutable cell for one captured variable. Every closure
// that captures the variable holds a pointer to the identical cell, which is
// what makes a write through one closure visible through the others.
//
// The cell is either open, in which case the value still lives in its
// thread's register stack at slot and all access forwards there, or closed,
// in which case the value was copied out and is owned by the cell. The
// transition is one-way: once closed, a cell never reopens.
type UpValue struct {
	thread *Thread // non-nil while open
	slot   int     // absolute stack slot while open
	val    value.Value
}

// NewClosedUpValue allocates a cell that starts out closed over v. Used for
// environment bindings, whose value is a heap table rather than a stack slot.
func NewClosedUpValue(v value.Value) *UpValue {
	return &UpValue{val: v}
}

// newOpenUpValue allocates a cell open into t's stack at the absolute slot.
// Callers go through Thread.OpenUpvalue so that sibling captures of the same
// slot share one cell.
func newOpenUpValue(t *Thread, slot int) *UpValue {
	return &UpValue{thread: t, slot: slot}
}

// IsOpen reports whether the cell still aliases a live stack slot.
func (uv *UpValue) IsOpen() bool {
	return uv.thread != nil
}

// Get returns the current value, reading through to the stack slot while
// open. It always reflects the latest write, no matter which closure made it.
func (uv *UpValue) Get() value.Value {
	if uv.thread != nil {
		return uv.thread.regs[uv.slot]
	}
	return uv.val
}

// Set writes the value, through to the stack slot while open, or into the
// cell itself once closed.
func (uv *UpValue) Set(v value.Value) {
	if uv.thread != nil {
		uv.thread.regs[uv.slot] = v
		return
	}
	uv.val = v
}

// close copies the current stack value into the cell and detaches it from
// the stack. Closing an already-closed cell is a no-op.
func (uv *UpValue) close() {
	if uv.thread == nil {
		return
	}
	uv.val = uv.thread.regs[uv.slot]
	uv.thread = nil
}
