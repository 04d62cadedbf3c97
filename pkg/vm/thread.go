package vm

import (
	"sort"

	"sarma/pkg/value"
)

// Frame represents one function activation.
type Frame struct {
	Closure *Closure      // closure being executed
	Base    int           // absolute stack slot of this frame's register 0
	IP      int           // instruction index into Closure.Proto.Opcodes
	RetSlot int           // absolute slot for the result in the caller, -1 if discarded
	Varargs []value.Value // extra arguments beyond FixedParams, if HasVarargs
}

// Thread is the execution context upvalues open into: one contiguous
// register stack shared by all frames, the frame stack, and the index of
// currently open upvalue cells keyed by absolute stack slot.
//
// Frames carve windows out of the shared stack via Base, so a register named
// by an instruction maps to the stable absolute slot Base+reg for the life
// of the frame. That stability is what lets an open cell be identified by
// (thread, slot) alone.
type Thread struct {
	regs   []value.Value
	frames []*Frame
	open   map[int]*UpValue
}

// NewThread creates an empty thread.
func NewThread() *Thread {
	return &Thread{
		regs:   make([]value.Value, 0, 64),
		frames: make([]*Frame, 0, 8),
		open:   make(map[int]*UpValue),
	}
}

// Depth returns the number of live frames.
func (t *Thread) Depth() int {
	return len(t.frames)
}

// CurrentFrame returns the innermost frame, or nil if none.
func (t *Thread) CurrentFrame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// PushFrame activates c with the given arguments. The frame's register
// window is StackSize slots appended to the stack; fixed parameters land in
// registers 0..FixedParams-1, missing ones default to nil, and surplus
// arguments are retained as varargs only when the proto declares them.
// retSlot is the absolute slot in the caller that receives the result, or -1.
func (t *Thread) PushFrame(c *Closure, args []value.Value, retSlot int) *Frame {
	base := len(t.regs)
	t.regs = append(t.regs, make([]value.Value, c.Proto.StackSize)...)

	fixed := int(c.Proto.FixedParams)
	for i := 0; i < fixed && i < len(args); i++ {
		t.regs[base+i] = args[i]
	}

	frame := &Frame{
		Closure: c,
		Base:    base,
		IP:      0,
		RetSlot: retSlot,
	}
	if c.Proto.HasVarargs && len(args) > fixed {
		frame.Varargs = append(frame.Varargs, args[fixed:]...)
	}

	t.frames = append(t.frames, frame)
	return frame
}

// PopFrame closes every upvalue still open into the current frame's window,
// then discards the frame and shrinks the stack so its slots can be reused.
func (t *Thread) PopFrame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}

	f := t.frames[len(t.frames)-1]
	t.CloseUpvalues(f.Base)
	t.frames = t.frames[:len(t.frames)-1]
	t.regs = t.regs[:f.Base]
	return f
}

// GetReg reads the absolute stack slot.
func (t *Thread) GetReg(slot int) value.Value {
	return t.regs[slot]
}

// SetReg writes the absolute stack slot.
func (t *Thread) SetReg(slot int, v value.Value) {
	t.regs[slot] = v
}

// OpenUpvalue returns the open cell for the absolute slot, creating it on
// first capture. Reuse is mandatory: a second closure capturing the same
// slot in the same frame must share the first capture's cell, or the two
// would stop observing each other's writes.
func (t *Thread) OpenUpvalue(slot int) *UpValue {
	if uv, ok := t.open[slot]; ok {
		return uv
	}
	uv := newOpenUpValue(t, slot)
	t.open[slot] = uv
	return uv
}

// OpenCount returns the number of currently open cells.
func (t *Thread) OpenCount() int {
	return len(t.open)
}

// CloseUpvalues closes every cell open at or above the absolute slot from,
// in slot order, copying the live stack value into each cell and dropping it
// from the open index. It must run before those slots are reused: a frame
// return, a tail-call window reuse, or a block exit that recycles registers.
// Cells already closed are untouched.
func (t *Thread) CloseUpvalues(from int) {
	var slots []int
	for slot := range t.open {
		if slot >= from {
			slots = append(slots, slot)
		}
	}
	sort.Ints(slots)

	for _, slot := range slots {
		t.open[slot].close()
		delete(t.open, slot)
	}
}
