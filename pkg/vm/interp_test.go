package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"sarma/pkg/value"
)

// runProgram executes proto over a fresh environment table and returns it.
func runProgram(t *testing.T, proto *FunctionProto, opts ...Option) *value.Table {
	t.Helper()

	env := value.NewTable()
	it, err := New(proto, env, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := it.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return env
}

// incrProto builds the shared "bump my captured counter by one" function.
func incrProto() *FunctionProto {
	return &FunctionProto{
		StackSize: 2,
		Constants: []value.Value{value.NewInt(1)},
		UpValues:  []UpValueDescriptor{{Kind: UpParentLocal, Index: 0}},
		Opcodes: []Instruction{
			{Op: OpGetUpval, A: 0, B: 0},
			{Op: OpLoadK, A: 1, B: 0},
			{Op: OpAdd, A: 0, B: 0, C: 1},
			{Op: OpSetUpval, A: 0, B: 0},
			{Op: OpRet, A: 0, B: 1},
		},
	}
}

func TestSiblingClosuresShareACapturedLocal(t *testing.T) {
	getProto := &FunctionProto{
		StackSize: 1,
		UpValues:  []UpValueDescriptor{{Kind: UpParentLocal, Index: 0}},
		Opcodes: []Instruction{
			{Op: OpGetUpval, A: 0, B: 0},
			{Op: OpRet, A: 0, B: 1},
		},
	}

	main := &FunctionProto{
		StackSize: 8,
		Constants: []value.Value{
			value.NewInt(10),
			value.NewString("result"),
			value.NewString("slot"),
		},
		UpValues: []UpValueDescriptor{{Kind: UpEnv}},
		Protos:   []*FunctionProto{incrProto(), getProto},
		Opcodes: []Instruction{
			{Op: OpLoadK, A: 0, B: 0},    // r0 = 10, the shared local
			{Op: OpClosure, A: 1, B: 0},  // incr, capturing r0
			{Op: OpClosure, A: 2, B: 1},  // get, capturing the same r0
			{Op: OpMove, A: 3, B: 1},
			{Op: OpCall, A: 3, B: 0, C: 1}, // r3 = incr() = 11
			{Op: OpMove, A: 4, B: 2},
			{Op: OpCall, A: 4, B: 0, C: 1}, // r4 = get() = 11
			{Op: OpSetGlobal, A: 4, B: 1},
			{Op: OpMove, A: 5, B: 0}, // the stack slot itself saw the write
			{Op: OpSetGlobal, A: 5, B: 2},
			{Op: OpRet, A: 0, B: 0},
		},
	}

	env := runProgram(t, main)
	if got := env.Get("result"); got.I64 != 11 {
		t.Errorf("get() after incr(): expected 11, got %s", got)
	}
	if got := env.Get("slot"); got.I64 != 11 {
		t.Errorf("open upvalue write must land in the stack slot: expected 11, got %s", got)
	}
}

func TestCounterSurvivesItsFrame(t *testing.T) {
	makeCounter := &FunctionProto{
		FixedParams: 1,
		StackSize:   4,
		Protos:      []*FunctionProto{incrProto()},
		Opcodes: []Instruction{
			{Op: OpClosure, A: 1, B: 0}, // capture the parameter in r0
			{Op: OpRet, A: 1, B: 1},     // returning pops the frame and closes the cell
		},
	}

	main := &FunctionProto{
		StackSize: 8,
		Constants: []value.Value{value.NewInt(5), value.NewString("result")},
		UpValues:  []UpValueDescriptor{{Kind: UpEnv}},
		Protos:    []*FunctionProto{makeCounter},
		Opcodes: []Instruction{
			{Op: OpLoadK, A: 0, B: 0},
			{Op: OpClosure, A: 1, B: 0},
			{Op: OpMove, A: 2, B: 1},
			{Op: OpMove, A: 3, B: 0},
			{Op: OpCall, A: 2, B: 1, C: 1}, // r2 = makeCounter(5)
			{Op: OpMove, A: 3, B: 2},
			{Op: OpCall, A: 3, B: 0, C: 1}, // 6
			{Op: OpMove, A: 4, B: 2},
			{Op: OpCall, A: 4, B: 0, C: 1}, // 7
			{Op: OpSetGlobal, A: 4, B: 1},
			{Op: OpRet, A: 0, B: 0},
		},
	}

	env := runProgram(t, main)
	if got := env.Get("result"); got.I64 != 7 {
		t.Errorf("counter after its frame died: expected 7, got %s", got)
	}
}

func TestNestedClosureReachesGlobalsThroughEnv(t *testing.T) {
	reader := &FunctionProto{
		StackSize: 2,
		Constants: []value.Value{value.NewString("x")},
		UpValues:  []UpValueDescriptor{{Kind: UpEnv}},
		Opcodes: []Instruction{
			{Op: OpGetGlobal, A: 0, B: 0},
			{Op: OpRet, A: 0, B: 1},
		},
	}

	main := &FunctionProto{
		StackSize: 4,
		Constants: []value.Value{
			value.NewString("x"),
			value.NewInt(42),
			value.NewString("y"),
		},
		UpValues: []UpValueDescriptor{{Kind: UpEnv}},
		Protos:   []*FunctionProto{reader},
		Opcodes: []Instruction{
			{Op: OpLoadK, A: 0, B: 1},
			{Op: OpSetGlobal, A: 0, B: 0}, // x = 42
			{Op: OpClosure, A: 1, B: 0},   // reader forwards the env upvalue
			{Op: OpMove, A: 2, B: 1},
			{Op: OpCall, A: 2, B: 0, C: 1},
			{Op: OpSetGlobal, A: 2, B: 2}, // y = reader()
			{Op: OpRet, A: 0, B: 0},
		},
	}

	env := runProgram(t, main)
	if got := env.Get("y"); got.I64 != 42 {
		t.Errorf("global read through forwarded env: expected 42, got %s", got)
	}
}

func TestLoopArithmetic(t *testing.T) {
	main := &FunctionProto{
		StackSize: 8,
		Constants: []value.Value{
			value.NewInt(0),
			value.NewInt(1),
			value.NewInt(5),
			value.NewString("sum"),
		},
		UpValues: []UpValueDescriptor{{Kind: UpEnv}},
		Opcodes: []Instruction{
			{Op: OpLoadK, A: 0, B: 0},      // 0: acc = 0
			{Op: OpLoadK, A: 1, B: 1},      // 1: i = 1
			{Op: OpLoadK, A: 2, B: 2},      // 2: limit = 5
			{Op: OpLe, A: 3, B: 1, C: 2},   // 3: i <= limit
			{Op: OpJmpf, A: 3, B: 9},       // 4
			{Op: OpAdd, A: 0, B: 0, C: 1},  // 5: acc += i
			{Op: OpLoadK, A: 4, B: 1},      // 6
			{Op: OpAdd, A: 1, B: 1, C: 4},  // 7: i += 1
			{Op: OpJmp, A: 3},              // 8
			{Op: OpSetGlobal, A: 0, B: 3},  // 9: sum = acc
			{Op: OpRet, A: 0, B: 0},        // 10
		},
	}

	env := runProgram(t, main)
	if got := env.Get("sum"); got.I64 != 15 {
		t.Errorf("sum 1..5: expected 15, got %s", got)
	}
}

func TestVarargs(t *testing.T) {
	sum := &FunctionProto{
		HasVarargs: true,
		StackSize:  4,
		Opcodes: []Instruction{
			{Op: OpVararg, A: 0, B: 2},
			{Op: OpAdd, A: 0, B: 0, C: 1},
			{Op: OpRet, A: 0, B: 1},
		},
	}

	main := &FunctionProto{
		StackSize: 8,
		Constants: []value.Value{
			value.NewInt(3),
			value.NewInt(4),
			value.NewString("result"),
		},
		UpValues: []UpValueDescriptor{{Kind: UpEnv}},
		Protos:   []*FunctionProto{sum},
		Opcodes: []Instruction{
			{Op: OpClosure, A: 0, B: 0},
			{Op: OpMove, A: 1, B: 0},
			{Op: OpLoadK, A: 2, B: 0},
			{Op: OpLoadK, A: 3, B: 1},
			{Op: OpCall, A: 1, B: 2, C: 1}, // r1 = sum(3, 4)
			{Op: OpSetGlobal, A: 1, B: 2},
			{Op: OpRet, A: 0, B: 0},
		},
	}

	env := runProgram(t, main)
	if got := env.Get("result"); got.I64 != 7 {
		t.Errorf("vararg sum: expected 7, got %s", got)
	}
}

func TestPrintWritesToConfiguredWriter(t *testing.T) {
	main := &FunctionProto{
		StackSize: 2,
		Constants: []value.Value{value.NewString("hello")},
		Opcodes: []Instruction{
			{Op: OpLoadK, A: 0, B: 0},
			{Op: OpPrint, A: 0},
			{Op: OpHalt},
		},
	}

	var buf bytes.Buffer
	it, err := New(main, nil, WithWriter(&buf))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := it.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := buf.String(); got != "hello\n" {
		t.Errorf("print output: expected %q, got %q", "hello\n", got)
	}
}

func TestMaxStepsGuard(t *testing.T) {
	main := &FunctionProto{
		StackSize: 1,
		Opcodes: []Instruction{
			{Op: OpJmp, A: 0},
		},
	}

	it, err := New(main, nil, WithMaxSteps(10))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := it.Run(); !errors.Is(err, ErrMaxStepsExceeded) {
		t.Errorf("expected ErrMaxStepsExceeded, got %v", err)
	}
}

func TestCallOnNonClosureFails(t *testing.T) {
	main := &FunctionProto{
		StackSize: 2,
		Constants: []value.Value{value.NewInt(9)},
		Opcodes: []Instruction{
			{Op: OpLoadK, A: 0, B: 0},
			{Op: OpCall, A: 0, B: 0, C: 1},
		},
	}

	it, err := New(main, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = it.Run()
	if err == nil || !strings.Contains(err.Error(), "attempt to call") {
		t.Errorf("expected call-on-non-closure error, got %v", err)
	}
}

func TestTableOps(t *testing.T) {
	main := &FunctionProto{
		StackSize: 8,
		Constants: []value.Value{
			value.NewString("k"),
			value.NewInt(7),
			value.NewString("out"),
		},
		UpValues: []UpValueDescriptor{{Kind: UpEnv}},
		Opcodes: []Instruction{
			{Op: OpNewTable, A: 0},
			{Op: OpLoadK, A: 1, B: 0},      // key "k"
			{Op: OpLoadK, A: 2, B: 1},      // 7
			{Op: OpSetTable, A: 0, B: 1, C: 2},
			{Op: OpGetTable, A: 3, B: 0, C: 1},
			{Op: OpSetGlobal, A: 3, B: 2},
			{Op: OpRet, A: 0, B: 0},
		},
	}

	env := runProgram(t, main)
	if got := env.Get("out"); got.I64 != 7 {
		t.Errorf("table round trip: expected 7, got %s", got)
	}
}

func TestExplicitCloseInsideFrame(t *testing.T) {
	// a closure captures r1, then CLOSE recycles the register for a new
	// value; the cell must keep the pre-close value
	get := &FunctionProto{
		StackSize: 1,
		UpValues:  []UpValueDescriptor{{Kind: UpParentLocal, Index: 1}},
		Opcodes: []Instruction{
			{Op: OpGetUpval, A: 0, B: 0},
			{Op: OpRet, A: 0, B: 1},
		},
	}

	main := &FunctionProto{
		StackSize: 8,
		Constants: []value.Value{
			value.NewInt(1),
			value.NewInt(2),
			value.NewString("first"),
		},
		UpValues: []UpValueDescriptor{{Kind: UpEnv}},
		Protos:   []*FunctionProto{get},
		Opcodes: []Instruction{
			{Op: OpLoadK, A: 1, B: 0},   // r1 = 1
			{Op: OpClosure, A: 2, B: 0}, // capture r1
			{Op: OpClose, A: 1},         // leaving r1's scope
			{Op: OpLoadK, A: 1, B: 1},   // r1 reused, now 2
			{Op: OpMove, A: 3, B: 2},
			{Op: OpCall, A: 3, B: 0, C: 1},
			{Op: OpSetGlobal, A: 3, B: 2},
			{Op: OpRet, A: 0, B: 0},
		},
	}

	env := runProgram(t, main)
	if got := env.Get("first"); got.I64 != 1 {
		t.Errorf("closed cell must not observe the recycled slot: expected 1, got %s", got)
	}
}
