package asm

import (
	"strings"
	"testing"

	"sarma/pkg/value"
	"sarma/pkg/vm"
)

func TestAssembleCounterFactory(t *testing.T) {
	src := `
; a counter factory: main builds makeCounter, which returns a closure
; bumping its captured parameter
.stack 8
.upval env
.const 5
.const "result"

loadk 0 0
closure 1 0
move 2 1
move 3 0
call 2 1 1
move 3 2
call 3 0 1
move 4 2
call 4 0 1
setglobal 4 1
ret 0 0

.proto          ; makeCounter(init)
.params 1
.stack 4
closure 1 0
ret 1 1

.proto          ; the counter itself
.stack 2
.const 1
.upval local 0
getupval 0 0
loadk 1 0
add 0 0 1
setupval 0 0
ret 0 1
.end
.end
`
	proto, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if proto.StackSize != 8 {
		t.Errorf("stack size: expected 8, got %d", proto.StackSize)
	}
	if len(proto.UpValues) != 1 || proto.UpValues[0].Kind != vm.UpEnv {
		t.Errorf("main upvalues: expected [env], got %v", proto.UpValues)
	}
	if len(proto.Constants) != 2 {
		t.Fatalf("main constants: expected 2, got %d", len(proto.Constants))
	}
	if c := proto.Constants[0]; c.Kind != value.KindInt || c.I64 != 5 {
		t.Errorf("constant 0: expected int 5, got %s %s", c.Kind, c)
	}
	if c := proto.Constants[1]; c.Kind != value.KindString || c.Str != "result" {
		t.Errorf("constant 1: expected string %q, got %s %s", "result", c.Kind, c)
	}

	if len(proto.Protos) != 1 {
		t.Fatalf("main nested protos: expected 1, got %d", len(proto.Protos))
	}
	factory := proto.Protos[0]
	if factory.FixedParams != 1 || factory.StackSize != 4 {
		t.Errorf("factory header: expected params=1 stack=4, got %+v", factory)
	}

	if len(factory.Protos) != 1 {
		t.Fatalf("factory nested protos: expected 1, got %d", len(factory.Protos))
	}
	counter := factory.Protos[0]
	want := vm.UpValueDescriptor{Kind: vm.UpParentLocal, Index: 0}
	if len(counter.UpValues) != 1 || counter.UpValues[0] != want {
		t.Errorf("counter upvalues: expected [local 0], got %v", counter.UpValues)
	}

	// the listing should run and leave result = 7
	env := value.NewTable()
	it, err := vm.New(proto, env)
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	if err := it.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := env.Get("result"); got.I64 != 7 {
		t.Errorf("result: expected 7, got %s", got)
	}
}

func TestAssembleLabels(t *testing.T) {
	src := `
.stack 4
.const 0
.const 1
loadk 0 0
loop:
loadk 1 1
add 0 0 1
jmp done
jmp loop
done:
ret 0 1
`
	proto, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	// "loop" is instruction 1, "done" is instruction 5
	if in := proto.Opcodes[3]; in.Op != vm.OpJmp || in.A != 5 {
		t.Errorf("jmp done: expected target 5, got %+v", in)
	}
	if in := proto.Opcodes[4]; in.Op != vm.OpJmp || in.A != 1 {
		t.Errorf("jmp loop: expected target 1, got %+v", in)
	}
}

func TestAssembleDefaults(t *testing.T) {
	proto, err := Assemble("ret 0 0\n")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if proto.StackSize != 16 {
		t.Errorf("default stack size: expected 16, got %d", proto.StackSize)
	}
	if proto.FixedParams != 0 || proto.HasVarargs {
		t.Errorf("defaults: expected no params, no varargs, got %+v", proto)
	}
}

func TestAssembleVarargsAndFloats(t *testing.T) {
	src := `
.varargs
.const 2.5
.const nil
.const true
vararg 0 1
ret 0 1
`
	proto, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !proto.HasVarargs {
		t.Error("expected has_varargs")
	}
	if c := proto.Constants[0]; c.Kind != value.KindFloat || c.F64 != 2.5 {
		t.Errorf("constant 0: expected float 2.5, got %s", c)
	}
	if c := proto.Constants[1]; c.Kind != value.KindNil {
		t.Errorf("constant 1: expected nil, got %s", c)
	}
	if c := proto.Constants[2]; c.Kind != value.KindBool || !c.B {
		t.Errorf("constant 2: expected true, got %s", c)
	}
}

func TestAssembleErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"unknown op", "frobnicate 1 2\n", "unknown operation"},
		{"operand count", "move 1\n", "takes 2 operand(s)"},
		{"undefined label", "jmp nowhere\n", "undefined label"},
		{"duplicate label", "a:\nnop\na:\n", "duplicate label"},
		{"stray end", ".end\n", ".end without matching .proto"},
		{"unterminated proto", ".proto\nnop\n", "unterminated .proto"},
		{"bad constant", ".const bogus\n", "bad constant"},
		{"bad upval", ".upval sideways 3\n", "bad .upval form"},
		{"unknown directive", ".frob 3\n", "unknown directive"},
	}

	for _, tc := range cases {
		_, err := Assemble(tc.src)
		if err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected %q in error, got %v", tc.name, tc.want, err)
		}
	}
}
