// Package asm assembles a line-oriented textual listing into a
// FunctionProto tree. It exists so chunks can be authored and tests can
// build prototypes without the full source compiler.
//
// Listing format:
//
//	; comment to end of line
//	.params 1          ; fixed parameter count
//	.varargs           ; accept surplus arguments
//	.stack 8           ; register window size (default 16)
//	.const "hello"     ; append constant: nil, true, false, int, float, "str"
//	.upval env         ; append capture descriptor
//	.upval local 2     ;   capture enclosing frame register 2
//	.upval outer 0     ;   forward enclosing closure upvalue 0
//	.proto             ; open a nested prototype (closed by .end)
//	loop:              ; label, usable as a jump target
//	jmpt 0 loop        ; instructions: op with numeric or label operands
package asm

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"sarma/pkg/value"
	"sarma/pkg/vm"
)

const defaultStackSize = 16

type fixup struct {
	inst    int    // instruction index awaiting the label
	operand int    // which operand slot (0 = A, 1 = B, 2 = C)
	label   string
	line    int
}

type protoBuilder struct {
	proto  *vm.FunctionProto
	labels map[string]int
	fixups []fixup
}

func newProtoBuilder() *protoBuilder {
	return &protoBuilder{
		proto:  &vm.FunctionProto{StackSize: defaultStackSize},
		labels: make(map[string]int),
	}
}

// finish resolves label fixups and returns the completed proto.
func (b *protoBuilder) finish() (*vm.FunctionProto, error) {
	for _, fx := range b.fixups {
		target, ok := b.labels[fx.label]
		if !ok {
			return nil, fmt.Errorf("line %d: undefined label %q", fx.line, fx.label)
		}
		in := &b.proto.Opcodes[fx.inst]
		switch fx.operand {
		case 0:
			in.A = target
		case 1:
			in.B = target
		default:
			in.C = target
		}
	}
	return b.proto, nil
}

// Assemble parses src into a FunctionProto tree. The whole listing is the
// outermost prototype; .proto/.end blocks nest.
func Assemble(src string) (*vm.FunctionProto, error) {
	stack := []*protoBuilder{newProtoBuilder()}
	cur := func() *protoBuilder { return stack[len(stack)-1] }

	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		head := fields[0]

		switch {
		case head == ".proto":
			stack = append(stack, newProtoBuilder())

		case head == ".end":
			if len(stack) == 1 {
				return nil, fmt.Errorf("line %d: .end without matching .proto", lineNo)
			}
			done, err := cur().finish()
			if err != nil {
				return nil, err
			}
			stack = stack[:len(stack)-1]
			cur().proto.Protos = append(cur().proto.Protos, done)

		case head == ".params":
			n, err := directiveInt(fields, lineNo)
			if err != nil {
				return nil, err
			}
			cur().proto.FixedParams = uint8(n)

		case head == ".varargs":
			cur().proto.HasVarargs = true

		case head == ".stack":
			n, err := directiveInt(fields, lineNo)
			if err != nil {
				return nil, err
			}
			cur().proto.StackSize = uint16(n)

		case head == ".const":
			rest := strings.TrimSpace(strings.TrimPrefix(line, ".const"))
			c, err := parseConstant(rest, lineNo)
			if err != nil {
				return nil, err
			}
			cur().proto.Constants = append(cur().proto.Constants, c)

		case head == ".upval":
			d, err := parseUpval(fields[1:], lineNo)
			if err != nil {
				return nil, err
			}
			cur().proto.UpValues = append(cur().proto.UpValues, d)

		case strings.HasSuffix(head, ":") && len(fields) == 1:
			name := strings.TrimSuffix(head, ":")
			if name == "" {
				return nil, fmt.Errorf("line %d: empty label", lineNo)
			}
			if _, dup := cur().labels[name]; dup {
				return nil, fmt.Errorf("line %d: duplicate label %q", lineNo, name)
			}
			cur().labels[name] = len(cur().proto.Opcodes)

		case strings.HasPrefix(head, "."):
			return nil, fmt.Errorf("line %d: unknown directive %s", lineNo, head)

		default:
			if err := cur().addInstruction(fields, lineNo); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(stack) > 1 {
		return nil, fmt.Errorf("unterminated .proto block (%d open at end of input)", len(stack)-1)
	}

	return cur().finish()
}

// addInstruction parses "op [a [b [c]]]", recording label fixups for
// non-numeric operands.
func (b *protoBuilder) addInstruction(fields []string, lineNo int) error {
	op := vm.Operation(fields[0])
	want, ok := vm.OperandCount(op)
	if !ok {
		return fmt.Errorf("line %d: unknown operation %q", lineNo, fields[0])
	}
	if len(fields)-1 != want {
		return fmt.Errorf("line %d: %s takes %d operand(s), got %d", lineNo, op, want, len(fields)-1)
	}

	idx := len(b.proto.Opcodes)
	in := vm.Instruction{Op: op}
	for pos, tok := range fields[1:] {
		n, err := strconv.Atoi(tok)
		if err != nil {
			b.fixups = append(b.fixups, fixup{inst: idx, operand: pos, label: tok, line: lineNo})
			continue
		}
		switch pos {
		case 0:
			in.A = n
		case 1:
			in.B = n
		default:
			in.C = n
		}
	}

	b.proto.Opcodes = append(b.proto.Opcodes, in)
	return nil
}

func directiveInt(fields []string, lineNo int) (int, error) {
	if len(fields) != 2 {
		return 0, fmt.Errorf("line %d: %s takes one numeric argument", lineNo, fields[0])
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("line %d: bad %s argument %q", lineNo, fields[0], fields[1])
	}
	return n, nil
}

func parseConstant(lit string, lineNo int) (value.Value, error) {
	switch {
	case lit == "nil":
		return value.Nil(), nil
	case lit == "true":
		return value.NewBool(true), nil
	case lit == "false":
		return value.NewBool(false), nil
	case strings.HasPrefix(lit, `"`):
		s, err := strconv.Unquote(lit)
		if err != nil {
			return value.Value{}, fmt.Errorf("line %d: bad string constant %s", lineNo, lit)
		}
		return value.NewString(s), nil
	}

	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return value.NewInt(n), nil
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return value.NewFloat(f), nil
	}
	return value.Value{}, fmt.Errorf("line %d: bad constant %q", lineNo, lit)
}

func parseUpval(args []string, lineNo int) (vm.UpValueDescriptor, error) {
	if len(args) == 1 && args[0] == "env" {
		return vm.UpValueDescriptor{Kind: vm.UpEnv}, nil
	}
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return vm.UpValueDescriptor{}, fmt.Errorf("line %d: bad .upval index %q", lineNo, args[1])
		}
		switch args[0] {
		case "local":
			return vm.UpValueDescriptor{Kind: vm.UpParentLocal, Index: n}, nil
		case "outer":
			return vm.UpValueDescriptor{Kind: vm.UpOuter, Index: n}, nil
		}
	}
	return vm.UpValueDescriptor{}, fmt.Errorf("line %d: bad .upval form %q", lineNo, strings.Join(args, " "))
}
