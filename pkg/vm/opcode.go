package vm

import "fmt"

type Operation string

// List of machine operations. Operands are register indices relative to the
// current frame unless noted; K means an index into the constant vector, P an
// index into the nested prototype vector, and jump targets are absolute
// instruction indices within the current function body.
const (
	OpNop       Operation = "nop"
	OpHalt      Operation = "halt"
	OpMove      Operation = "move"      // A = dst reg, B = src reg
	OpLoadK     Operation = "loadk"     // A = dst reg, B = K
	OpLoadNil   Operation = "loadnil"   // A = dst reg
	OpLoadBool  Operation = "loadbool"  // A = dst reg, B = 0/1
	OpNewTable  Operation = "newtable"  // A = dst reg
	OpGetTable  Operation = "gettable"  // A = dst, B = table reg, C = key reg
	OpSetTable  Operation = "settable"  // A = table reg, B = key reg, C = src
	OpGetGlobal Operation = "getglobal" // A = dst reg, B = K (string name)
	OpSetGlobal Operation = "setglobal" // A = src reg, B = K (string name)
	OpGetUpval  Operation = "getupval"  // A = dst reg, B = upvalue index
	OpSetUpval  Operation = "setupval"  // A = src reg, B = upvalue index
	OpAdd       Operation = "add"       // A = dst, B, C = operands
	OpSub       Operation = "sub"
	OpMul       Operation = "mul"
	OpDiv       Operation = "div"
	OpMod       Operation = "mod"
	OpNeg       Operation = "neg" // A = dst, B = operand
	OpNot       Operation = "not" // A = dst, B = operand
	OpEq        Operation = "eq"  // A = dst, B, C = operands
	OpLt        Operation = "lt"
	OpLe        Operation = "le"
	OpJmp       Operation = "jmp"     // A = target
	OpJmpf      Operation = "jmpf"    // A = cond reg, B = target
	OpJmpt      Operation = "jmpt"    // A = cond reg, B = target
	OpClosure   Operation = "closure" // A = dst reg, B = P
	OpCall      Operation = "call"    // A = fn reg, B = arg count, C = want result
	OpRet       Operation = "ret"     // A = result reg, B = has result (0/1)
	OpClose     Operation = "close"   // A = close upvalues at/above this reg
	OpVararg    Operation = "vararg"  // A = dst reg, B = count
	OpPrint     Operation = "print"   // A = src reg
)

// operandCount gives the number of meaningful operands per operation, used
// by the assembler and the listing printer.
var operandCount = map[Operation]int{
	OpNop:       0,
	OpHalt:      0,
	OpMove:      2,
	OpLoadK:     2,
	OpLoadNil:   1,
	OpLoadBool:  2,
	OpNewTable:  1,
	OpGetTable:  3,
	OpSetTable:  3,
	OpGetGlobal: 2,
	OpSetGlobal: 2,
	OpGetUpval:  2,
	OpSetUpval:  2,
	OpAdd:       3,
	OpSub:       3,
	OpMul:       3,
	OpDiv:       3,
	OpMod:       3,
	OpNeg:       2,
	OpNot:       2,
	OpEq:        3,
	OpLt:        3,
	OpLe:        3,
	OpJmp:       1,
	OpJmpf:      2,
	OpJmpt:      2,
	OpClosure:   2,
	OpCall:      3,
	OpRet:       2,
	OpClose:     1,
	OpVararg:    2,
	OpPrint:     1,
}

// OperandCount returns how many operands op takes, and whether op is a known
// operation at all.
func OperandCount(op Operation) (int, bool) {
	n, ok := operandCount[op]
	return n, ok
}

// Instruction is one decoded machine instruction.
type Instruction struct {
	Op Operation

	A int
	B int
	C int
}

// String returns a string representation of the instruction.
func (in Instruction) String() string {
	n, ok := operandCount[in.Op]
	if !ok {
		return fmt.Sprintf("(%s?, %d, %d, %d)", in.Op, in.A, in.B, in.C)
	}
	switch n {
	case 0:
		return string(in.Op)
	case 1:
		return fmt.Sprintf("%s %d", in.Op, in.A)
	case 2:
		return fmt.Sprintf("%s %d %d", in.Op, in.A, in.B)
	default:
		return fmt.Sprintf("%s %d %d %d", in.Op, in.A, in.B, in.C)
	}
}
