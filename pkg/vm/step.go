package vm

import (
	"fmt"
	"math"
	"strconv"

	"sarma/pkg/value"
)

// step executes the instruction at the current frame's IP, returning
// (halted, error). Register operands resolve through the frame's window;
// compiler contract breaches (bad register, constant, or proto indices)
// panic rather than surface as recoverable errors.
func (i *Interpreter) step() (bool, error) {
	f := i.thread.CurrentFrame()
	if f == nil {
		return true, nil
	}

	proto := f.Closure.Proto
	if f.IP < 0 || f.IP >= len(proto.Opcodes) {
		// running off the end of the body is an implicit bare return
		return i.returnValue(value.Nil())
	}

	in := proto.Opcodes[f.IP]

	switch in.Op {
	case OpNop:
		f.IP++
		return false, nil

	case OpHalt:
		return true, nil

	case OpMove:
		i.setReg(f, in.A, i.reg(f, in.B))
		f.IP++
		return false, nil

	case OpLoadK:
		i.setReg(f, in.A, i.constant(f, in.B))
		f.IP++
		return false, nil

	case OpLoadNil:
		i.setReg(f, in.A, value.Nil())
		f.IP++
		return false, nil

	case OpLoadBool:
		i.setReg(f, in.A, value.NewBool(in.B != 0))
		f.IP++
		return false, nil

	case OpNewTable:
		i.setReg(f, in.A, value.TableValue(value.NewTable()))
		f.IP++
		return false, nil

	case OpGetTable:
		tv := i.reg(f, in.B)
		if tv.Kind != value.KindTable {
			return false, i.runtimeErr(f, in, "attempt to index a %s value", tv.Kind)
		}
		key, err := tableKey(i.reg(f, in.C))
		if err != nil {
			return false, i.runtimeErr(f, in, "%v", err)
		}
		i.setReg(f, in.A, tv.Tab.Get(key))
		f.IP++
		return false, nil

	case OpSetTable:
		tv := i.reg(f, in.A)
		if tv.Kind != value.KindTable {
			return false, i.runtimeErr(f, in, "attempt to index a %s value", tv.Kind)
		}
		key, err := tableKey(i.reg(f, in.B))
		if err != nil {
			return false, i.runtimeErr(f, in, "%v", err)
		}
		tv.Tab.Set(key, i.reg(f, in.C))
		f.IP++
		return false, nil

	case OpGetGlobal:
		env, err := i.environment(f, in)
		if err != nil {
			return false, err
		}
		name := i.constant(f, in.B)
		if name.Kind != value.KindString {
			return false, i.runtimeErr(f, in, "global name must be a string constant, got %s", name.Kind)
		}
		i.setReg(f, in.A, env.Get(name.Str))
		f.IP++
		return false, nil

	case OpSetGlobal:
		env, err := i.environment(f, in)
		if err != nil {
			return false, err
		}
		name := i.constant(f, in.B)
		if name.Kind != value.KindString {
			return false, i.runtimeErr(f, in, "global name must be a string constant, got %s", name.Kind)
		}
		env.Set(name.Str, i.reg(f, in.A))
		f.IP++
		return false, nil

	case OpGetUpval:
		i.setReg(f, in.A, i.upvalue(f, in.B).Get())
		f.IP++
		return false, nil

	case OpSetUpval:
		i.upvalue(f, in.B).Set(i.reg(f, in.A))
		f.IP++
		return false, nil

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		res, err := evalArith(in.Op, i.reg(f, in.B), i.reg(f, in.C))
		if err != nil {
			return false, i.runtimeErr(f, in, "%v", err)
		}
		i.setReg(f, in.A, res)
		f.IP++
		return false, nil

	case OpNeg:
		v := i.reg(f, in.B)
		switch v.Kind {
		case value.KindInt:
			i.setReg(f, in.A, value.NewInt(-v.I64))
		case value.KindFloat:
			i.setReg(f, in.A, value.NewFloat(-v.F64))
		default:
			return false, i.runtimeErr(f, in, "attempt to negate a %s value", v.Kind)
		}
		f.IP++
		return false, nil

	case OpNot:
		i.setReg(f, in.A, value.NewBool(!i.reg(f, in.B).Truthy()))
		f.IP++
		return false, nil

	case OpEq:
		i.setReg(f, in.A, value.NewBool(i.reg(f, in.B).Equal(i.reg(f, in.C))))
		f.IP++
		return false, nil

	case OpLt, OpLe:
		res, err := evalCompare(in.Op, i.reg(f, in.B), i.reg(f, in.C))
		if err != nil {
			return false, i.runtimeErr(f, in, "%v", err)
		}
		i.setReg(f, in.A, res)
		f.IP++
		return false, nil

	case OpJmp:
		if err := i.jump(f, in, in.A); err != nil {
			return false, err
		}
		return false, nil

	case OpJmpf:
		if !i.reg(f, in.A).Truthy() {
			if err := i.jump(f, in, in.B); err != nil {
				return false, err
			}
		} else {
			f.IP++
		}
		return false, nil

	case OpJmpt:
		if i.reg(f, in.A).Truthy() {
			if err := i.jump(f, in, in.B); err != nil {
				return false, err
			}
		} else {
			f.IP++
		}
		return false, nil

	case OpClosure:
		if in.B < 0 || in.B >= len(proto.Protos) {
			panic(fmt.Sprintf("vm: closure operand %d out of range for %d nested prototypes", in.B, len(proto.Protos)))
		}
		c := i.thread.Instantiate(proto.Protos[in.B], f.Closure, f.Base)
		i.setReg(f, in.A, c.Value())
		f.IP++
		return false, nil

	case OpCall:
		fnv := i.reg(f, in.A)
		callee, ok := AsClosure(fnv)
		if !ok {
			return false, i.runtimeErr(f, in, "attempt to call a %s value", fnv.Kind)
		}
		args := make([]value.Value, in.B)
		for j := 0; j < in.B; j++ {
			args[j] = i.reg(f, in.A+1+j)
		}
		retSlot := -1
		if in.C != 0 {
			retSlot = f.slot(in.A)
		}
		// resume after the call once the callee returns
		f.IP++
		i.thread.PushFrame(callee, args, retSlot)
		return false, nil

	case OpRet:
		rv := value.Nil()
		if in.B != 0 {
			rv = i.reg(f, in.A)
		}
		return i.returnValue(rv)

	case OpClose:
		i.thread.CloseUpvalues(f.slot(in.A))
		f.IP++
		return false, nil

	case OpVararg:
		for j := 0; j < in.B; j++ {
			if j < len(f.Varargs) {
				i.setReg(f, in.A+j, f.Varargs[j])
			} else {
				i.setReg(f, in.A+j, value.Nil())
			}
		}
		f.IP++
		return false, nil

	case OpPrint:
		fmt.Fprintln(i.out, i.reg(f, in.A).String())
		f.IP++
		return false, nil

	default:
		return false, i.runtimeErr(f, in, "unhandled operation")
	}
}

// returnValue pops the current frame, closing its open upvalues, delivers rv
// to the caller's result slot, and halts if that was the outermost frame.
func (i *Interpreter) returnValue(rv value.Value) (bool, error) {
	done := i.thread.PopFrame()

	if done.RetSlot >= 0 {
		i.thread.SetReg(done.RetSlot, rv)
	}

	return i.thread.Depth() == 0, nil
}

// environment resolves the frame's globals table through the closure's env
// upvalue.
func (i *Interpreter) environment(f *Frame, in Instruction) (*value.Table, error) {
	env := f.Closure.envUpValue()
	if env == nil {
		return nil, i.runtimeErr(f, in, "function has no environment")
	}
	ev := env.Get()
	if ev.Kind != value.KindTable {
		return nil, i.runtimeErr(f, in, "environment is a %s value, not a table", ev.Kind)
	}
	return ev.Tab, nil
}

// reg reads frame register r.
func (i *Interpreter) reg(f *Frame, r int) value.Value {
	return i.thread.regs[f.slot(r)]
}

// setReg writes frame register r.
func (i *Interpreter) setReg(f *Frame, r int, v value.Value) {
	i.thread.regs[f.slot(r)] = v
}

// slot maps a frame-relative register to its absolute stack slot, panicking
// on registers outside the frame's declared window.
func (f *Frame) slot(r int) int {
	if r < 0 || r >= int(f.Closure.Proto.StackSize) {
		panic(fmt.Sprintf("vm: register %d outside frame window of size %d", r, f.Closure.Proto.StackSize))
	}
	return f.Base + r
}

// constant fetches constant k of the frame's proto.
func (i *Interpreter) constant(f *Frame, k int) value.Value {
	ks := f.Closure.Proto.Constants
	if k < 0 || k >= len(ks) {
		panic(fmt.Sprintf("vm: constant index %d out of range for %d constants", k, len(ks)))
	}
	return ks[k]
}

// upvalue fetches upvalue u of the frame's closure.
func (i *Interpreter) upvalue(f *Frame, u int) *UpValue {
	uvs := f.Closure.UpValues
	if u < 0 || u >= len(uvs) {
		panic(fmt.Sprintf("vm: upvalue index %d out of range for %d upvalues", u, len(uvs)))
	}
	return uvs[u]
}

// jump validates and takes an absolute jump target within the current body.
func (i *Interpreter) jump(f *Frame, in Instruction, target int) error {
	if target < 0 || target >= len(f.Closure.Proto.Opcodes) {
		return i.runtimeErr(f, in, "jump target %d out of range", target)
	}
	f.IP = target
	return nil
}

// runtimeErr formats a recoverable runtime error with its location.
func (i *Interpreter) runtimeErr(f *Frame, in Instruction, format string, args ...any) error {
	return fmt.Errorf("runtime error at %d (%s): %s", f.IP, in.Op, fmt.Sprintf(format, args...))
}

// tableKey coerces a value to a table key; only strings and ints qualify.
func tableKey(v value.Value) (string, error) {
	switch v.Kind {
	case value.KindString:
		return v.Str, nil
	case value.KindInt:
		return strconv.FormatInt(v.I64, 10), nil
	default:
		return "", fmt.Errorf("attempt to use a %s value as a table key", v.Kind)
	}
}

// evalArith evaluates an arithmetic operation: integer when both operands
// are integers, float as soon as either side is.
func evalArith(op Operation, a, b value.Value) (value.Value, error) {
	if !isNumeric(a) || !isNumeric(b) {
		return value.Value{}, fmt.Errorf("attempt to perform arithmetic on %s and %s values", a.Kind, b.Kind)
	}

	if a.Kind == value.KindFloat || b.Kind == value.KindFloat {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		switch op {
		case OpAdd:
			return value.NewFloat(af + bf), nil
		case OpSub:
			return value.NewFloat(af - bf), nil
		case OpMul:
			return value.NewFloat(af * bf), nil
		case OpDiv:
			return value.NewFloat(af / bf), nil
		case OpMod:
			return value.NewFloat(math.Mod(af, bf)), nil
		}
	}

	ai := a.I64
	bi := b.I64
	switch op {
	case OpAdd:
		return value.NewInt(ai + bi), nil
	case OpSub:
		return value.NewInt(ai - bi), nil
	case OpMul:
		return value.NewInt(ai * bi), nil
	case OpDiv:
		if bi == 0 {
			return value.Value{}, fmt.Errorf("division by zero")
		}
		return value.NewInt(ai / bi), nil
	case OpMod:
		if bi == 0 {
			return value.Value{}, fmt.Errorf("modulo by zero")
		}
		return value.NewInt(ai % bi), nil
	}

	return value.Value{}, fmt.Errorf("unsupported arithmetic op: %s", op)
}

// evalCompare evaluates an ordering comparison on two numbers or two strings.
func evalCompare(op Operation, a, b value.Value) (value.Value, error) {
	if a.Kind == value.KindString && b.Kind == value.KindString {
		switch op {
		case OpLt:
			return value.NewBool(a.Str < b.Str), nil
		case OpLe:
			return value.NewBool(a.Str <= b.Str), nil
		}
	}

	if isNumeric(a) && isNumeric(b) {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		switch op {
		case OpLt:
			return value.NewBool(af < bf), nil
		case OpLe:
			return value.NewBool(af <= bf), nil
		}
	}

	return value.Value{}, fmt.Errorf("attempt to compare %s with %s", a.Kind, b.Kind)
}

func isNumeric(v value.Value) bool {
	return v.Kind == value.KindInt || v.Kind == value.KindFloat
}
