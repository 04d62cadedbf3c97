package vm

import (
	"errors"
	"io"
	"os"

	"sarma/pkg/value"
)

// Interpreter drives a thread through the opcodes of a main closure.
type Interpreter struct {
	thread *Thread
	main   *Closure

	out io.Writer // output writer for print

	maxSteps int // maximum steps (0 = unlimited)
	steps    int // steps executed

	started bool // main frame pushed
	halted  bool
}

type Option func(*Interpreter)

// WithWriter sets the output writer for print instructions.
func WithWriter(w io.Writer) Option {
	return func(i *Interpreter) { i.out = w }
}

// WithMaxSteps sets a maximum number of interpreter steps before Step
// returns ErrMaxStepsExceeded.
func WithMaxSteps(n int) Option {
	return func(i *Interpreter) { i.maxSteps = n }
}

// New builds the top-level closure for proto over env and prepares an
// interpreter for it. Construction errors (ErrHasUpValues, ErrRequiresEnv)
// are passed through from NewClosure.
func New(proto *FunctionProto, env *value.Table, opts ...Option) (*Interpreter, error) {
	main, err := NewClosure(proto, env)
	if err != nil {
		return nil, err
	}
	return NewFromClosure(main, opts...), nil
}

// NewFromClosure prepares an interpreter for an already-built closure.
func NewFromClosure(main *Closure, opts ...Option) *Interpreter {
	it := &Interpreter{
		thread: NewThread(),
		main:   main,
	}

	for _, o := range opts {
		o(it)
	}

	if it.out == nil {
		it.out = os.Stdout
	}

	return it
}

// Thread returns the interpreter's execution thread.
func (i *Interpreter) Thread() *Thread {
	return i.thread
}

// Main returns the top-level closure.
func (i *Interpreter) Main() *Closure {
	return i.main
}

// Output returns the output writer used for print.
func (i *Interpreter) Output() io.Writer {
	return i.out
}

// Step executes a single instruction, returning (halted, error).
func (i *Interpreter) Step() (bool, error) {
	if i.halted {
		return true, nil
	}

	if !i.started {
		i.thread.PushFrame(i.main, nil, -1)
		i.started = true
	}

	if i.maxSteps > 0 && i.steps >= i.maxSteps {
		return false, ErrMaxStepsExceeded
	}

	halted, err := i.step()
	i.steps++

	if halted {
		i.halted = true
	}
	return halted, err
}

// Run executes until halt or error.
func (i *Interpreter) Run() error {
	for {
		halted, err := i.Step()
		if err != nil {
			return err
		}

		if halted {
			return nil
		}
	}
}

var ErrMaxStepsExceeded = errors.New("maximum steps exceeded")
