package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/shurcooL/go-goon"

	"sarma/pkg/asm"
	"sarma/pkg/chunk"
	"sarma/pkg/color"
	"sarma/pkg/value"
	"sarma/pkg/vm"
)

type Runner struct {
	Help        bool   // Show help message
	Verbose     bool   // Enable verbose output
	ShouldRun   bool   // Whether to run the loaded unit
	Disassemble bool   // Whether to print the listing
	NoColor     bool   // Disable colored output
	SourceFile  string // Path to the input file (.sasm listing or chunk)
	OutputFile  string // Path to write a compiled chunk to, if any
	MaxSteps    int    // Step budget for execution (0 = unlimited)
}

// Execute loads the input unit, then disassembles, saves, and runs it
// according to the options set.
func (opts *Runner) Execute() error {
	log.Info("Processing file", "file", opts.SourceFile)

	proto, err := opts.load()
	if err != nil {
		return err
	}

	if opts.Verbose {
		fmt.Println(color.Section("\n=== Raw Prototype Tree ==="))
		goon.Dump(proto)
	}

	if opts.Disassemble {
		fmt.Println(color.Section("\n=== Disassembly ==="))
		listProto(proto)
	}

	if opts.OutputFile != "" {
		if err := chunk.Save(opts.OutputFile, proto); err != nil {
			return fmt.Errorf("writing chunk failed: %w", err)
		}
		log.Info("Wrote chunk", "file", opts.OutputFile)
	}

	if opts.ShouldRun {
		env := value.NewTable()
		it, err := vm.New(proto, env, vm.WithMaxSteps(opts.MaxSteps))
		if err != nil {
			return fmt.Errorf("closure construction failed: %w", err)
		}

		fmt.Println(color.Section("\n=== Program Output ==="))
		if err := it.Run(); err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
	}

	return nil
}

// load assembles a .sasm listing or reads a compiled chunk, by extension.
func (opts *Runner) load() (*vm.FunctionProto, error) {
	if strings.EqualFold(filepath.Ext(opts.SourceFile), ".sasm") {
		src, err := os.ReadFile(opts.SourceFile)
		if err != nil {
			return nil, err
		}
		proto, err := asm.Assemble(string(src))
		if err != nil {
			return nil, fmt.Errorf("assembly failed: %w", err)
		}
		return proto, nil
	}

	proto, err := chunk.Load(opts.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("loading chunk failed: %w", err)
	}
	return proto, nil
}

// listProto prints a colorized listing of the proto and its nested
// prototypes.
func listProto(p *vm.FunctionProto) {
	fmt.Printf("%s fixed_params=%d has_varargs=%t stack_size=%d\n",
		color.BoldText(fmt.Sprintf("proto %p", p)),
		p.FixedParams, p.HasVarargs, p.StackSize)

	if len(p.Constants) > 0 {
		fmt.Println(color.Section("constants:"))
		for i, c := range p.Constants {
			fmt.Printf("  %s: %s %s\n", color.Index(i), c.Kind, color.Literal(c.String()))
		}
	}

	if len(p.UpValues) > 0 {
		fmt.Println(color.Section("upvalues:"))
		for i, d := range p.UpValues {
			fmt.Printf("  %s: %s\n", color.Index(i), color.Operand(d.String()))
		}
	}

	if len(p.Opcodes) > 0 {
		fmt.Println(color.Section("opcodes:"))
		for i, in := range p.Opcodes {
			n, _ := vm.OperandCount(in.Op)
			operands := ""
			switch n {
			case 1:
				operands = fmt.Sprintf("%d", in.A)
			case 2:
				operands = fmt.Sprintf("%d %d", in.A, in.B)
			case 3:
				operands = fmt.Sprintf("%d %d %d", in.A, in.B, in.C)
			}
			fmt.Printf("  %s: %s %s\n", color.Index(i), color.Opcode(string(in.Op)), color.Operand(operands))
		}
	}

	if len(p.Protos) > 0 {
		fmt.Println(color.Section("prototypes:"))
		for _, sub := range p.Protos {
			listProto(sub)
		}
	}
}
