package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"sarma/internal/logger"
	"sarma/internal/runner"
	"sarma/pkg/color"
)

// Main entry point for the sarma virtual machine.
func main() {
	options := runner.Runner{}

	flag.BoolVar(&options.Help, "h", false, "Show help")
	flag.BoolVar(&options.Verbose, "v", false, "Verbose mode")
	flag.BoolVar(&options.ShouldRun, "r", false, "Run the loaded unit")
	flag.BoolVar(&options.Disassemble, "d", false, "Print the disassembly listing")
	flag.BoolVar(&options.NoColor, "n", false, "No color")
	flag.StringVar(&options.OutputFile, "o", "", "Write a compiled chunk to this path")
	flag.IntVar(&options.MaxSteps, "m", 0, "Maximum interpreter steps (0 = unlimited)")

	flag.Parse()
	args := flag.Args()

	logger.Init(options.Verbose, options.NoColor)
	if options.Help {
		fmt.Printf("Usage: %s [options] <file.sasm | chunk>\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
		return
	}

	if options.NoColor {
		color.EnableColor(false)
	}

	if len(args) == 0 {
		log.Fatal("No input file provided", "help", fmt.Sprintf("%s -h", os.Args[0]))
	}

	options.SourceFile = args[0]

	if err := options.Execute(); err != nil {
		log.Fatal("Execution failed", "error", err)
	}
}
