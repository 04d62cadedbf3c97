package color

import (
	"os"
	"strconv"
)

const (
	Reset = "\033[0m"
	Bold  = "\033[1m"

	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m"

	BrightRed = "\033[91m"
)

var colorEnabled = true

func init() {
	if os.Getenv("NO_COLOR") != "" || !isTerminal() {
		colorEnabled = false
	}
}

func isTerminal() bool {
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

func EnableColor(enable bool) {
	colorEnabled = enable
}

func IsColorEnabled() bool {
	return colorEnabled
}

func Colorize(color, text string) string {
	if !colorEnabled {
		return text
	}
	return color + text + Reset
}

// Styles for disassembly listings.

// Section styles a listing section header ("constants:", "opcodes:", ...).
func Section(text string) string {
	return Colorize(Green, text)
}

// Opcode styles an operation mnemonic.
func Opcode(text string) string {
	return Colorize(Yellow, text)
}

// Operand styles an instruction operand.
func Operand(text string) string {
	return Colorize(Blue, text)
}

// Index styles a vector index prefix.
func Index(i int) string {
	return Colorize(Cyan, strconv.Itoa(i))
}

// Literal styles a constant literal.
func Literal(text string) string {
	return Colorize(Gray, text)
}

// ErrorText styles an error banner.
func ErrorText(text string) string {
	return Colorize(BrightRed, text)
}

// BoldText styles emphasized text.
func BoldText(text string) string {
	return Colorize(Bold, text)
}
