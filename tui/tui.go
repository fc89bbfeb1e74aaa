package tui

import (
	"os"

	tm "github.com/buger/goterm"
	"github.com/mattn/go-isatty"
)

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())
)

// TerminalWidth returns the column count of the terminal, or 0 when stdout
// is not a terminal.
func TerminalWidth() int {
	if !HasTTY {
		return 0
	}
	return tm.Width()
}
