package tui

import (
	"os"

	"golang.org/x/term"
)

// IsStdoutTerminal returns true if stdout is a terminal (not piped)
func IsStdoutTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsStdinTerminal returns true if stdin is a terminal
func IsStdinTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// UseFullScreen decides whether the full-screen chat UI should run for a
// configured mode of "auto", "tui" or "plain".
func UseFullScreen(mode string) bool {
	switch mode {
	case "tui":
		return true
	case "plain":
		return false
	default:
		return IsStdinTerminal() && IsStdoutTerminal()
	}
}

// TerminalWidth returns the width of stdout, or 80 when unknown
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
