// File: internal/ui/term.go
// Brief: Internal ui package implementation for 'terminal helpers'.

// Package ui holds the small terminal helpers shared by unwind's commands:
// width probing, color mode resolution, and display-width truncation.
package ui

import (
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

type fdProvider interface {
	Fd() uintptr
}

// TerminalWidth reports the column count of the terminal behind w, when
// w is backed by one.
func TerminalWidth(w io.Writer) (int, bool) {
	if v, ok := w.(fdProvider); ok {
		if cols, _, err := term.GetSize(int(v.Fd())); err == nil {
			return cols, true
		}
	}
	return 0, false
}

// IsTerminal reports whether w writes to an interactive terminal.
func IsTerminal(w io.Writer) bool {
	if v, ok := w.(fdProvider); ok {
		return term.IsTerminal(int(v.Fd()))
	}
	return false
}

// ApplyColorMode adjusts the global color switch for the resolved --color
// mode. Mode "auto" only forces color off when out is not a terminal, so
// the library's own NO_COLOR handling stays in effect otherwise.
func ApplyColorMode(mode string, out io.Writer) {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		if !IsTerminal(out) {
			color.NoColor = true
		}
	}
}

// TrimTo shortens s to at most width display cells, ending in an ellipsis
// when anything was cut. Widths are measured in terminal cells, not bytes.
func TrimTo(s string, width int) string {
	s = strings.TrimSpace(s)
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 1 {
		out := []rune(s)
		if len(out) == 0 {
			return ""
		}
		return string(out[:1])
	}
	limit := width - 1
	var out []rune
	used := 0
	for _, r := range s {
		rw := runewidth.RuneWidth(r)
		if rw == 0 {
			rw = 1
		}
		if used+rw > limit {
			break
		}
		out = append(out, r)
		used += rw
	}
	return string(out) + "…"
}
