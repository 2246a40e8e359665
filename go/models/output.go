package models

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
)

// NewOutput wraps a host file for kernel diagnostics. Colour is only
// reported as usable when the file is a terminal.
func NewOutput(f *os.File) (io.Writer, bool) {
	fd := f.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return colorable.NewColorable(f), true
	}
	return colorable.NewNonColorable(f), false
}

// Colorize applies an ansi style such as "red+b" when colour is enabled.
func (c *Config) Colorize(s, style string) string {
	if !c.Color {
		return s
	}
	return ansi.Color(s, style)
}
