// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package telnet

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// ansiCapableTypes marks terminal-type substrings that indicate escape
// sequence support. Anything else (notably "unknown" and "dumb") gets
// the monochrome fallback: no color, no cursor addressing.
var ansiCapableTypes = []string{"ansi", "xterm", "vt100", "vt102", "vt220", "linux", "screen", "tmux"}

// Display renders formatted output for a negotiated terminal. Writes go
// through the Conn, which handles byte-stuffing and write ordering.
type Display struct {
	w    io.Writer
	caps Caps
	ansi bool
}

// NewDisplay builds a Display for the given capabilities.
func NewDisplay(w io.Writer, caps Caps) *Display {
	return &Display{
		w:    w,
		caps: caps,
		ansi: TerminalSupportsANSI(caps.TerminalType),
	}
}

// TerminalSupportsANSI reports whether a negotiated terminal type can
// interpret ANSI escape sequences.
func TerminalSupportsANSI(terminalType string) bool {
	lowered := strings.ToLower(terminalType)
	for _, known := range ansiCapableTypes {
		if strings.Contains(lowered, known) {
			return true
		}
	}
	return false
}

// ANSI reports whether the display emits escape sequences.
func (d *Display) ANSI() bool { return d.ansi }

// Width returns the negotiated viewport width.
func (d *Display) Width() int { return d.caps.Width }

// Print writes plain text.
func (d *Display) Print(text string) error {
	_, err := io.WriteString(d.w, text)
	return err
}

// Printf writes formatted plain text.
func (d *Display) Printf(format string, args ...any) error {
	return d.Print(fmt.Sprintf(format, args...))
}

// Line writes text followed by a line terminator.
func (d *Display) Line(text string) error {
	return d.Print(text + "\r\n")
}

// Styled writes text wrapped in the given style, or unstyled on a
// monochrome terminal.
func (d *Display) Styled(style ansi.Style, text string) error {
	if !d.ansi {
		return d.Print(text)
	}
	return d.Print(style.Styled(text))
}

// Clear erases the screen and homes the cursor. The monochrome
// fallback emits a blank line instead, which keeps output readable on
// printing terminals.
func (d *Display) Clear() error {
	if !d.ansi {
		return d.Print("\r\n")
	}
	return d.Print(ansi.EraseDisplay(2) + ansi.CursorPosition(1, 1))
}

// MoveTo positions the cursor (1-based column and row). No-op on a
// monochrome terminal.
func (d *Display) MoveTo(column, row int) error {
	if !d.ansi {
		return nil
	}
	return d.Print(ansi.CursorPosition(column, row))
}

// Reset clears any active style.
func (d *Display) Reset() error {
	if !d.ansi {
		return nil
	}
	return d.Print(ansi.ResetStyle)
}
