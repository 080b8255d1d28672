// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package door

import (
	"fmt"
	"strings"
	"time"
)

// Format identifies which interchange drop file a door expects.
type Format string

const (
	// FormatDoorSys is the 52-line GAP-style DOOR.SYS layout.
	FormatDoorSys Format = "door.sys"

	// FormatDorinfo is the 13-line RBBS-style DORINFO1.DEF layout.
	FormatDorinfo Format = "dorinfo1.def"
)

// Valid reports whether f names a supported drop file layout.
func (f Format) Valid() bool {
	_, ok := dropRenderers[f]
	return ok
}

// FileName returns the exact file name legacy programs look for. The
// names are fixed by convention; doors locate the file by name inside
// their working directory.
func (f Format) FileName() string {
	switch f {
	case FormatDoorSys:
		return "DOOR.SYS"
	case FormatDorinfo:
		return "DORINFO1.DEF"
	}
	return ""
}

// Window is a daily availability window. The zero value is always
// open. A window may wrap midnight: "22:00-02:00" opens at 22:00 and
// closes at 02:00 the next day.
type Window struct {
	start int // minutes since midnight, inclusive
	end   int // minutes since midnight, exclusive
	set   bool
}

// ParseWindow parses "HH:MM-HH:MM". The empty string parses to the
// always-open zero window.
func ParseWindow(s string) (Window, error) {
	if s == "" {
		return Window{}, nil
	}
	startText, endText, ok := strings.Cut(s, "-")
	if !ok {
		return Window{}, fmt.Errorf("door: window %q: expected HH:MM-HH:MM", s)
	}
	start, err := parseClock(startText)
	if err != nil {
		return Window{}, fmt.Errorf("door: window %q: %w", s, err)
	}
	end, err := parseClock(endText)
	if err != nil {
		return Window{}, fmt.Errorf("door: window %q: %w", s, err)
	}
	return Window{start: start, end: end, set: true}, nil
}

func parseClock(s string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("bad time %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return hour*60 + minute, nil
}

// Contains reports whether the wall-clock time of t falls inside the
// window. A window whose start equals its end is treated as always
// open.
func (w Window) Contains(t time.Time) bool {
	if !w.set || w.start == w.end {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if w.start < w.end {
		return minute >= w.start && minute < w.end
	}
	// Wraps midnight.
	return minute >= w.start || minute < w.end
}

// IsZero reports whether the window is the always-open zero value.
func (w Window) IsZero() bool { return !w.set }

func (w Window) String() string {
	if !w.set {
		return ""
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.start/60, w.start%60, w.end/60, w.end%60)
}

// Descriptor declares an external program and the policy for running
// it. Descriptors come from the operator's configuration and are
// validated once at load time.
type Descriptor struct {
	// Code is the short identifier callers use to launch the door.
	Code string

	// Name is the human-readable title shown on menus.
	Name string

	// Command is the argv template. Each element may reference
	// {dropfile}, {dropdir}, {node}, {ttyin}, or {ttyout}; the
	// placeholders are substituted per launch.
	Command []string

	// WorkDir is the directory under which per-launch run directories
	// are created. Each launch gets its own subdirectory.
	WorkDir string

	// Format selects the drop file layout the program reads.
	Format Format

	// MinSecurity and MaxSecurity bound the caller security levels
	// admitted. MaxSecurity of zero means no upper bound.
	MinSecurity int
	MaxSecurity int

	// TimeLimit caps a single run. Zero means unlimited.
	TimeLimit time.Duration

	// DailyLimit caps launches per caller per day. Zero means
	// unlimited.
	DailyLimit int

	// Window restricts launches to a daily time-of-day range.
	Window Window

	// Baud throttles the emulated line. Zero means unthrottled.
	Baud int

	// Port is the port name written into drop files, "COM1" by
	// default. Purely cosmetic; legacy programs display it.
	Port string

	// MultiInstance marks doors built for shared multi-node play.
	// Such doors coordinate state between concurrent runs themselves;
	// the orchestrator launches them the same way either way.
	MultiInstance bool
}

// Validate checks the descriptor for configuration mistakes.
func (d *Descriptor) Validate() error {
	if d.Code == "" {
		return fmt.Errorf("door: descriptor missing code")
	}
	if d.Name == "" {
		return fmt.Errorf("door %s: missing name", d.Code)
	}
	if len(d.Command) == 0 {
		return fmt.Errorf("door %s: missing command", d.Code)
	}
	if d.WorkDir == "" {
		return fmt.Errorf("door %s: missing workdir", d.Code)
	}
	if !d.Format.Valid() {
		return fmt.Errorf("door %s: unknown drop file format %q", d.Code, d.Format)
	}
	if d.MinSecurity < 0 {
		return fmt.Errorf("door %s: negative min_security", d.Code)
	}
	if d.MaxSecurity != 0 && d.MaxSecurity < d.MinSecurity {
		return fmt.Errorf("door %s: max_security %d below min_security %d",
			d.Code, d.MaxSecurity, d.MinSecurity)
	}
	if d.TimeLimit < 0 {
		return fmt.Errorf("door %s: negative time_limit", d.Code)
	}
	if d.DailyLimit < 0 {
		return fmt.Errorf("door %s: negative daily_limit", d.Code)
	}
	if d.Baud < 0 {
		return fmt.Errorf("door %s: negative baud", d.Code)
	}
	return nil
}

// admits reports whether a caller at the given security level is
// inside the descriptor's band.
func (d *Descriptor) admits(securityLevel int) bool {
	if securityLevel < d.MinSecurity {
		return false
	}
	if d.MaxSecurity != 0 && securityLevel > d.MaxSecurity {
		return false
	}
	return true
}

// portName returns the configured port name or the COM1 default.
func (d *Descriptor) portName() string {
	if d.Port != "" {
		return d.Port
	}
	return "COM1"
}

// expandArgv substitutes launch placeholders into the command
// template.
func expandArgv(argv []string, vars map[string]string) []string {
	expanded := make([]string, len(argv))
	for i, arg := range argv {
		for key, value := range vars {
			arg = strings.ReplaceAll(arg, "{"+key+"}", value)
		}
		expanded[i] = arg
	}
	return expanded
}
