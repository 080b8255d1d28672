// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package door

import (
	"fmt"
	"strings"
	"time"

	"github.com/lanternbbs/lantern/lib/user"
)

// DropContext carries everything a drop file layout needs. The fields
// that legacy layouts demand but a modern host has no real value for
// (phone numbers, download counters) are filled with fixed
// placeholders the programs tolerate.
type DropContext struct {
	Profile user.Profile

	// Node is the caller's node number.
	Node int

	// Baud and Port describe the emulated line as presented to the
	// program.
	Baud int
	Port string

	// BoardName and SysopName identify the system.
	BoardName string
	SysopName string

	// ANSI reports whether the caller's terminal renders ANSI color.
	ANSI bool

	// Rows is the caller's terminal height.
	Rows int

	// Now is the launch time; drop files embed dates and clock times
	// derived from it.
	Now time.Time
}

// Render produces the drop file bytes for the given layout. Every line
// is CRLF-terminated; legacy parsers are positional and the output
// must match the layouts byte for byte.
func Render(format Format, dc DropContext) ([]byte, error) {
	renderer, ok := dropRenderers[format]
	if !ok {
		return nil, fmt.Errorf("door: no drop file renderer for format %q", format)
	}
	return renderer(dc), nil
}

var dropRenderers = map[Format]func(DropContext) []byte{
	FormatDoorSys: renderDoorSys,
	FormatDorinfo: renderDorinfo,
}

func crlfJoin(lines []string) []byte {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// renderDoorSys emits the 52-line GAP layout. Counters and dates the
// host does not track carry fixed values; doors read them for display
// only.
func renderDoorSys(dc DropContext) []byte {
	date := dc.Now.Format("01/02/06")
	clock := dc.Now.Format("15:04")
	graphics := "NG"
	if dc.ANSI {
		graphics = "GR"
	}
	minutes := int(dc.Profile.TimeRemaining.Minutes())
	seconds := int(dc.Profile.TimeRemaining.Seconds())

	lines := []string{
		dc.Port + ":",                       // 1: comm port
		fmt.Sprintf("%d", dc.Baud),          // 2: baud rate
		"8",                                 // 3: data bits
		fmt.Sprintf("%d", dc.Node),          // 4: node number
		fmt.Sprintf("%d", dc.Baud),          // 5: locked DTE rate
		"Y",                                 // 6: screen display
		"N",                                 // 7: printer toggle
		"Y",                                 // 8: page bell
		"Y",                                 // 9: caller alarm
		dc.Profile.RealName,                 // 10: full name
		dc.Profile.Location,                 // 11: city, state
		"555 555-1212",                      // 12: data phone
		"555 555-1212",                      // 13: voice phone
		"",                                  // 14: password (never disclosed)
		fmt.Sprintf("%d", dc.Profile.SecurityLevel), // 15: security level
		"0",                                 // 16: total calls
		date,                                // 17: last call date
		fmt.Sprintf("%d", seconds),          // 18: seconds remaining
		fmt.Sprintf("%d", minutes),          // 19: minutes remaining
		graphics,                            // 20: GR=ANSI, NG=none
		fmt.Sprintf("%d", dc.Rows),          // 21: page length
		"N",                                 // 22: expert mode
		"0",                                 // 23: conferences registered
		"0",                                 // 24: conference exited to
		"12/31/99",                          // 25: expiration date
		fmt.Sprintf("%d", dc.Node),          // 26: user record number
		"Z",                                 // 27: default protocol
		"0",                                 // 28: total uploads
		"0",                                 // 29: total downloads
		"0",                                 // 30: daily download KB
		"999999",                            // 31: daily download KB limit
		"01/01/70",                          // 32: birth date
		".",                                 // 33: user file path
		".",                                 // 34: general file path
		dc.SysopName,                        // 35: sysop name
		dc.Profile.Handle,                   // 36: alias
		"00:00",                             // 37: event time
		"Y",                                 // 38: error-free connection
		"N",                                 // 39: ANSI forced off
		"Y",                                 // 40: record locking
		"14",                                // 41: default color
		"0",                                 // 42: time credits
		date,                                // 43: last new-files scan
		clock,                               // 44: time of this call
		clock,                               // 45: time of last call
		"999",                               // 46: daily file limit
		"0",                                 // 47: files downloaded today
		"0",                                 // 48: total KB uploaded
		"0",                                 // 49: total KB downloaded
		"None",                              // 50: comment
		"0",                                 // 51: total doors opened
		"0",                                 // 52: total messages left
	}
	return crlfJoin(lines)
}

// renderDorinfo emits the 13-line RBBS layout. Names are split on the
// last space and uppercased, the way RBBS wrote them.
func renderDorinfo(dc DropContext) []byte {
	sysopFirst, sysopLast := splitName(dc.SysopName)
	callerName := dc.Profile.RealName
	if callerName == "" {
		callerName = dc.Profile.Handle
	}
	first, last := splitName(callerName)
	graphics := "0"
	if dc.ANSI {
		graphics = "1"
	}

	lines := []string{
		dc.BoardName,                          // 1: system name
		sysopFirst,                            // 2: sysop first name
		sysopLast,                             // 3: sysop last name
		dc.Port,                               // 4: comm port
		fmt.Sprintf("%d BAUD,N,8,1", dc.Baud), // 5: line parameters
		"0",                                   // 6: networked flag
		strings.ToUpper(first),                // 7: caller first name
		strings.ToUpper(last),                 // 8: caller last name
		strings.ToUpper(dc.Profile.Location),  // 9: city, state
		graphics,                              // 10: 1=ANSI, 0=none
		fmt.Sprintf("%d", dc.Profile.SecurityLevel), // 11: security level
		fmt.Sprintf("%d", int(dc.Profile.TimeRemaining.Minutes())), // 12: minutes remaining
		"-1", // 13: fossil driver flag
	}
	return crlfJoin(lines)
}

// splitName divides a full name at the last space.
func splitName(name string) (first, last string) {
	idx := strings.LastIndexByte(name, ' ')
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
