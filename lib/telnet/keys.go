// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package telnet

// Event is a logical input item produced by the engine: a key press or
// a window-size change.
type Event interface {
	event()
}

// Key identifies a special key, or KeyRune for a printable character.
type Key int

// Special keys recognized by the input parser.
const (
	KeyRune Key = iota
	KeyEnter
	KeyBackspace
	KeyTab
	KeyEscape
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyInsert
	KeyDelete
	KeyPageUp
	KeyPageDown
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
)

// KeyEvent is one key press. Rune is meaningful only when Key is
// KeyRune.
type KeyEvent struct {
	Key  Key
	Rune rune
}

func (KeyEvent) event() {}

// ResizeEvent reports a window-size change from a NAWS subnegotiation.
type ResizeEvent struct {
	Width  int
	Height int
}

func (ResizeEvent) event() {}

// EncodeEvent converts a logical input event back into the raw bytes
// a legacy program expects on its serial line. The inverse of the
// input parser for key events; resize events have no byte encoding and
// return nil.
func EncodeEvent(event Event) []byte {
	key, ok := event.(KeyEvent)
	if !ok {
		return nil
	}
	switch key.Key {
	case KeyRune:
		if key.Rune > 0xFF {
			// Doors speak 8-bit character sets; wider runes have no
			// representation on the emulated line.
			return nil
		}
		return []byte{byte(key.Rune)}
	case KeyEnter:
		return []byte{'\r'}
	case KeyBackspace:
		return []byte{0x08}
	case KeyTab:
		return []byte{'\t'}
	case KeyEscape:
		return []byte{0x1B}
	case KeyUp:
		return []byte{0x1B, '[', 'A'}
	case KeyDown:
		return []byte{0x1B, '[', 'B'}
	case KeyRight:
		return []byte{0x1B, '[', 'C'}
	case KeyLeft:
		return []byte{0x1B, '[', 'D'}
	case KeyHome:
		return []byte{0x1B, '[', 'H'}
	case KeyEnd:
		return []byte{0x1B, '[', 'F'}
	default:
		return nil
	}
}

// parserState tracks progress through a multi-byte escape sequence.
type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateCSI
	stateSS3
)

// keyParser is the input state machine. It consumes decoded data bytes
// (telnet framing already stripped) one at a time and emits logical key
// events. Incomplete escape sequences are held across Feed calls; the
// engine calls Flush when no continuation arrives in time, which emits
// the held bytes literally instead of silently eating them.
type keyParser struct {
	state parserState

	// csi accumulates CSI parameter bytes between "ESC [" and the
	// final byte.
	csi []byte

	// swallowLF is set after a carriage return so the LF or NUL of a
	// CR LF / CR NUL pair does not produce a second Enter.
	swallowLF bool
}

// Feed consumes one data byte and returns any completed events.
func (p *keyParser) Feed(b byte) []Event {
	switch p.state {
	case stateGround:
		return p.feedGround(b)
	case stateEscape:
		return p.feedEscape(b)
	case stateCSI:
		return p.feedCSI(b)
	case stateSS3:
		return p.feedSS3(b)
	}
	return nil
}

// Pending reports whether the parser is mid-sequence.
func (p *keyParser) Pending() bool { return p.state != stateGround }

// Flush abandons any partial escape sequence, emitting what was held
// as literal input. Called by the engine when a sequence stalls.
func (p *keyParser) Flush() []Event {
	if p.state == stateGround {
		return nil
	}

	events := []Event{KeyEvent{Key: KeyEscape}}
	if p.state == stateCSI {
		events = append(events, KeyEvent{Key: KeyRune, Rune: '['})
		for _, held := range p.csi {
			events = append(events, KeyEvent{Key: KeyRune, Rune: rune(held)})
		}
	} else if p.state == stateSS3 {
		events = append(events, KeyEvent{Key: KeyRune, Rune: 'O'})
	}

	p.state = stateGround
	p.csi = p.csi[:0]
	return events
}

func (p *keyParser) feedGround(b byte) []Event {
	if p.swallowLF {
		p.swallowLF = false
		if b == '\n' || b == 0 {
			return nil
		}
	}

	switch {
	case b == '\r':
		p.swallowLF = true
		return []Event{KeyEvent{Key: KeyEnter}}
	case b == '\n':
		return []Event{KeyEvent{Key: KeyEnter}}
	case b == 0x08 || b == 0x7F:
		return []Event{KeyEvent{Key: KeyBackspace}}
	case b == '\t':
		return []Event{KeyEvent{Key: KeyTab}}
	case b == 0x1B:
		p.state = stateEscape
		return nil
	case b >= 0x20:
		return []Event{KeyEvent{Key: KeyRune, Rune: rune(b)}}
	default:
		// Remaining control bytes carry no meaning for a board menu;
		// dropped.
		return nil
	}
}

func (p *keyParser) feedEscape(b byte) []Event {
	switch b {
	case '[':
		p.state = stateCSI
		p.csi = p.csi[:0]
		return nil
	case 'O':
		p.state = stateSS3
		return nil
	default:
		// Bare ESC followed by an ordinary byte: deliver both.
		p.state = stateGround
		return append([]Event{KeyEvent{Key: KeyEscape}}, p.feedGround(b)...)
	}
}

func (p *keyParser) feedSS3(b byte) []Event {
	p.state = stateGround
	switch b {
	case 'A':
		return []Event{KeyEvent{Key: KeyUp}}
	case 'B':
		return []Event{KeyEvent{Key: KeyDown}}
	case 'C':
		return []Event{KeyEvent{Key: KeyRight}}
	case 'D':
		return []Event{KeyEvent{Key: KeyLeft}}
	case 'H':
		return []Event{KeyEvent{Key: KeyHome}}
	case 'F':
		return []Event{KeyEvent{Key: KeyEnd}}
	case 'P':
		return []Event{KeyEvent{Key: KeyF1}}
	case 'Q':
		return []Event{KeyEvent{Key: KeyF2}}
	case 'R':
		return []Event{KeyEvent{Key: KeyF3}}
	case 'S':
		return []Event{KeyEvent{Key: KeyF4}}
	default:
		return nil
	}
}

func (p *keyParser) feedCSI(b byte) []Event {
	// Parameter and intermediate bytes accumulate; 0x40-0x7E ends the
	// sequence.
	if b < 0x40 || b > 0x7E {
		if len(p.csi) >= 16 {
			// Runaway sequence; abandon it.
			p.state = stateGround
			p.csi = p.csi[:0]
			return nil
		}
		p.csi = append(p.csi, b)
		return nil
	}

	params := string(p.csi)
	p.state = stateGround
	p.csi = p.csi[:0]

	switch b {
	case 'A':
		return []Event{KeyEvent{Key: KeyUp}}
	case 'B':
		return []Event{KeyEvent{Key: KeyDown}}
	case 'C':
		return []Event{KeyEvent{Key: KeyRight}}
	case 'D':
		return []Event{KeyEvent{Key: KeyLeft}}
	case 'H':
		return []Event{KeyEvent{Key: KeyHome}}
	case 'F':
		return []Event{KeyEvent{Key: KeyEnd}}
	case '~':
		return tildeKey(params)
	default:
		// Unrecognized final byte: sequence dropped, session continues.
		return nil
	}
}

// tildeKey maps "CSI n ~" sequences to keys (vt220/xterm numbering).
func tildeKey(params string) []Event {
	keys := map[string]Key{
		"1":  KeyHome,
		"2":  KeyInsert,
		"3":  KeyDelete,
		"4":  KeyEnd,
		"5":  KeyPageUp,
		"6":  KeyPageDown,
		"11": KeyF1,
		"12": KeyF2,
		"13": KeyF3,
		"14": KeyF4,
		"15": KeyF5,
		"17": KeyF6,
		"18": KeyF7,
		"19": KeyF8,
		"20": KeyF9,
		"21": KeyF10,
	}
	if key, ok := keys[params]; ok {
		return []Event{KeyEvent{Key: key}}
	}
	return nil
}
