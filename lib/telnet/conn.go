// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package telnet

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// escapeHold is how long the engine waits for the continuation of a
// partial escape sequence before delivering the held bytes literally.
// A lone ESC press is indistinguishable from the start of an arrow-key
// sequence until this window closes.
const escapeHold = 75 * time.Millisecond

// Caps are the session parameters settled by negotiation.
type Caps struct {
	// EchoSuppressed is true when the client accepted the server's
	// WILL ECHO offer and disabled its local echo.
	EchoSuppressed bool

	// SuppressGoAhead is true when the client agreed to suppress the
	// half-duplex go-ahead signal.
	SuppressGoAhead bool

	// TerminalType is the client-reported terminal name, lowercased
	// ("ansi", "xterm", ...). DefaultTerminalType if never reported.
	TerminalType string

	// Width and Height are the client viewport in cells.
	Width  int
	Height int
}

// Conn is the protocol engine for one connection. It owns the raw
// net.Conn and exposes a logical event stream upward via ReadEvent and
// an ordered, byte-stuffed write path via Write.
//
// Conn methods are safe for one concurrent reader plus any number of
// concurrent writers; all writes are serialized.
type Conn struct {
	netConn net.Conn
	reader  *bufio.Reader
	logger  *slog.Logger

	// onActivity, when set, is invoked after every successful read or
	// write so the session manager can track idleness.
	onActivity func()

	writeMu sync.Mutex

	capsMu sync.RWMutex
	caps   Caps

	parser keyParser
	queue  []Event
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the structured logger. If unset, slog.Default() is
// used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// WithActivityFunc registers a callback invoked on every successful
// read and write.
func WithActivityFunc(f func()) Option {
	return func(c *Conn) { c.onActivity = f }
}

// NewConn wraps a raw connection. Negotiate must be called before
// ReadEvent.
func NewConn(netConn net.Conn, options ...Option) *Conn {
	conn := &Conn{
		netConn: netConn,
		reader:  bufio.NewReader(netConn),
	}
	for _, option := range options {
		option(conn)
	}
	if conn.logger == nil {
		conn.logger = slog.Default()
	}
	return conn
}

// Caps returns the negotiated capabilities. Valid after Negotiate;
// Width/Height track later NAWS updates.
func (c *Conn) Caps() Caps {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.caps
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error { return c.netConn.Close() }

// negotiationState tracks which of the four offered options the peer
// has answered.
type negotiationState struct {
	echoDone  bool
	sgaDone   bool
	ttypeDone bool
	nawsDone  bool
}

func (n *negotiationState) complete() bool {
	return n.echoDone && n.sgaDone && n.ttypeDone && n.nawsDone
}

// Negotiate runs the option handshake: it offers server echo and
// go-ahead suppression, requests the terminal type and window size,
// and collects answers until all four options are settled or timeout
// elapses. Unanswered options fall back to defaults; Negotiate never
// blocks past the deadline.
//
// Data bytes the client sends during negotiation are not lost — they
// are queued and delivered by ReadEvent afterward.
func (c *Conn) Negotiate(timeout time.Duration) (Caps, error) {
	offers := []byte{
		IAC, WILL, OptionEcho,
		IAC, WILL, OptionSuppressGoAhead,
		IAC, DO, OptionTerminalType,
		IAC, DO, OptionWindowSize,
	}
	if err := c.writeWire(offers); err != nil {
		return Caps{}, fmt.Errorf("telnet: sending option offers: %w", err)
	}

	state := &negotiationState{}
	deadline := time.Now().Add(timeout)
	if err := c.netConn.SetReadDeadline(deadline); err != nil {
		return Caps{}, fmt.Errorf("telnet: setting negotiation deadline: %w", err)
	}

	for !state.complete() {
		b, err := c.reader.ReadByte()
		if err != nil {
			if isTimeout(err) {
				break
			}
			return Caps{}, fmt.Errorf("telnet: negotiation read: %w", err)
		}
		if b == IAC {
			c.processCommand(state)
			continue
		}
		c.queue = append(c.queue, c.parser.Feed(b)...)
	}

	if err := c.netConn.SetReadDeadline(time.Time{}); err != nil {
		return Caps{}, fmt.Errorf("telnet: clearing negotiation deadline: %w", err)
	}

	c.capsMu.Lock()
	if c.caps.TerminalType == "" {
		c.caps.TerminalType = DefaultTerminalType
	}
	if c.caps.Width == 0 {
		c.caps.Width = DefaultWidth
	}
	if c.caps.Height == 0 {
		c.caps.Height = DefaultHeight
	}
	caps := c.caps
	c.capsMu.Unlock()

	c.logger.Debug("negotiation settled",
		"echo_suppressed", caps.EchoSuppressed,
		"suppress_go_ahead", caps.SuppressGoAhead,
		"terminal_type", caps.TerminalType,
		"width", caps.Width,
		"height", caps.Height,
	)
	return caps, nil
}

// ReadEvent blocks until the next logical input event. Telnet commands
// arriving mid-session (including NAWS window updates) are handled
// inline; malformed sequences are logged and skipped, never fatal. A
// read error or EOF is returned to the caller, which closes the
// session.
func (c *Conn) ReadEvent() (Event, error) {
	for {
		if len(c.queue) > 0 {
			event := c.queue[0]
			c.queue = c.queue[1:]
			if c.onActivity != nil {
				c.onActivity()
			}
			return event, nil
		}

		// Bound the wait for the continuation of a partial escape
		// sequence; a stalled sequence is flushed as literal input.
		if c.parser.Pending() {
			if err := c.netConn.SetReadDeadline(time.Now().Add(escapeHold)); err != nil {
				return nil, err
			}
		}

		b, err := c.reader.ReadByte()

		if c.parser.Pending() {
			if deadlineErr := c.netConn.SetReadDeadline(time.Time{}); deadlineErr != nil && err == nil {
				return nil, deadlineErr
			}
		}

		if err != nil {
			if isTimeout(err) && c.parser.Pending() {
				c.queue = append(c.queue, c.parser.Flush()...)
				continue
			}
			return nil, err
		}

		if b == IAC {
			c.processCommand(nil)
			continue
		}
		c.queue = append(c.queue, c.parser.Feed(b)...)
	}
}

// processCommand consumes one telnet command after its IAC introducer.
// state is non-nil during negotiation. Protocol violations are logged
// at Debug and the offending bytes skipped.
func (c *Conn) processCommand(state *negotiationState) {
	command, err := c.reader.ReadByte()
	if err != nil {
		return
	}

	switch command {
	case IAC:
		// Stuffed literal 0xFF data byte.
		c.queue = append(c.queue, c.parser.Feed(IAC)...)

	case WILL, WONT, DO, DONT:
		option, err := c.reader.ReadByte()
		if err != nil {
			return
		}
		c.processOption(state, command, option)

	case SB:
		c.processSubnegotiation(state)

	case GA, NOP, SE:
		// SE without SB is a violation; GA and NOP are harmless.
		if command == SE {
			c.logger.Debug("stray SE outside subnegotiation")
		}

	default:
		c.logger.Debug("unrecognized telnet command", "command", command)
	}
}

// processOption reacts to one WILL/WONT/DO/DONT.
func (c *Conn) processOption(state *negotiationState, command, option byte) {
	switch {
	case command == DO && option == OptionEcho:
		c.setCap(func(caps *Caps) { caps.EchoSuppressed = true })
		if state != nil {
			state.echoDone = true
		}

	case command == DONT && option == OptionEcho:
		c.setCap(func(caps *Caps) { caps.EchoSuppressed = false })
		if state != nil {
			state.echoDone = true
		}

	case command == DO && option == OptionSuppressGoAhead:
		c.setCap(func(caps *Caps) { caps.SuppressGoAhead = true })
		if state != nil {
			state.sgaDone = true
		}

	case command == DONT && option == OptionSuppressGoAhead:
		if state != nil {
			state.sgaDone = true
		}

	case command == WILL && option == OptionSuppressGoAhead:
		// Suppress-go-ahead is symmetric; accept the client's side too.
		if err := c.writeWire([]byte{IAC, DO, OptionSuppressGoAhead}); err != nil {
			c.logger.Debug("suppress go-ahead acceptance failed", "error", err)
		}

	case command == WILL && option == OptionTerminalType:
		// Client can name its terminal; ask for it.
		if err := c.writeWire([]byte{IAC, SB, OptionTerminalType, TerminalTypeSend, IAC, SE}); err != nil {
			c.logger.Debug("terminal type request failed", "error", err)
		}

	case command == WONT && option == OptionTerminalType:
		if state != nil {
			state.ttypeDone = true
		}

	case command == WILL && option == OptionWindowSize:
		// Acknowledged; the NAWS payload follows as a subnegotiation.

	case command == WONT && option == OptionWindowSize:
		if state != nil {
			state.nawsDone = true
		}

	case command == WILL || command == DO:
		// Unknown option requested by the peer: refuse.
		refusal := WONT
		if command == WILL {
			refusal = DONT
		}
		if err := c.writeWire([]byte{IAC, refusal, option}); err != nil {
			c.logger.Debug("option refusal failed", "error", err)
		}

	default:
		// WONT/DONT of an option that was never on: nothing to do.
	}
}

// processSubnegotiation reads one IAC SB ... IAC SE block and applies
// it. Oversized or truncated blocks are discarded.
func (c *Conn) processSubnegotiation(state *negotiationState) {
	payload := make([]byte, 0, 16)
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return
		}
		if b == IAC {
			next, err := c.reader.ReadByte()
			if err != nil {
				return
			}
			if next == SE {
				break
			}
			if next == IAC {
				b = IAC
			} else {
				c.logger.Debug("malformed subnegotiation", "byte", next)
				continue
			}
		}
		if len(payload) >= maxSubnegotiation {
			c.logger.Debug("oversized subnegotiation discarded")
			c.discardSubnegotiation()
			return
		}
		payload = append(payload, b)
	}

	if len(payload) == 0 {
		return
	}

	switch payload[0] {
	case OptionTerminalType:
		if len(payload) >= 2 && payload[1] == TerminalTypeIs {
			name := normalizeTerminalType(payload[2:])
			c.setCap(func(caps *Caps) { caps.TerminalType = name })
			if state != nil {
				state.ttypeDone = true
			}
		}

	case OptionWindowSize:
		if len(payload) != 5 {
			c.logger.Debug("bad NAWS payload length", "length", len(payload)-1)
			return
		}
		width := int(payload[1])<<8 | int(payload[2])
		height := int(payload[3])<<8 | int(payload[4])
		if width <= 0 || height <= 0 {
			return
		}
		c.setCap(func(caps *Caps) {
			caps.Width = width
			caps.Height = height
		})
		if state != nil {
			state.nawsDone = true
		} else {
			c.queue = append(c.queue, ResizeEvent{Width: width, Height: height})
		}

	default:
		c.logger.Debug("subnegotiation for unsupported option", "option", payload[0])
	}
}

// discardSubnegotiation skips bytes until IAC SE.
func (c *Conn) discardSubnegotiation() {
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return
		}
		if b != IAC {
			continue
		}
		next, err := c.reader.ReadByte()
		if err != nil || next == SE {
			return
		}
	}
}

func (c *Conn) setCap(mutate func(*Caps)) {
	c.capsMu.Lock()
	defer c.capsMu.Unlock()
	mutate(&c.caps)
}

// Write sends application data. Literal IAC bytes are doubled and bare
// newlines become CR LF per the network virtual terminal. Writes are
// serialized: two concurrent writers never interleave.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.writeWire(encodeData(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteString is Write for strings.
func (c *Conn) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

// writeWire writes pre-encoded wire bytes under the write lock.
func (c *Conn) writeWire(wire []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.netConn.Write(wire); err != nil {
		return err
	}
	if c.onActivity != nil {
		c.onActivity()
	}
	return nil
}

// encodeData applies outbound byte-stuffing: IAC doubled, LF that is
// not already part of CR LF expanded to CR LF.
func encodeData(p []byte) []byte {
	encoded := make([]byte, 0, len(p)+8)
	var previous byte
	for _, b := range p {
		switch {
		case b == IAC:
			encoded = append(encoded, IAC, IAC)
		case b == '\n' && previous != '\r':
			encoded = append(encoded, '\r', '\n')
		default:
			encoded = append(encoded, b)
		}
		previous = b
	}
	return encoded
}

// normalizeTerminalType lowercases a reported terminal name and strips
// non-printable bytes.
func normalizeTerminalType(raw []byte) string {
	name := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		if b >= 0x20 && b < 0x7F {
			name = append(name, b)
		}
	}
	if len(name) == 0 {
		return DefaultTerminalType
	}
	return string(name)
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
