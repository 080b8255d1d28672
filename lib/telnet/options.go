// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package telnet

// Telnet command bytes (RFC 854). Every protocol sequence on the wire
// starts with IAC; a literal 0xFF data byte is sent as IAC IAC.
const (
	// IAC ("interpret as command") introduces every protocol sequence.
	IAC byte = 255

	// DONT demands the peer disable an option.
	DONT byte = 254

	// DO requests the peer enable an option.
	DO byte = 253

	// WONT refuses to enable an option locally.
	WONT byte = 252

	// WILL offers to enable an option locally.
	WILL byte = 251

	// SB opens a subnegotiation; SE closes it.
	SB byte = 250
	SE byte = 240

	// GA is the go-ahead prompt, suppressed by the SGA option.
	GA byte = 249

	// NOP is a no-operation, sent by some clients as keepalive.
	NOP byte = 241
)

// Option codes negotiated by the engine.
const (
	// OptionEcho (RFC 857). The server offers WILL ECHO so the client
	// disables local echo and the board controls what is displayed.
	OptionEcho byte = 1

	// OptionSuppressGoAhead (RFC 858). Both sides suppress the archaic
	// half-duplex go-ahead signal.
	OptionSuppressGoAhead byte = 3

	// OptionTerminalType (RFC 1091). The server sends DO and then asks
	// for the name with an SB TERMINAL-TYPE SEND subnegotiation.
	OptionTerminalType byte = 24

	// OptionWindowSize (RFC 1073, "NAWS"). The client volunteers its
	// viewport as a 4-byte subnegotiation payload: width then height,
	// each uint16 big-endian.
	OptionWindowSize byte = 31
)

// TERMINAL-TYPE subnegotiation verbs (RFC 1091).
const (
	TerminalTypeIs   byte = 0
	TerminalTypeSend byte = 1
)

// Negotiated capability defaults, applied to any option the peer never
// answers within the negotiation deadline.
const (
	DefaultTerminalType = "unknown"
	DefaultWidth        = 80
	DefaultHeight       = 24
)

// maxSubnegotiation bounds the bytes accepted inside one IAC SB ... SE
// sequence. Terminal type names and NAWS payloads are tiny; anything
// larger is a protocol violation and is discarded.
const maxSubnegotiation = 256
