// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// Package telnet implements the wire protocol engine for a Lantern
// session: option negotiation on connect, IAC byte-stuffing in both
// directions, translation of raw input into logical key and resize
// events, and rendering of formatted output into the negotiated
// terminal's escape dialect.
//
// The package is organized around the data flow:
//
//   - options.go: protocol byte vocabulary (commands and option codes)
//   - conn.go: the per-connection engine — negotiation, reads, ordered writes
//   - keys.go: escape-sequence parser producing logical input events
//   - render.go: ANSI output encoding with a monochrome fallback
//
// Only the option subset a board host needs is negotiated: ECHO,
// SUPPRESS-GO-AHEAD, TERMINAL-TYPE, and NAWS. Unanswered options fall
// back to safe defaults (80×24, terminal type "unknown") after a
// bounded timeout rather than holding the session hostage.
package telnet
