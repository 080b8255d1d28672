// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import "time"

// Event is one lifecycle notification from the core. Implementations
// are value types so records can be spooled without aliasing.
type Event interface {
	// Kind returns the record discriminator stored in the spool.
	Kind() string
}

// Recorder consumes events. The core calls Record from session and
// door lifecycle paths; implementations must not block.
type Recorder interface {
	Record(event Event)
}

// Discard is a Recorder that drops everything. Useful in tests and
// when no statistics collaborator is configured.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Event) {}

// SessionConnected is emitted when a connection is admitted and
// registered.
type SessionConnected struct {
	SessionID  string    `cbor:"session_id"`
	Node       int       `cbor:"node"`
	RemoteAddr string    `cbor:"remote_addr"`
	At         time.Time `cbor:"at"`
}

func (SessionConnected) Kind() string { return "session_connected" }

// SessionDisconnected is emitted when a session is fully reclaimed.
type SessionDisconnected struct {
	SessionID string        `cbor:"session_id"`
	Node      int           `cbor:"node"`
	Handle    string        `cbor:"handle,omitempty"`
	Cause     string        `cbor:"cause"`
	Duration  time.Duration `cbor:"duration"`
	At        time.Time     `cbor:"at"`
}

func (SessionDisconnected) Kind() string { return "session_disconnected" }

// DoorSessionStarted is emitted when an external program reaches
// Running.
type DoorSessionStarted struct {
	ProcessID string    `cbor:"process_id"`
	SessionID string    `cbor:"session_id"`
	Node      int       `cbor:"node"`
	DoorCode  string    `cbor:"door_code"`
	Handle    string    `cbor:"handle"`
	At        time.Time `cbor:"at"`
}

func (DoorSessionStarted) Kind() string { return "door_started" }

// DoorSessionEnded is emitted when a ProcessSession reaches a terminal
// state. Outcome is the terminal state name: "completed", "error", or
// "timed_out".
type DoorSessionEnded struct {
	ProcessID string        `cbor:"process_id"`
	SessionID string        `cbor:"session_id"`
	DoorCode  string        `cbor:"door_code"`
	Outcome   string        `cbor:"outcome"`
	ExitCode  int           `cbor:"exit_code"`
	Duration  time.Duration `cbor:"duration"`
	At        time.Time     `cbor:"at"`
}

func (DoorSessionEnded) Kind() string { return "door_ended" }
