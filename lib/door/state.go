// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package door

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lanternbbs/lantern/lib/serial"
)

// ProcessState is a phase of an external program run. Transitions are
// monotonic: Starting → Running → Ending → one of the three terminal
// states. Terminal states are absorbing.
type ProcessState int

const (
	StateStarting ProcessState = iota
	StateRunning
	StateEnding
	StateCompleted
	StateError
	StateTimedOut
)

func (s ProcessState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateEnding:
		return "ending"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	case StateTimedOut:
		return "timed_out"
	}
	return "invalid"
}

// Terminal reports whether s is one of the absorbing end states.
func (s ProcessState) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateTimedOut
}

var allowedTransitions = map[ProcessState][]ProcessState{
	StateStarting: {StateRunning, StateError},
	StateRunning:  {StateEnding},
	StateEnding:   {StateCompleted, StateError, StateTimedOut},
}

// ProcessSession is one run of an external program, owned by the
// Orchestrator that launched it. Callers observe it through Done and
// the accessors; all mutation happens on the supervisor goroutine.
type ProcessSession struct {
	// ID uniquely identifies this run.
	ID string

	// SessionID is the caller session the run belongs to.
	SessionID string

	// Node is the caller's node number.
	Node int

	// Descriptor is the door being run.
	Descriptor *Descriptor

	// RunDir is the per-launch directory holding the drop file and
	// the serial endpoint. Deleted when the run ends.
	RunDir string

	input  *io.PipeWriter
	bridge *serial.Bridge

	mu        sync.Mutex
	state     ProcessState
	timedOut  bool
	exitCode  int
	startedAt time.Time

	done chan struct{}
}

// State returns the current lifecycle state.
func (ps *ProcessSession) State() ProcessState {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state
}

// Done is closed when the run reaches a terminal state and all
// resources are reclaimed.
func (ps *ProcessSession) Done() <-chan struct{} { return ps.done }

// Input is where caller keystrokes go; bytes written here cross the
// emulated line into the program.
func (ps *ProcessSession) Input() io.Writer { return ps.input }

// Line returns the emulated serial line for status inspection.
func (ps *ProcessSession) Line() *serial.Bridge { return ps.bridge }

// ExitCode returns the program's exit code. Valid only after Done; -1
// when the program was killed by a signal.
func (ps *ProcessSession) ExitCode() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.exitCode
}

// Outcome returns the terminal state name for reporting. Empty until
// the run ends.
func (ps *ProcessSession) Outcome() string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !ps.state.Terminal() {
		return ""
	}
	return ps.state.String()
}

// transition moves the session to a new state, enforcing the machine.
func (ps *ProcessSession) transition(to ProcessState) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, allowed := range allowedTransitions[ps.state] {
		if allowed == to {
			ps.state = to
			return nil
		}
	}
	return fmt.Errorf("door: illegal transition %s → %s", ps.state, to)
}

// markTimedOut records that the run's time limit fired. The terminal
// state becomes TimedOut regardless of how the process then exits.
func (ps *ProcessSession) markTimedOut() {
	ps.mu.Lock()
	ps.timedOut = true
	ps.mu.Unlock()
}

func (ps *ProcessSession) wasTimedOut() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.timedOut
}

func (ps *ProcessSession) setExitCode(code int) {
	ps.mu.Lock()
	ps.exitCode = code
	ps.mu.Unlock()
}
