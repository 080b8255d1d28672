// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package door

import "testing"

func TestProcessStateMachine(t *testing.T) {
	tests := []struct {
		name string
		from ProcessState
		to   ProcessState
		ok   bool
	}{
		{"starting to running", StateStarting, StateRunning, true},
		{"starting to error", StateStarting, StateError, true},
		{"starting skips to completed", StateStarting, StateCompleted, false},
		{"running to ending", StateRunning, StateEnding, true},
		{"running back to starting", StateRunning, StateStarting, false},
		{"ending to completed", StateEnding, StateCompleted, true},
		{"ending to error", StateEnding, StateError, true},
		{"ending to timed out", StateEnding, StateTimedOut, true},
		{"completed is absorbing", StateCompleted, StateRunning, false},
		{"error is absorbing", StateError, StateEnding, false},
		{"timed out is absorbing", StateTimedOut, StateCompleted, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ps := &ProcessSession{state: test.from, done: make(chan struct{})}
			err := ps.transition(test.to)
			if test.ok && err != nil {
				t.Errorf("transition %v -> %v: %v", test.from, test.to, err)
			}
			if !test.ok && err == nil {
				t.Errorf("transition %v -> %v allowed, want rejection", test.from, test.to)
			}
			if test.ok && ps.State() != test.to {
				t.Errorf("state after transition = %v, want %v", ps.State(), test.to)
			}
			if !test.ok && ps.State() != test.from {
				t.Errorf("failed transition mutated state to %v", ps.State())
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	for state, terminal := range map[ProcessState]bool{
		StateStarting:  false,
		StateRunning:   false,
		StateEnding:    false,
		StateCompleted: true,
		StateError:     true,
		StateTimedOut:  true,
	} {
		if got := state.Terminal(); got != terminal {
			t.Errorf("%v.Terminal() = %v, want %v", state, got, terminal)
		}
	}
}
