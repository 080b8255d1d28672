// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/lanternbbs/lantern/lib/clock"
	"github.com/lanternbbs/lantern/lib/telnet"
	"github.com/lanternbbs/lantern/lib/user"
)

// State is a session lifecycle phase. Transitions are monotonic:
// Negotiating → Active → Closing → Closed, with Closing reachable from
// any earlier state.
type State int

const (
	StateNegotiating State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "invalid"
}

// Session is one connected caller. Owned exclusively by the Manager;
// the protocol engine mutates negotiated capabilities and activity
// through the methods here.
type Session struct {
	// ID uniquely identifies the session.
	ID string

	// Node is the 1-based node number, unique among live sessions.
	Node int

	conn *telnet.Conn
	clk  clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	profile      *user.Profile
	createdAt    time.Time
	lastActivity time.Time
	closeCause   string

	closed chan struct{}
}

// Conn returns the session's protocol engine.
func (s *Session) Conn() *telnet.Conn { return s.conn }

// Context is cancelled when the session begins closing. Door launches
// and serial pumps derive from it so that disconnect tears them down.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed when the session is fully reclaimed.
func (s *Session) Done() <-chan struct{} { return s.closed }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touch records activity. Wired into the protocol engine so every
// successful read and write refreshes the idle deadline.
func (s *Session) Touch() {
	now := s.clk.Now()
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// IdleFor returns how long the session has been without activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// Age returns the session duration as of now.
func (s *Session) Age(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.createdAt)
}

// SetProfile attaches the authenticated caller profile.
func (s *Session) SetProfile(profile user.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = &profile
}

// Profile returns the attached profile, or false before login.
func (s *Session) Profile() (user.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return user.Profile{}, false
	}
	return *s.profile, true
}

// Activate moves the session from Negotiating to Active. Returns false
// if the session already left Negotiating (e.g. swept while the
// handshake ran).
func (s *Session) Activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNegotiating {
		return false
	}
	s.state = StateActive
	return true
}

// BeginClose moves the session to Closing, cancels its context, and
// closes the connection. Idempotent; the first cause wins.
func (s *Session) BeginClose(cause string) {
	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.closeCause = cause
	s.mu.Unlock()

	s.cancel()
	s.conn.Close()
}

// markClosed finalizes the session. Called only by the Manager after
// the session leaves the registry.
func (s *Session) markClosed() {
	s.mu.Lock()
	alreadyClosed := s.state == StateClosed
	s.state = StateClosed
	s.mu.Unlock()
	if !alreadyClosed {
		close(s.closed)
	}
}

// closeCauseOrDefault returns the recorded close cause.
func (s *Session) closeCauseOrDefault() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCause == "" {
		return "connection closed"
	}
	return s.closeCause
}
