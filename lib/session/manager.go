// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanternbbs/lantern/lib/clock"
	"github.com/lanternbbs/lantern/lib/stats"
	"github.com/lanternbbs/lantern/lib/telnet"
)

// ErrFull is returned by Admit when every node is occupied. The
// connection has already been sent the capacity notice and closed.
var ErrFull = errors.New("session: all nodes in use")

// ErrShuttingDown is returned by Admit once Shutdown has begun.
var ErrShuttingDown = errors.New("session: server shutting down")

// capacityNotice is written to rejected connections before closing.
// Raw CR LF: the rejected connection never gets a protocol engine.
const capacityNotice = "Sorry, all nodes are in use right now. Please call back later.\r\n"

// shutdownNotice is broadcast to active sessions when the server goes
// down.
const shutdownNotice = "\r\nThe system is going down for maintenance. Goodbye!\r\n"

// Config holds the Manager's tunables.
type Config struct {
	// MaxSessions caps concurrent sessions and bounds the node number
	// space.
	MaxSessions int

	// IdleTimeout closes sessions with no read or write activity.
	IdleTimeout time.Duration

	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration

	// ShutdownGrace is how long Shutdown waits after the broadcast
	// before force-closing connections.
	ShutdownGrace time.Duration
}

// Manager is the admission and lifecycle authority for sessions. One
// Manager per server, constructed at startup and passed by reference —
// no ambient globals.
type Manager struct {
	config   Config
	clk      clock.Clock
	logger   *slog.Logger
	recorder stats.Recorder

	mu       sync.Mutex
	sessions map[string]*Session
	nodes    []bool
	draining bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithClock injects a clock (tests use clock.Fake).
func WithClock(clk clock.Clock) ManagerOption {
	return func(m *Manager) { m.clk = clk }
}

// WithRecorder sets the statistics sink.
func WithRecorder(recorder stats.Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = recorder }
}

// NewManager validates config and builds a Manager.
func NewManager(config Config, options ...ManagerOption) (*Manager, error) {
	if config.MaxSessions < 1 {
		return nil, fmt.Errorf("session: MaxSessions must be at least 1, got %d", config.MaxSessions)
	}
	if config.IdleTimeout <= 0 {
		return nil, fmt.Errorf("session: IdleTimeout must be positive, got %v", config.IdleTimeout)
	}
	if config.SweepInterval <= 0 || config.SweepInterval > config.IdleTimeout {
		return nil, fmt.Errorf("session: SweepInterval must be in (0, IdleTimeout], got %v", config.SweepInterval)
	}

	manager := &Manager{
		config:   config,
		sessions: make(map[string]*Session),
		nodes:    make([]bool, config.MaxSessions),
	}
	for _, option := range options {
		option(manager)
	}
	if manager.clk == nil {
		manager.clk = clock.Real()
	}
	if manager.logger == nil {
		manager.logger = slog.Default()
	}
	if manager.recorder == nil {
		manager.recorder = stats.Discard
	}
	return manager, nil
}

// Admit registers a new connection as a Session in state Negotiating.
// Over capacity, the connection receives a polite notice and is closed
// before any session resources are allocated; Admit returns ErrFull.
func (m *Manager) Admit(netConn net.Conn) (*Session, error) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		m.rejectConn(netConn, shutdownNotice)
		return nil, ErrShuttingDown
	}
	if len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		m.rejectConn(netConn, capacityNotice)
		return nil, ErrFull
	}

	node := m.claimNodeLocked()
	now := m.clk.Now()
	ctx, cancel := context.WithCancel(context.Background())

	sess := &Session{
		ID:           uuid.NewString(),
		Node:         node,
		clk:          m.clk,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateNegotiating,
		createdAt:    now,
		lastActivity: now,
		closed:       make(chan struct{}),
	}
	sess.conn = telnet.NewConn(netConn,
		telnet.WithLogger(m.logger.With("session", sess.ID, "node", node)),
		telnet.WithActivityFunc(sess.Touch),
	)

	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("session connected",
		"session", sess.ID,
		"node", node,
		"remote", netConn.RemoteAddr(),
		"active", m.Count(),
	)
	m.recorder.Record(stats.SessionConnected{
		SessionID:  sess.ID,
		Node:       node,
		RemoteAddr: netConn.RemoteAddr().String(),
		At:         now,
	})
	return sess, nil
}

// rejectConn writes a notice and closes the raw connection, with a
// short deadline so a dead peer cannot hold the acceptor.
func (m *Manager) rejectConn(netConn net.Conn, notice string) {
	_ = netConn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, _ = netConn.Write([]byte(notice))
	_ = netConn.Close()
	m.logger.Info("connection rejected", "remote", netConn.RemoteAddr(), "active", m.Count())
}

// claimNodeLocked returns the lowest free node number (1-based).
// Callers hold m.mu and have verified capacity.
func (m *Manager) claimNodeLocked() int {
	for i, taken := range m.nodes {
		if !taken {
			m.nodes[i] = true
			return i + 1
		}
	}
	panic("session: capacity check passed but no free node")
}

// Close tears down a session: state to Closing, connection closed,
// context cancelled, registry slot and node released, disconnect event
// emitted. Idempotent — the sweep, a read-error path, and Shutdown may
// all race to close the same session.
func (m *Manager) Close(sess *Session, cause string) {
	sess.BeginClose(cause)

	m.mu.Lock()
	if _, present := m.sessions[sess.ID]; !present {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sess.ID)
	m.nodes[sess.Node-1] = false
	m.mu.Unlock()

	now := m.clk.Now()
	handle := ""
	if profile, ok := sess.Profile(); ok {
		handle = profile.Handle
	}

	sess.markClosed()

	m.logger.Info("session disconnected",
		"session", sess.ID,
		"node", sess.Node,
		"cause", sess.closeCauseOrDefault(),
		"duration", sess.Age(now),
	)
	m.recorder.Record(stats.SessionDisconnected{
		SessionID: sess.ID,
		Node:      sess.Node,
		Handle:    handle,
		Cause:     sess.closeCauseOrDefault(),
		Duration:  sess.Age(now),
		At:        now,
	})
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions returns a snapshot of live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		snapshot = append(snapshot, sess)
	}
	return snapshot
}

// Run drives the idle sweep until ctx is cancelled. The sweep never
// blocks admission: it snapshots the registry and closes idle sessions
// outside the lock.
func (m *Manager) Run(ctx context.Context) {
	ticker := m.clk.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep closes every session idle beyond the configured timeout.
func (m *Manager) sweep(now time.Time) {
	for _, sess := range m.Sessions() {
		if sess.State() >= StateClosing {
			continue
		}
		idle := sess.IdleFor(now)
		if idle < m.config.IdleTimeout {
			continue
		}
		m.logger.Info("session idle timeout", "session", sess.ID, "node", sess.Node, "idle", idle)
		// Best effort: tell the caller why the line dropped.
		_, _ = sess.Conn().WriteString("\r\nIdle timeout, disconnecting.\r\n")
		m.Close(sess, "idle timeout")
	}
}

// Shutdown stops admitting, broadcasts the shutdown notice to active
// sessions, waits the configured grace period for output to flush, and
// force-closes whatever remains. Blocks until every session is
// reclaimed or ctx is cancelled.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	remaining := m.Sessions()
	for _, sess := range remaining {
		if sess.State() == StateActive {
			_, _ = sess.Conn().WriteString(shutdownNotice)
		}
	}

	if len(remaining) > 0 {
		select {
		case <-m.clk.After(m.config.ShutdownGrace):
		case <-ctx.Done():
		}
	}

	for _, sess := range m.Sessions() {
		m.Close(sess, "server shutdown")
	}
	m.logger.Info("session manager drained")
}
