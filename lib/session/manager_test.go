// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/lanternbbs/lantern/lib/clock"
	"github.com/lanternbbs/lantern/lib/stats"
	"github.com/lanternbbs/lantern/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager builds a Manager on a fake clock with small limits.
func newTestManager(t *testing.T, maxSessions int, recorder stats.Recorder) (*Manager, *clock.FakeClock) {
	t.Helper()
	fakeClock := clock.Fake(time.Unix(1_700_000_000, 0))
	options := []ManagerOption{WithLogger(testLogger()), WithClock(fakeClock)}
	if recorder != nil {
		options = append(options, WithRecorder(recorder))
	}
	manager, err := NewManager(Config{
		MaxSessions:   maxSessions,
		IdleTimeout:   10 * time.Minute,
		SweepInterval: 30 * time.Second,
		ShutdownGrace: 5 * time.Second,
	}, options...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager, fakeClock
}

// admit connects a pipe pair, admits the server side, and drains the
// client side so server writes never block.
func admit(t *testing.T, manager *Manager) (*Session, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})

	go func() {
		buffer := make([]byte, 256)
		for {
			if _, err := clientSide.Read(buffer); err != nil {
				return
			}
		}
	}()

	sess, err := manager.Admit(serverSide)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return sess, clientSide
}

// channelRecorder forwards events to a channel for assertions.
type channelRecorder struct {
	events chan stats.Event
}

func newChannelRecorder() *channelRecorder {
	return &channelRecorder{events: make(chan stats.Event, 16)}
}

func (r *channelRecorder) Record(event stats.Event) { r.events <- event }

func TestAdmitAssignsSequentialNodes(t *testing.T) {
	manager, _ := newTestManager(t, 4, nil)

	first, _ := admit(t, manager)
	second, _ := admit(t, manager)

	if first.Node != 1 || second.Node != 2 {
		t.Errorf("nodes = %d, %d, want 1, 2", first.Node, second.Node)
	}
	if first.State() != StateNegotiating {
		t.Errorf("new session state = %v, want negotiating", first.State())
	}
	if manager.Count() != 2 {
		t.Errorf("Count() = %d, want 2", manager.Count())
	}
}

func TestAdmitRejectsOverCapacity(t *testing.T) {
	manager, _ := newTestManager(t, 2, nil)

	admit(t, manager)
	admit(t, manager)

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	noticeReceived := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(clientSide)
		noticeReceived <- data
	}()

	_, err := manager.Admit(serverSide)
	if err != ErrFull {
		t.Fatalf("Admit over capacity: err = %v, want ErrFull", err)
	}
	if manager.Count() != 2 {
		t.Errorf("rejected connection was registered: Count() = %d", manager.Count())
	}

	notice := testutil.RequireReceive(t, noticeReceived, 5*time.Second, "waiting for rejection notice")
	if !bytes.Contains(notice, []byte("all nodes are in use")) {
		t.Errorf("rejection notice = %q", notice)
	}
}

func TestNodeNumberReused(t *testing.T) {
	manager, _ := newTestManager(t, 2, nil)

	first, _ := admit(t, manager)
	manager.Close(first, "test")
	testutil.RequireClosed(t, first.Done(), 5*time.Second, "first session reclaimed")

	replacement, _ := admit(t, manager)
	if replacement.Node != 1 {
		t.Errorf("node = %d, want freed node 1", replacement.Node)
	}
}

func TestCloseIdempotent(t *testing.T) {
	recorder := newChannelRecorder()
	manager, _ := newTestManager(t, 2, recorder)

	sess, _ := admit(t, manager)
	testutil.RequireReceive(t, recorder.events, 5*time.Second, "connected event")

	manager.Close(sess, "first cause")
	manager.Close(sess, "second cause")

	event := testutil.RequireReceive(t, recorder.events, 5*time.Second, "disconnected event")
	disconnected, ok := event.(stats.SessionDisconnected)
	if !ok {
		t.Fatalf("event = %T, want SessionDisconnected", event)
	}
	if disconnected.Cause != "first cause" {
		t.Errorf("cause = %q, want the first close cause", disconnected.Cause)
	}

	select {
	case extra := <-recorder.events:
		t.Errorf("second Close emitted another event: %+v", extra)
	default:
	}
}

func TestCloseCancelsSessionContext(t *testing.T) {
	manager, _ := newTestManager(t, 2, nil)
	sess, _ := admit(t, manager)

	manager.Close(sess, "test")

	select {
	case <-sess.Context().Done():
	default:
		t.Error("session context not cancelled by Close")
	}
}

func TestIdleSweepClosesStaleSession(t *testing.T) {
	manager, fakeClock := newTestManager(t, 2, nil)
	sess, _ := admit(t, manager)
	if !sess.Activate() {
		t.Fatal("Activate failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)
	fakeClock.WaitForTimers(1)

	// Just under the timeout: session survives the sweep.
	fakeClock.Advance(9*time.Minute + 30*time.Second)
	if sess.State() >= StateClosing {
		t.Fatal("session closed before idle timeout")
	}

	// Cross the deadline; the next sweep reaps it.
	fakeClock.Advance(time.Minute)
	testutil.RequireClosed(t, sess.Done(), 5*time.Second, "idle session reclaimed")

	if manager.Count() != 0 {
		t.Errorf("Count() = %d after sweep, want 0", manager.Count())
	}
}

func TestActivityDefersIdleSweep(t *testing.T) {
	manager, fakeClock := newTestManager(t, 2, nil)
	sess, _ := admit(t, manager)
	sess.Activate()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)
	fakeClock.WaitForTimers(1)

	// Activity halfway through the window resets the idle clock.
	fakeClock.Advance(6 * time.Minute)
	sess.Touch()
	fakeClock.Advance(6 * time.Minute)

	// 12 minutes total but only 6 since the touch.
	if sess.State() >= StateClosing {
		t.Error("session swept despite recent activity")
	}
}

func TestShutdownDrainsAllSessions(t *testing.T) {
	manager, fakeClock := newTestManager(t, 3, nil)
	first, _ := admit(t, manager)
	second, _ := admit(t, manager)
	first.Activate()
	second.Activate()

	shutdownDone := make(chan struct{})
	go func() {
		manager.Shutdown(context.Background())
		close(shutdownDone)
	}()

	fakeClock.WaitForTimers(1) // grace period timer
	fakeClock.Advance(5 * time.Second)
	testutil.RequireClosed(t, shutdownDone, 5*time.Second, "shutdown completed")

	if manager.Count() != 0 {
		t.Errorf("Count() = %d after shutdown, want 0", manager.Count())
	}
	testutil.RequireClosed(t, first.Done(), time.Second, "first session reclaimed")
	testutil.RequireClosed(t, second.Done(), time.Second, "second session reclaimed")
}

func TestAdmitRejectedDuringShutdown(t *testing.T) {
	manager, _ := newTestManager(t, 2, nil)

	manager.Shutdown(context.Background())

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	go io.Copy(io.Discard, clientSide)

	if _, err := manager.Admit(serverSide); err != ErrShuttingDown {
		t.Errorf("Admit during shutdown: err = %v, want ErrShuttingDown", err)
	}
}

func TestStateStrings(t *testing.T) {
	states := map[State]string{
		StateNegotiating: "negotiating",
		StateActive:      "active",
		StateClosing:     "closing",
		StateClosed:      "closed",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
	if !strings.Contains(State(42).String(), "invalid") {
		t.Errorf("out-of-range state = %q", State(42).String())
	}
}
