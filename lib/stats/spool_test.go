// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpoolRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.spool")

	spool, err := OpenSpool(path, testLogger())
	if err != nil {
		t.Fatalf("OpenSpool: %v", err)
	}

	spool.Record(SessionConnected{SessionID: "s1", Node: 1, RemoteAddr: "10.0.0.7:40312", At: time.Unix(1700000000, 0)})
	spool.Record(DoorSessionStarted{ProcessID: "p1", SessionID: "s1", Node: 1, DoorCode: "tw", Handle: "CYBER", At: time.Unix(1700000060, 0)})
	spool.Record(DoorSessionEnded{ProcessID: "p1", SessionID: "s1", DoorCode: "tw", Outcome: "completed", Duration: 95 * time.Second, At: time.Unix(1700000155, 0)})
	spool.Record(SessionDisconnected{SessionID: "s1", Node: 1, Handle: "CYBER", Cause: "peer closed", Duration: 200 * time.Second, At: time.Unix(1700000200, 0)})

	if err := spool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := ReadSpool(path)
	if err != nil {
		t.Fatalf("ReadSpool: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}

	connected, ok := events[0].(SessionConnected)
	if !ok {
		t.Fatalf("events[0] = %T, want SessionConnected", events[0])
	}
	if connected.Node != 1 || connected.RemoteAddr != "10.0.0.7:40312" {
		t.Errorf("connected = %+v", connected)
	}

	ended, ok := events[2].(DoorSessionEnded)
	if !ok {
		t.Fatalf("events[2] = %T, want DoorSessionEnded", events[2])
	}
	if ended.Outcome != "completed" || ended.Duration != 95*time.Second {
		t.Errorf("ended = %+v", ended)
	}
}

func TestSpoolAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.spool")

	first, err := OpenSpool(path, testLogger())
	if err != nil {
		t.Fatalf("OpenSpool: %v", err)
	}
	first.Record(SessionConnected{SessionID: "a", Node: 1, At: time.Unix(1, 0)})
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := OpenSpool(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	second.Record(SessionConnected{SessionID: "b", Node: 2, At: time.Unix(2, 0)})
	if err := second.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := ReadSpool(path)
	if err != nil {
		t.Fatalf("ReadSpool: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].(SessionConnected).SessionID != "b" {
		t.Errorf("second record = %+v", events[1])
	}
}

func TestSpoolRecordAfterCloseIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.spool")
	spool, err := OpenSpool(path, testLogger())
	if err != nil {
		t.Fatalf("OpenSpool: %v", err)
	}
	spool.Record(SessionConnected{SessionID: "a", Node: 1, At: time.Unix(1, 0)})
	if err := spool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A session racing shutdown may still record; the event is dropped,
	// never a panic, and the flushed file stays readable.
	spool.Record(SessionDisconnected{SessionID: "a", Node: 1, Cause: "late", At: time.Unix(2, 0)})

	events, err := ReadSpool(path)
	if err != nil {
		t.Fatalf("ReadSpool: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].(SessionConnected).SessionID != "a" {
		t.Errorf("record = %+v", events[0])
	}
}

func TestSpoolCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.spool")
	spool, err := OpenSpool(path, testLogger())
	if err != nil {
		t.Fatalf("OpenSpool: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
