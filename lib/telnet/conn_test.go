// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package telnet

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain consumes and discards everything written to the client side of
// a pipe, so server writes never block.
func drain(conn net.Conn) {
	buffer := make([]byte, 256)
	for {
		if _, err := conn.Read(buffer); err != nil {
			return
		}
	}
}

func TestEncodeDataStuffsIAC(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []byte
	}{
		{"no special bytes", []byte("plain"), []byte("plain")},
		{"single IAC doubled", []byte{0x41, IAC, 0x42}, []byte{0x41, IAC, IAC, 0x42}},
		{"consecutive IACs", []byte{IAC, IAC}, []byte{IAC, IAC, IAC, IAC}},
		{"bare LF expands", []byte("a\nb"), []byte("a\r\nb")},
		{"CRLF untouched", []byte("a\r\nb"), []byte("a\r\nb")},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := encodeData(test.input)
			if !bytes.Equal(got, test.want) {
				t.Errorf("encodeData(%v) = %v, want %v", test.input, got, test.want)
			}
		})
	}
}

func TestStuffingRoundTrip(t *testing.T) {
	// Bytes containing the escape byte must survive the wire exactly:
	// doubled on send, undoubled on receipt.
	original := []byte{0x41, IAC, 0x42, IAC, IAC, 0x43}

	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	server := NewConn(serverSide, WithLogger(testLogger()))

	go func() {
		// The client sends the stuffed form of original.
		clientSide.Write(encodeData(original))
		clientSide.Close()
	}()

	var received []byte
	for len(received) < len(original) {
		event, err := server.ReadEvent()
		if err != nil {
			t.Fatalf("ReadEvent: %v (received so far: %v)", err, received)
		}
		key, ok := event.(KeyEvent)
		if !ok || key.Key != KeyRune {
			t.Fatalf("unexpected event %+v", event)
		}
		received = append(received, byte(key.Rune))
	}

	if !bytes.Equal(received, original) {
		t.Errorf("round trip: got %v, want %v", received, original)
	}
}

func TestNegotiateTimesOutToDefaults(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	// The client reads the offers but never answers.
	go func() {
		buffer := make([]byte, 64)
		clientSide.Read(buffer)
	}()

	server := NewConn(serverSide, WithLogger(testLogger()))
	caps, err := server.Negotiate(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	if caps.TerminalType != DefaultTerminalType {
		t.Errorf("terminal type = %q, want %q", caps.TerminalType, DefaultTerminalType)
	}
	if caps.Width != DefaultWidth || caps.Height != DefaultHeight {
		t.Errorf("viewport = %dx%d, want %dx%d", caps.Width, caps.Height, DefaultWidth, DefaultHeight)
	}
	if caps.EchoSuppressed {
		t.Error("echo reported suppressed without client confirmation")
	}
}

func TestNegotiateFullHandshake(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	go func() {
		// Read the four offers.
		offers := make([]byte, 12)
		if _, err := io.ReadFull(clientSide, offers); err != nil {
			return
		}

		// Accept echo and SGA, offer terminal type and window size.
		clientSide.Write([]byte{
			IAC, DO, OptionEcho,
			IAC, DO, OptionSuppressGoAhead,
			IAC, WILL, OptionTerminalType,
			IAC, WILL, OptionWindowSize,
		})

		// The server asks for the terminal type; drain that and any
		// later writes so the pipe never stalls.
		go drain(clientSide)

		clientSide.Write(append(append([]byte{IAC, SB, OptionTerminalType, TerminalTypeIs}, []byte("ANSI")...), IAC, SE))
		clientSide.Write([]byte{IAC, SB, OptionWindowSize, 0, 132, 0, 50, IAC, SE})
	}()

	server := NewConn(serverSide, WithLogger(testLogger()))
	caps, err := server.Negotiate(5 * time.Second)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	if !caps.EchoSuppressed {
		t.Error("echo not suppressed after DO ECHO")
	}
	if !caps.SuppressGoAhead {
		t.Error("go-ahead not suppressed after DO SGA")
	}
	if caps.TerminalType != "ansi" {
		t.Errorf("terminal type = %q, want %q", caps.TerminalType, "ansi")
	}
	if caps.Width != 132 || caps.Height != 50 {
		t.Errorf("viewport = %dx%d, want 132x50", caps.Width, caps.Height)
	}
}

func TestClientOfferedGoAheadSuppressionAccepted(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	reply := make(chan []byte, 1)
	go func() {
		// Suppress-go-ahead is symmetric: the client may offer its own
		// side rather than wait for ours.
		clientSide.Write([]byte{IAC, WILL, OptionSuppressGoAhead, 'x'})
		answer := make([]byte, 3)
		if _, err := io.ReadFull(clientSide, answer); err != nil {
			return
		}
		reply <- answer
	}()

	server := NewConn(serverSide, WithLogger(testLogger()))
	event, err := server.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if key, ok := event.(KeyEvent); !ok || key.Rune != 'x' {
		t.Fatalf("event = %+v, want rune x", event)
	}

	select {
	case answer := <-reply:
		want := []byte{IAC, DO, OptionSuppressGoAhead}
		if !bytes.Equal(answer, want) {
			t.Errorf("reply = %v, want %v", answer, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply to WILL suppress-go-ahead")
	}
}

func TestDataDuringNegotiationNotLost(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	go func() {
		buffer := make([]byte, 64)
		clientSide.Read(buffer)
		// An impatient caller mashes a key before answering options.
		clientSide.Write([]byte("x"))
	}()

	server := NewConn(serverSide, WithLogger(testLogger()))
	if _, err := server.Negotiate(100 * time.Millisecond); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	event, err := server.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	key, ok := event.(KeyEvent)
	if !ok || key.Rune != 'x' {
		t.Errorf("event = %+v, want rune x queued from negotiation", event)
	}
}

func TestMidSessionResize(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	server := NewConn(serverSide, WithLogger(testLogger()))

	go func() {
		clientSide.Write([]byte{IAC, SB, OptionWindowSize, 0, 100, 0, 30, IAC, SE})
	}()

	event, err := server.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	resize, ok := event.(ResizeEvent)
	if !ok {
		t.Fatalf("event = %+v, want ResizeEvent", event)
	}
	if resize.Width != 100 || resize.Height != 30 {
		t.Errorf("resize = %dx%d, want 100x30", resize.Width, resize.Height)
	}
	if caps := server.Caps(); caps.Width != 100 || caps.Height != 30 {
		t.Errorf("caps not updated: %dx%d", caps.Width, caps.Height)
	}
}

func TestMalformedCommandNotFatal(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	server := NewConn(serverSide, WithLogger(testLogger()))

	go func() {
		go drain(clientSide)
		// A stray SE, an unknown command byte, then real data.
		clientSide.Write([]byte{IAC, SE, IAC, 200, 'k'})
	}()

	event, err := server.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent after malformed input: %v", err)
	}
	key, ok := event.(KeyEvent)
	if !ok || key.Rune != 'k' {
		t.Errorf("event = %+v, want rune k after skipping garbage", event)
	}
}

func TestReadEventEOF(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()

	server := NewConn(serverSide, WithLogger(testLogger()))
	clientSide.Close()

	if _, err := server.ReadEvent(); err == nil {
		t.Fatal("ReadEvent returned no error after peer close")
	}
}

func TestWriteSerialized(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	server := NewConn(serverSide, WithLogger(testLogger()))

	received := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(clientSide)
		received <- data
	}()

	// Two goroutines write multi-byte messages concurrently; each
	// message must appear contiguously.
	const writers = 2
	const perWriter = 50
	done := make(chan struct{}, writers)
	messages := [][]byte{[]byte("aaaa"), []byte("bbbb")}
	for i := 0; i < writers; i++ {
		go func(message []byte) {
			for j := 0; j < perWriter; j++ {
				server.Write(message)
			}
			done <- struct{}{}
		}(messages[i])
	}
	for i := 0; i < writers; i++ {
		<-done
	}
	serverSide.Close()

	data := <-received
	for offset := 0; offset+4 <= len(data); offset += 4 {
		chunk := data[offset : offset+4]
		if !bytes.Equal(chunk, messages[0]) && !bytes.Equal(chunk, messages[1]) {
			t.Fatalf("interleaved write at offset %d: %q", offset, chunk)
		}
	}
}
