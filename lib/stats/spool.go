// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/lanternbbs/lantern/lib/codec"
)

// spoolBuffer is the in-flight event capacity. The writer goroutine
// drains it continuously; the buffer only fills if disk writes stall.
const spoolBuffer = 256

// envelope is the on-disk record: a kind discriminator plus the
// CBOR-encoded event. Each envelope is framed with a 4-byte big-endian
// length so records can be read back without trial decoding.
type envelope struct {
	Kind string `cbor:"kind"`
	Data []byte `cbor:"data"`
}

// Spool persists events as length-framed deterministic CBOR inside a
// zstd stream. Record never blocks; if the buffer fills, events are
// dropped and counted.
type Spool struct {
	logger *slog.Logger

	// events stays open for the life of the process: Record may race
	// Close, and a send on a closed channel would panic. The writer
	// is told to stop through quit instead.
	events chan Event
	quit   chan struct{}
	done   chan struct{}

	file    *os.File
	encoder *zstd.Encoder

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// OpenSpool opens (appending) or creates the spool file and starts the
// writer goroutine. Callers must Close to flush the compression frame.
func OpenSpool(path string, logger *slog.Logger) (*Spool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("stats: opening spool: %w", err)
	}

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stats: creating zstd writer: %w", err)
	}

	spool := &Spool{
		logger:  logger,
		events:  make(chan Event, spoolBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		file:    file,
		encoder: encoder,
	}
	go spool.run()
	return spool, nil
}

// Record implements Recorder. Non-blocking: a full buffer drops the
// event with a warning rather than stalling a session, and an event
// recorded after Close is dropped silently.
func (s *Spool) Record(event Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warn("stats spool buffer full, event dropped", "kind", event.Kind())
	}
}

func (s *Spool) run() {
	defer close(s.done)
	write := func(event Event) {
		if err := s.writeRecord(event); err != nil {
			s.logger.Error("stats spool write failed", "kind", event.Kind(), "error", err)
		}
	}
	for {
		select {
		case event := <-s.events:
			write(event)
		case <-s.quit:
			// Flush whatever was buffered before Close.
			for {
				select {
				case event := <-s.events:
					write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Spool) writeRecord(event Event) error {
	payload, err := codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	framed, err := codec.Marshal(envelope{Kind: event.Kind(), Data: payload})
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(framed)))
	if _, err := s.encoder.Write(header[:]); err != nil {
		return err
	}
	_, err = s.encoder.Write(framed)
	return err
}

// Close drains buffered events, flushes the zstd frame, and closes the
// file. Safe to call more than once.
func (s *Spool) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.quit)
		<-s.done
		if err := s.encoder.Close(); err != nil {
			s.closeErr = fmt.Errorf("stats: flushing spool: %w", err)
		}
		if err := s.file.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("stats: closing spool: %w", err)
		}
	})
	return s.closeErr
}

// ReadSpool decodes every record in a spool file. Intended for tests
// and offline reporting tools, not the hot path.
func ReadSpool(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stats: opening spool: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("stats: creating zstd reader: %w", err)
	}
	defer decoder.Close()

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("stats: decompressing spool: %w", err)
	}

	var events []Event
	buffer := bytes.NewReader(raw)
	for buffer.Len() > 0 {
		var header [4]byte
		if _, err := io.ReadFull(buffer, header[:]); err != nil {
			return nil, fmt.Errorf("stats: truncated frame header: %w", err)
		}
		length := binary.BigEndian.Uint32(header[:])
		framed := make([]byte, length)
		if _, err := io.ReadFull(buffer, framed); err != nil {
			return nil, fmt.Errorf("stats: truncated record: %w", err)
		}

		var wrapped envelope
		if err := codec.Unmarshal(framed, &wrapped); err != nil {
			return nil, fmt.Errorf("stats: decoding envelope: %w", err)
		}
		event, err := decodeEvent(wrapped)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func decodeEvent(wrapped envelope) (Event, error) {
	switch wrapped.Kind {
	case SessionConnected{}.Kind():
		var event SessionConnected
		if err := codec.Unmarshal(wrapped.Data, &event); err != nil {
			return nil, fmt.Errorf("stats: decoding %s: %w", wrapped.Kind, err)
		}
		return event, nil
	case SessionDisconnected{}.Kind():
		var event SessionDisconnected
		if err := codec.Unmarshal(wrapped.Data, &event); err != nil {
			return nil, fmt.Errorf("stats: decoding %s: %w", wrapped.Kind, err)
		}
		return event, nil
	case DoorSessionStarted{}.Kind():
		var event DoorSessionStarted
		if err := codec.Unmarshal(wrapped.Data, &event); err != nil {
			return nil, fmt.Errorf("stats: decoding %s: %w", wrapped.Kind, err)
		}
		return event, nil
	case DoorSessionEnded{}.Kind():
		var event DoorSessionEnded
		if err := codec.Unmarshal(wrapped.Data, &event); err != nil {
			return nil, fmt.Errorf("stats: decoding %s: %w", wrapped.Kind, err)
		}
		return event, nil
	default:
		return nil, fmt.Errorf("stats: unknown record kind %q", wrapped.Kind)
	}
}
