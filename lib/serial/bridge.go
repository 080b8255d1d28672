// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// pumpBuffer is the relay chunk size. Door I/O is keystroke- and
// screen-sized; large buffers only add latency under throttling.
const pumpBuffer = 512

// LineStatus is the emulated modem status a door can be told about.
// With no physical hardware the lines are asserted whenever the bridge
// is running.
type LineStatus struct {
	CarrierDetect bool
	ClearToSend   bool
}

// Bridge relays bytes between a session stream and a door's serial
// Endpoint with two independent pumps, one per direction, so neither
// side can stall the other.
type Bridge struct {
	endpoint *Endpoint

	// sessionIn supplies caller keystrokes; sessionOut receives door
	// output (typically the session's telnet connection, which handles
	// byte-stuffing and write ordering).
	sessionIn  io.Reader
	sessionOut io.Writer

	// A serial line is full duplex: each direction carries the full
	// baud rate, so each pump gets its own limiter. Nil means
	// unthrottled.
	toDoorLimit   *rate.Limiter
	fromDoorLimit *rate.Limiter

	logger *slog.Logger

	running       atomic.Bool
	bytesToDoor   atomic.Int64
	bytesFromDoor atomic.Int64
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBaud throttles each direction to the given baud rate (ten wire
// bits per byte, so bytes/sec = baud/10 per direction). Zero or
// negative means unthrottled.
func WithBaud(baud int) BridgeOption {
	return func(b *Bridge) {
		if baud <= 0 {
			return
		}
		bytesPerSecond := baud / 10
		if bytesPerSecond < 1 {
			bytesPerSecond = 1
		}
		b.toDoorLimit = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
		b.fromDoorLimit = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
	}
}

// WithBridgeLogger sets the structured logger.
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger }
}

// NewBridge wires a session stream to an endpoint. The caller owns the
// endpoint's lifetime; Run closes it on exit to unblock its pumps, so
// a Bridge is single-use.
func NewBridge(endpoint *Endpoint, sessionIn io.Reader, sessionOut io.Writer, options ...BridgeOption) *Bridge {
	bridge := &Bridge{
		endpoint:   endpoint,
		sessionIn:  sessionIn,
		sessionOut: sessionOut,
	}
	for _, option := range options {
		option(bridge)
	}
	if bridge.logger == nil {
		bridge.logger = slog.Default()
	}
	return bridge
}

// Status returns the emulated line status: asserted while the bridge
// runs, dropped once it stops.
func (b *Bridge) Status() LineStatus {
	running := b.running.Load()
	return LineStatus{CarrierDetect: running, ClearToSend: running}
}

// BytesToDoor returns how many bytes have been relayed session→door.
func (b *Bridge) BytesToDoor() int64 { return b.bytesToDoor.Load() }

// BytesFromDoor returns how many bytes have been relayed door→session.
func (b *Bridge) BytesFromDoor() int64 { return b.bytesFromDoor.Load() }

// Run pumps until ctx is cancelled or a side fails, then closes the
// endpoint (removing its FIFOs) and returns. A nil return means the
// bridge stopped because of cancellation or normal EOF; anything else
// is a relay failure.
func (b *Bridge) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Endpoint teardown doubles as the pump unblocker: closing the
	// FIFO handles wakes the door-side reads, and closing the session
	// reader (when it is closeable) wakes the session-side pump.
	stopOnce := sync.Once{}
	stop := func() {
		stopOnce.Do(func() {
			b.endpoint.Close()
			if closer, ok := b.sessionIn.(io.Closer); ok {
				closer.Close()
			}
		})
	}
	defer stop()

	go func() {
		<-ctx.Done()
		stop()
	}()

	errs := make(chan error, 2)

	go func() {
		err := b.pump(ctx, b.sessionIn, writerFunc(b.endpoint.WriteToDoor), b.toDoorLimit, &b.bytesToDoor)
		errs <- err
	}()
	go func() {
		err := b.pump(ctx, readerFunc(b.endpoint.ReadFromDoor), b.sessionOut, b.fromDoorLimit, &b.bytesFromDoor)
		errs <- err
	}()

	// First pump to stop decides the outcome; the deferred stop
	// unblocks the other.
	firstErr := <-errs
	cancel()
	stop()
	secondErr := <-errs

	b.logger.Debug("bridge stopped",
		"bytes_to_door", b.BytesToDoor(),
		"bytes_from_door", b.BytesFromDoor(),
	)

	for _, err := range []error{firstErr, secondErr} {
		if err != nil && !isExpectedClose(err) {
			return err
		}
	}
	return nil
}

// pump relays bytes one chunk at a time, throttled when a limiter is
// configured.
func (b *Bridge) pump(ctx context.Context, from io.Reader, to io.Writer, limiter *rate.Limiter, counter *atomic.Int64) error {
	chunk := pumpBuffer
	if limiter != nil && limiter.Burst() < chunk {
		chunk = limiter.Burst()
	}
	buffer := make([]byte, chunk)

	for {
		n, readErr := from.Read(buffer)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return nil // cancelled mid-throttle
				}
			}
			if _, writeErr := to.Write(buffer[:n]); writeErr != nil {
				return writeErr
			}
			counter.Add(int64(n))
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

// isExpectedClose filters the errors produced by tearing down the
// endpoint underneath a blocked pump.
func isExpectedClose(err error) bool {
	return errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, context.Canceled)
}

// writerFunc and readerFunc adapt endpoint methods to io interfaces.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
