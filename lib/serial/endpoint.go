// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// FIFO names inside an endpoint directory. The door program reads its
// input from InName and writes its output to OutName, exactly as it
// would read and write a serial device node.
const (
	InName  = "ttyin"
	OutName = "ttyout"
)

// Endpoint is the process-local stand-in for a serial port: a
// directory holding an input FIFO and an output FIFO. The directory
// path is unique per door run, so concurrent launches never collide.
type Endpoint struct {
	// Dir is the endpoint directory. Removed entirely on Close.
	Dir string

	// InPath is the FIFO the door reads (session → door).
	InPath string

	// OutPath is the FIFO the door writes (door → session).
	OutPath string

	// in is our write side of InPath; out is our read side of
	// OutPath. Both are opened O_RDWR so neither open blocks waiting
	// for the door, and a door that closes and reopens the "port"
	// keeps working.
	in  *os.File
	out *os.File

	closeOnce sync.Once
	closeErr  error
}

// CreateEndpoint makes the directory and both FIFOs and opens the
// server-side ends. The directory must not already exist.
func CreateEndpoint(dir string) (*Endpoint, error) {
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("serial: creating endpoint directory: %w", err)
	}

	endpoint := &Endpoint{
		Dir:     dir,
		InPath:  filepath.Join(dir, InName),
		OutPath: filepath.Join(dir, OutName),
	}

	if err := unix.Mkfifo(endpoint.InPath, 0600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("serial: mkfifo %s: %w", endpoint.InPath, err)
	}
	if err := unix.Mkfifo(endpoint.OutPath, 0600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("serial: mkfifo %s: %w", endpoint.OutPath, err)
	}

	in, err := os.OpenFile(endpoint.InPath, os.O_RDWR, 0)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("serial: opening %s: %w", endpoint.InPath, err)
	}
	out, err := os.OpenFile(endpoint.OutPath, os.O_RDWR, 0)
	if err != nil {
		in.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("serial: opening %s: %w", endpoint.OutPath, err)
	}

	endpoint.in = in
	endpoint.out = out
	return endpoint, nil
}

// WriteToDoor writes session bytes into the door's input FIFO.
func (e *Endpoint) WriteToDoor(p []byte) (int, error) { return e.in.Write(p) }

// ReadFromDoor reads door output from the output FIFO. Blocks until
// the door writes or the endpoint is closed; Close unblocks pending
// reads because FIFOs are registered with the runtime poller.
func (e *Endpoint) ReadFromDoor(p []byte) (int, error) { return e.out.Read(p) }

// OutPending reports how many bytes the door has written to the
// output FIFO that nothing has read yet. Lets a supervisor wait for
// the line to drain before tearing it down.
func (e *Endpoint) OutPending() (int, error) {
	rawConn, err := e.out.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("serial: %s: %w", e.OutPath, err)
	}
	var pending int
	var ioctlErr error
	controlErr := rawConn.Control(func(fd uintptr) {
		pending, ioctlErr = unix.IoctlGetInt(int(fd), unix.TIOCINQ)
	})
	if controlErr != nil {
		return 0, fmt.Errorf("serial: %s: %w", e.OutPath, controlErr)
	}
	if ioctlErr != nil {
		return 0, fmt.Errorf("serial: %s: %w", e.OutPath, ioctlErr)
	}
	return pending, nil
}

// Close tears the endpoint down: both FIFO handles closed and the
// directory removed. Idempotent, and removal is unconditional — a
// crashed door must never orphan the endpoint.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		var firstErr error
		if e.in != nil {
			if err := e.in.Close(); err != nil {
				firstErr = err
			}
		}
		if e.out != nil {
			if err := e.out.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := os.RemoveAll(e.Dir); err != nil && firstErr == nil {
			firstErr = err
		}
		if firstErr != nil {
			e.closeErr = fmt.Errorf("serial: closing endpoint: %w", firstErr)
		}
	})
	return e.closeErr
}
