// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package door

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/lanternbbs/lantern/lib/clock"
	"github.com/lanternbbs/lantern/lib/serial"
	"github.com/lanternbbs/lantern/lib/stats"
	"github.com/lanternbbs/lantern/lib/user"
)

// Launch admission errors. The host shows the caller a notice keyed on
// which of these came back; none of them spawn a process or create any
// file.
var (
	ErrSecurityLevel = errors.New("door: security level outside allowed range")
	ErrDailyLimit    = errors.New("door: daily launch limit reached")
	ErrClosedHours   = errors.New("door: outside availability window")
	ErrSessionBusy   = errors.New("door: a program is already running for this session")
)

// DefaultGracePeriod is how long a process group gets between SIGTERM
// and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// drainTimeout bounds how long the orchestrator waits for output the
// program wrote just before exiting to cross the line.
const drainTimeout = 2 * time.Second

// OrchestratorConfig configures an Orchestrator. Zero fields get
// defaults.
type OrchestratorConfig struct {
	// Usage tracks per-caller daily launch counts. Required.
	Usage user.UsageStore

	// BoardName and SysopName are written into drop files.
	BoardName string
	SysopName string

	// GracePeriod is the SIGTERM-to-SIGKILL escalation delay.
	// DefaultGracePeriod when zero.
	GracePeriod time.Duration

	// Clock drives time limits. The real clock when nil.
	Clock clock.Clock

	// Recorder receives door lifecycle events. stats.Discard when
	// nil.
	Recorder stats.Recorder

	// Logger for orchestrator messages. slog.Default when nil.
	Logger *slog.Logger
}

// Orchestrator launches door programs and supervises them to
// completion. One orchestrator serves all sessions.
type Orchestrator struct {
	usage       user.UsageStore
	boardName   string
	sysopName   string
	gracePeriod time.Duration
	clk         clock.Clock
	recorder    stats.Recorder
	logger      *slog.Logger

	mu        sync.Mutex
	bySession map[string]*ProcessSession
	perDoor   map[string]int
}

// NewOrchestrator builds an Orchestrator from cfg.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = stats.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		usage:       cfg.Usage,
		boardName:   cfg.BoardName,
		sysopName:   cfg.SysopName,
		gracePeriod: cfg.GracePeriod,
		clk:         cfg.Clock,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		bySession:   make(map[string]*ProcessSession),
		perDoor:     make(map[string]int),
	}
}

// LaunchRequest identifies the caller a door runs for.
type LaunchRequest struct {
	// SessionID and Node identify the caller session.
	SessionID string
	Node      int

	// Profile is the logged-in caller.
	Profile user.Profile

	// Output receives the program's output bytes for delivery to the
	// caller's terminal.
	Output io.Writer

	// ANSI and Rows describe the caller's terminal for the drop
	// file.
	ANSI bool
	Rows int
}

// Launch runs desc for the caller in req. The admission checks run in
// order: security band, daily quota, availability window; a failed
// check returns its sentinel error and a ProcessSession already in
// Error, with nothing created on disk and no process spawned. On
// success the returned ProcessSession is Running and will be
// supervised until its Done channel closes. ctx ending kills the
// program; the caller's session context belongs here so a vanished
// caller never leaves a door running.
func (o *Orchestrator) Launch(ctx context.Context, req LaunchRequest, desc *Descriptor) (*ProcessSession, error) {
	now := o.clk.Now()

	ps := &ProcessSession{
		ID:         uuid.NewString(),
		SessionID:  req.SessionID,
		Node:       req.Node,
		Descriptor: desc,
		state:      StateStarting,
		exitCode:   -1,
		done:       make(chan struct{}),
	}

	if !desc.admits(req.Profile.SecurityLevel) {
		return o.deny(ps, req, ErrSecurityLevel)
	}
	if desc.DailyLimit > 0 {
		uses, err := o.usage.Uses(ctx, req.Profile.Handle, desc.Code, now)
		if err != nil {
			return o.deny(ps, req, fmt.Errorf("door %s: checking daily usage: %w", desc.Code, err))
		}
		if uses >= desc.DailyLimit {
			return o.deny(ps, req, ErrDailyLimit)
		}
	}
	if !desc.Window.Contains(now) {
		return o.deny(ps, req, ErrClosedHours)
	}

	o.mu.Lock()
	if _, busy := o.bySession[req.SessionID]; busy {
		o.mu.Unlock()
		return o.deny(ps, req, ErrSessionBusy)
	}
	o.bySession[req.SessionID] = ps
	o.perDoor[desc.Code]++
	o.mu.Unlock()

	if err := o.start(ctx, req, desc, ps, now); err != nil {
		o.release(ps)
		ps.transition(StateError)
		close(ps.done)
		return ps, err
	}
	return ps, nil
}

// deny settles a ProcessSession that failed admission: straight from
// Starting to Error, never registered, nothing on disk.
func (o *Orchestrator) deny(ps *ProcessSession, req LaunchRequest, cause error) (*ProcessSession, error) {
	ps.transition(StateError)
	close(ps.done)
	o.logger.Info("door launch denied",
		"door", ps.Descriptor.Code, "node", req.Node,
		"handle", req.Profile.Handle, "reason", cause)
	return ps, cause
}

// start creates the run directory, drop file, and serial endpoint,
// then spawns and begins supervising the program. Any failure along
// the way removes everything already created.
func (o *Orchestrator) start(ctx context.Context, req LaunchRequest, desc *Descriptor, ps *ProcessSession, now time.Time) error {
	if err := os.MkdirAll(desc.WorkDir, 0o755); err != nil {
		return fmt.Errorf("door %s: creating workdir: %w", desc.Code, err)
	}
	// Node plus a run ID prefix keeps concurrent launches apart.
	runDir := filepath.Join(desc.WorkDir, fmt.Sprintf("node%d-%s", req.Node, ps.ID[:8]))
	if err := os.Mkdir(runDir, 0o755); err != nil {
		return fmt.Errorf("door %s: creating run directory: %w", desc.Code, err)
	}
	ps.RunDir = runDir

	dropBytes, err := Render(desc.Format, DropContext{
		Profile:   req.Profile,
		Node:      req.Node,
		Baud:      desc.Baud,
		Port:      desc.portName(),
		BoardName: o.boardName,
		SysopName: o.sysopName,
		ANSI:      req.ANSI,
		Rows:      req.Rows,
		Now:       now,
	})
	if err != nil {
		os.RemoveAll(runDir)
		return err
	}
	dropPath := filepath.Join(runDir, desc.Format.FileName())
	if err := os.WriteFile(dropPath, dropBytes, 0o644); err != nil {
		os.RemoveAll(runDir)
		return fmt.Errorf("door %s: writing drop file: %w", desc.Code, err)
	}

	endpoint, err := serial.CreateEndpoint(filepath.Join(runDir, "line"))
	if err != nil {
		os.RemoveAll(runDir)
		return fmt.Errorf("door %s: creating serial endpoint: %w", desc.Code, err)
	}

	argv := expandArgv(desc.Command, map[string]string{
		"dropfile": dropPath,
		"dropdir":  runDir,
		"node":     strconv.Itoa(req.Node),
		"ttyin":    endpoint.InPath,
		"ttyout":   endpoint.OutPath,
	})

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = runDir
	cmd.Env = append(os.Environ(),
		"LANTERN_NODE="+strconv.Itoa(req.Node),
		"LANTERN_DROPFILE="+dropPath,
	)
	// Its own process group, so termination reaches children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return o.terminate(cmd) }

	if err := cmd.Start(); err != nil {
		cancel()
		endpoint.Close()
		os.RemoveAll(runDir)
		return fmt.Errorf("door %s: starting %s: %w", desc.Code, argv[0], err)
	}

	ps.mu.Lock()
	ps.startedAt = now
	ps.mu.Unlock()
	if err := ps.transition(StateRunning); err != nil {
		// Unreachable while the orchestrator owns the session.
		o.logger.Error("door state machine violation", "error", err)
	}

	if err := o.usage.RecordUse(ctx, req.Profile.Handle, desc.Code, now); err != nil {
		o.logger.Warn("recording door use failed",
			"door", desc.Code, "handle", req.Profile.Handle, "error", err)
	}
	o.recorder.Record(stats.DoorSessionStarted{
		ProcessID: ps.ID,
		SessionID: req.SessionID,
		Node:      req.Node,
		DoorCode:  desc.Code,
		Handle:    req.Profile.Handle,
		At:        now,
	})
	o.logger.Info("door started",
		"door", desc.Code, "node", req.Node, "handle", req.Profile.Handle,
		"pid", cmd.Process.Pid, "run_dir", runDir)

	inputReader, inputWriter := io.Pipe()
	ps.input = inputWriter
	bridgeOptions := []serial.BridgeOption{serial.WithBridgeLogger(o.logger)}
	if desc.Baud > 0 {
		bridgeOptions = append(bridgeOptions, serial.WithBaud(desc.Baud))
	}
	ps.bridge = serial.NewBridge(endpoint, inputReader, req.Output, bridgeOptions...)
	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- ps.bridge.Run(runCtx) }()

	var limit *clock.Timer
	if desc.TimeLimit > 0 {
		limit = o.clk.AfterFunc(desc.TimeLimit, func() {
			o.logger.Warn("door time limit reached", "door", desc.Code, "node", req.Node)
			ps.markTimedOut()
			cancel()
		})
	}

	go o.supervise(ps, cmd, endpoint, bridgeDone, limit, cancel)
	return nil
}

// supervise waits for the program to exit, settles the terminal state,
// and reclaims every resource the launch created. It is the only
// goroutine that moves a session past Running.
func (o *Orchestrator) supervise(ps *ProcessSession, cmd *exec.Cmd, endpoint *serial.Endpoint, bridgeDone <-chan error, limit *clock.Timer, cancel context.CancelFunc) {
	waitErr := cmd.Wait()
	if limit != nil {
		limit.Stop()
	}
	if err := ps.transition(StateEnding); err != nil {
		o.logger.Error("door state machine violation", "error", err)
	}

	// Let output written just before exit cross the line, then tear
	// the bridge down.
	o.drainLine(ps.bridge, endpoint)
	cancel()
	<-bridgeDone
	endpoint.Close()

	if cmd.ProcessState != nil {
		ps.setExitCode(cmd.ProcessState.ExitCode())
	}

	final := StateCompleted
	switch {
	case ps.wasTimedOut():
		final = StateTimedOut
	case waitErr != nil:
		final = StateError
	}
	if err := ps.transition(final); err != nil {
		o.logger.Error("door state machine violation", "error", err)
	}

	// Unconditional: a crashed or killed door must never orphan its
	// run directory.
	if err := os.RemoveAll(ps.RunDir); err != nil {
		o.logger.Warn("removing door run directory failed",
			"run_dir", ps.RunDir, "error", err)
	}

	o.release(ps)

	now := o.clk.Now()
	o.recorder.Record(stats.DoorSessionEnded{
		ProcessID: ps.ID,
		SessionID: ps.SessionID,
		DoorCode:  ps.Descriptor.Code,
		Outcome:   final.String(),
		ExitCode:  ps.ExitCode(),
		Duration:  now.Sub(ps.startedAt),
		At:        now,
	})
	o.logger.Info("door ended",
		"door", ps.Descriptor.Code, "node", ps.Node,
		"outcome", final.String(), "exit_code", ps.ExitCode(),
		"bytes_to_door", ps.bridge.BytesToDoor(),
		"bytes_from_door", ps.bridge.BytesFromDoor())

	close(ps.done)
}

// drainLine waits until the output FIFO is empty and the relay counter
// has gone quiet, bounded by drainTimeout. Real sleeps here are fine:
// the wait tracks process IO, not scheduled time.
func (o *Orchestrator) drainLine(bridge *serial.Bridge, endpoint *serial.Endpoint) {
	deadline := time.Now().Add(drainTimeout)
	lastRelayed := int64(-1)
	for time.Now().Before(deadline) {
		pending, err := endpoint.OutPending()
		if err != nil {
			return
		}
		relayed := bridge.BytesFromDoor()
		if pending == 0 && relayed == lastRelayed {
			return
		}
		lastRelayed = relayed
		time.Sleep(5 * time.Millisecond)
	}
}

// terminate signals the process group: SIGTERM first, SIGKILL after
// the grace period if it lingers.
func (o *Orchestrator) terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := -cmd.Process.Pid
	if err := unix.Kill(pgid, unix.SIGTERM); err != nil {
		// Group already gone, or SIGTERM undeliverable; go straight
		// to SIGKILL.
		unix.Kill(pgid, unix.SIGKILL)
		return nil
	}
	go func() {
		time.Sleep(o.gracePeriod)
		unix.Kill(pgid, unix.SIGKILL)
	}()
	return nil
}

// release drops the session from the registries.
func (o *Orchestrator) release(ps *ProcessSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bySession[ps.SessionID] == ps {
		delete(o.bySession, ps.SessionID)
	}
	if o.perDoor[ps.Descriptor.Code] > 0 {
		o.perDoor[ps.Descriptor.Code]--
	}
}

// ActiveForSession returns the non-terminal run owned by a session, if
// any.
func (o *Orchestrator) ActiveForSession(sessionID string) (*ProcessSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps, ok := o.bySession[sessionID]
	return ps, ok
}

// ActiveCount returns how many runs of a door are currently live.
// Menus use it to mark doors that are in use.
func (o *Orchestrator) ActiveCount(doorCode string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.perDoor[doorCode]
}
