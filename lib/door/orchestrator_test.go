// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

package door

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lanternbbs/lantern/lib/clock"
	"github.com/lanternbbs/lantern/lib/testutil"
	"github.com/lanternbbs/lantern/lib/user"
)

const waitTimeout = 10 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collectWriter buffers door output for assertions.
type collectWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *collectWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *collectWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func testProfile() user.Profile {
	return user.Profile{
		Handle:        "CYBER",
		RealName:      "Chris Tanner",
		Location:      "Portland, OR",
		SecurityLevel: 50,
		TimeRemaining: 59 * time.Minute,
	}
}

func testRequest(sessionID string, node int, output io.Writer) LaunchRequest {
	return LaunchRequest{
		SessionID: sessionID,
		Node:      node,
		Profile:   testProfile(),
		Output:    output,
		ANSI:      true,
		Rows:      24,
	}
}

// shellDoor is a descriptor that runs a shell script with the launch
// placeholders available as positional parameters: $1 is the drop
// file, $2 the input FIFO, $3 the output FIFO.
func shellDoor(t *testing.T, code, script string) *Descriptor {
	t.Helper()
	return &Descriptor{
		Code:    code,
		Name:    "Test Door " + code,
		Command: []string{"/bin/sh", "-c", script, "door", "{dropfile}", "{ttyin}", "{ttyout}"},
		WorkDir: t.TempDir(),
		Format:  FormatDoorSys,
	}
}

func newTestOrchestrator(clk clock.Clock, usage user.UsageStore) *Orchestrator {
	if usage == nil {
		usage = user.NewMemoryUsage()
	}
	return NewOrchestrator(OrchestratorConfig{
		Usage:       usage,
		BoardName:   "LANTERN BBS",
		SysopName:   "Lantern Sysop",
		GracePeriod: 100 * time.Millisecond,
		Clock:       clk,
		Logger:      testLogger(),
	})
}

func TestLaunchRunsToCompletion(t *testing.T) {
	orchestrator := newTestOrchestrator(clock.Real(), nil)
	output := &collectWriter{}
	desc := shellDoor(t, "echo", `printf 'WELCOME TO THE PIT' > "$3"`)

	ps, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, output), desc)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "waiting for door to finish")

	if got := ps.State(); got != StateCompleted {
		t.Errorf("state = %v, want %v", got, StateCompleted)
	}
	if got := ps.ExitCode(); got != 0 {
		t.Errorf("exit code = %d, want 0", got)
	}
	if got := ps.Outcome(); got != "completed" {
		t.Errorf("outcome = %q, want %q", got, "completed")
	}
	if got := output.String(); got != "WELCOME TO THE PIT" {
		t.Errorf("caller saw %q, want %q", got, "WELCOME TO THE PIT")
	}
	if _, err := os.Stat(ps.RunDir); !os.IsNotExist(err) {
		t.Errorf("run directory %s still exists after completion", ps.RunDir)
	}
}

func TestLaunchWritesDropFile(t *testing.T) {
	orchestrator := newTestOrchestrator(clock.Real(), nil)
	output := &collectWriter{}
	// The door copies its drop file onto the line before exiting.
	desc := shellDoor(t, "dump", `cat "$1" > "$3"`)
	desc.Baud = 38400

	ps, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, output), desc)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "waiting for door to finish")

	seen := output.String()
	for _, needle := range []string{"CYBER", "Chris Tanner", "38400", "GR"} {
		if !bytes.Contains([]byte(seen), []byte(needle)) {
			t.Errorf("drop file delivered to door missing %q:\n%s", needle, seen)
		}
	}
}

func TestLaunchRelaysCallerInput(t *testing.T) {
	orchestrator := newTestOrchestrator(clock.Real(), nil)
	output := &collectWriter{}
	// Echo the first five input bytes back out.
	desc := shellDoor(t, "parrot", `head -c 5 "$2" > "$3"`)

	ps, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, output), desc)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := ps.Input().Write([]byte("HELLO")); err != nil {
		t.Fatalf("writing caller input: %v", err)
	}
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "waiting for door to finish")

	if got := output.String(); got != "HELLO" {
		t.Errorf("door echoed %q, want %q", got, "HELLO")
	}
}

func TestLaunchNonZeroExitIsError(t *testing.T) {
	orchestrator := newTestOrchestrator(clock.Real(), nil)
	desc := shellDoor(t, "crash", `exit 3`)

	ps, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), desc)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "waiting for door to finish")

	if got := ps.State(); got != StateError {
		t.Errorf("state = %v, want %v", got, StateError)
	}
	if got := ps.ExitCode(); got != 3 {
		t.Errorf("exit code = %d, want 3", got)
	}
	if _, err := os.Stat(ps.RunDir); !os.IsNotExist(err) {
		t.Errorf("run directory %s still exists after crash", ps.RunDir)
	}
}

func TestLaunchTimeLimit(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 8, 31, 13, 45, 0, 0, time.UTC))
	orchestrator := newTestOrchestrator(clk, nil)
	desc := shellDoor(t, "hog", `sleep 60`)
	desc.TimeLimit = 10 * time.Minute

	ps, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), desc)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	clk.WaitForTimers(1)
	clk.Advance(10 * time.Minute)
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "waiting for door to be killed")

	if got := ps.State(); got != StateTimedOut {
		t.Errorf("state = %v, want %v", got, StateTimedOut)
	}
	if got := ps.Outcome(); got != "timed_out" {
		t.Errorf("outcome = %q, want %q", got, "timed_out")
	}
	if _, err := os.Stat(ps.RunDir); !os.IsNotExist(err) {
		t.Errorf("run directory %s still exists after timeout", ps.RunDir)
	}
}

func TestLaunchKilledBySessionContext(t *testing.T) {
	orchestrator := newTestOrchestrator(clock.Real(), nil)
	desc := shellDoor(t, "lingerer", `sleep 60`)

	ctx, cancel := context.WithCancel(context.Background())
	ps, err := orchestrator.Launch(ctx, testRequest("s1", 1, &collectWriter{}), desc)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	cancel()
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "waiting for door to be killed")

	if got := ps.State(); got != StateError {
		t.Errorf("state = %v, want %v", got, StateError)
	}
	if _, err := os.Stat(ps.RunDir); !os.IsNotExist(err) {
		t.Errorf("run directory %s still exists after kill", ps.RunDir)
	}
}

func TestLaunchDeniedSecurity(t *testing.T) {
	orchestrator := newTestOrchestrator(clock.Real(), nil)
	desc := shellDoor(t, "elite", `exit 0`)
	desc.MinSecurity = 100

	ps, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), desc)
	if !errors.Is(err, ErrSecurityLevel) {
		t.Fatalf("Launch error = %v, want ErrSecurityLevel", err)
	}
	if ps.State() != StateError {
		t.Errorf("denied session state = %v, want StateError", ps.State())
	}
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "denied session Done")
	requireEmptyDir(t, desc.WorkDir)
}

func TestLaunchDeniedDailyLimit(t *testing.T) {
	usage := user.NewMemoryUsage()
	orchestrator := newTestOrchestrator(clock.Real(), usage)
	desc := shellDoor(t, "oncer", `exit 0`)
	desc.DailyLimit = 1

	ps, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), desc)
	if err != nil {
		t.Fatalf("first Launch: %v", err)
	}
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "waiting for first run")

	_, err = orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), desc)
	if !errors.Is(err, ErrDailyLimit) {
		t.Fatalf("second Launch error = %v, want ErrDailyLimit", err)
	}
	requireEmptyDir(t, desc.WorkDir)
}

func TestLaunchDeniedOutsideWindow(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC))
	orchestrator := newTestOrchestrator(clk, nil)
	desc := shellDoor(t, "nineish", `exit 0`)
	window, err := ParseWindow("09:00-17:00")
	if err != nil {
		t.Fatal(err)
	}
	desc.Window = window

	_, err = orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), desc)
	if !errors.Is(err, ErrClosedHours) {
		t.Fatalf("Launch error = %v, want ErrClosedHours", err)
	}
	requireEmptyDir(t, desc.WorkDir)
}

func TestLaunchDeniedWhileBusy(t *testing.T) {
	orchestrator := newTestOrchestrator(clock.Real(), nil)
	blocker := shellDoor(t, "blocker", `head -c 1 "$2" > /dev/null`)

	ps, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), blocker)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	other := shellDoor(t, "other", `exit 0`)
	if _, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), other); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second Launch error = %v, want ErrSessionBusy", err)
	}

	// Unblock the first door; once it finishes the session may launch
	// again.
	if _, err := ps.Input().Write([]byte{'\r'}); err != nil {
		t.Fatalf("writing caller input: %v", err)
	}
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "waiting for blocker to finish")

	ps2, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), other)
	if err != nil {
		t.Fatalf("relaunch after completion: %v", err)
	}
	testutil.RequireClosed(t, ps2.Done(), waitTimeout, "waiting for relaunch")
}

func TestConcurrentLaunchesDoNotCollide(t *testing.T) {
	orchestrator := newTestOrchestrator(clock.Real(), nil)
	desc := shellDoor(t, "shared", `cat "$1" > "$3"`)

	outputA := &collectWriter{}
	outputB := &collectWriter{}
	psA, err := orchestrator.Launch(context.Background(), testRequest("sA", 1, outputA), desc)
	if err != nil {
		t.Fatalf("Launch A: %v", err)
	}
	psB, err := orchestrator.Launch(context.Background(), testRequest("sB", 2, outputB), desc)
	if err != nil {
		t.Fatalf("Launch B: %v", err)
	}

	if psA.RunDir == psB.RunDir {
		t.Errorf("concurrent launches share run directory %s", psA.RunDir)
	}
	testutil.RequireClosed(t, psA.Done(), waitTimeout, "waiting for A")
	testutil.RequireClosed(t, psB.Done(), waitTimeout, "waiting for B")

	if psA.State() != StateCompleted || psB.State() != StateCompleted {
		t.Errorf("states = %v, %v, want both completed", psA.State(), psB.State())
	}
	requireEmptyDir(t, desc.WorkDir)
}

func TestActiveCountTracksRuns(t *testing.T) {
	orchestrator := newTestOrchestrator(clock.Real(), nil)
	desc := shellDoor(t, "counted", `head -c 1 "$2" > /dev/null`)

	ps, err := orchestrator.Launch(context.Background(), testRequest("s1", 1, &collectWriter{}), desc)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if got := orchestrator.ActiveCount("counted"); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
	if _, ok := orchestrator.ActiveForSession("s1"); !ok {
		t.Error("ActiveForSession reports no run for s1")
	}

	if _, err := ps.Input().Write([]byte{'\r'}); err != nil {
		t.Fatalf("writing caller input: %v", err)
	}
	testutil.RequireClosed(t, ps.Done(), waitTimeout, "waiting for door to finish")

	if got := orchestrator.ActiveCount("counted"); got != 0 {
		t.Errorf("ActiveCount after completion = %d, want 0", got)
	}
	if _, ok := orchestrator.ActiveForSession("s1"); ok {
		t.Error("ActiveForSession still reports a run after completion")
	}
}

// requireEmptyDir fails if dir contains anything; denied or finished
// launches must leave the workdir clean.
func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		t.Fatalf("reading %s: %v", dir, err)
	}
	for _, entry := range entries {
		t.Errorf("leftover entry %s", filepath.Join(dir, entry.Name()))
	}
}
