//go:build !windows

package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/env"
	"github.com/loykin/vpsman/internal/logger"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c := NewController(env.New(), logger.Config{})
	c.StopTimeout = 2 * time.Second
	return c
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func TestStartExportsPortAndEnv(t *testing.T) {
	dir := t.TempDir()
	c := newTestController(t)
	out := filepath.Join(dir, "env.txt")
	spec := Spec{
		Name:    "envcheck",
		Command: `sh -c 'echo "$PORT $GREETING $(pwd)" > ` + out + `'`,
		WorkDir: dir,
		Env:     map[string]string{"GREETING": "hi"},
		Port:    4321,
	}
	pid, err := c.Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected pid, got %d", pid)
	}
	waitFor(t, 3*time.Second, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && strings.Contains(string(b), "4321 hi")
	})
	b, _ := os.ReadFile(out)
	resolved, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(string(b), dir) && !strings.Contains(string(b), resolved) {
		t.Fatalf("working directory not applied: %q", b)
	}
}

func TestStartWritesLogs(t *testing.T) {
	logs := t.TempDir()
	c := NewController(env.New(), logger.Config{Dir: logs})
	if _, err := c.Start(context.Background(), Spec{Name: "talker", Command: "sh -c 'echo out; echo err 1>&2'"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		o, _ := os.ReadFile(filepath.Join(logs, "talker.stdout.log"))
		e, _ := os.ReadFile(filepath.Join(logs, "talker.stderr.log"))
		return strings.Contains(string(o), "out") && strings.Contains(string(e), "err")
	})
}

// TestHelperStartThenExit is run in a subprocess by
// TestAppOutlivesStartingProcess. It starts an application and exits
// straight away, as the CLI does without a daemon.
func TestHelperStartThenExit(t *testing.T) {
	dir := os.Getenv("VPSMAN_HELPER_DIR")
	if dir == "" {
		t.Skip("helper process only")
	}
	c := NewController(env.New(), logger.Config{Dir: filepath.Join(dir, "logs")})
	_, err := c.Start(context.Background(), Spec{Name: "survivor", WorkDir: dir, Command: "sh -c 'sleep 1; echo hello; touch marker'"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(0)
}

func TestAppOutlivesStartingProcess(t *testing.T) {
	dir := t.TempDir()
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperStartThenExit$")
	cmd.Env = append(os.Environ(), "VPSMAN_HELPER_DIR="+dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("helper: %v\n%s", err, out)
	}
	waitFor(t, 5*time.Second, func() bool {
		_, err := os.Stat(filepath.Join(dir, "marker"))
		return err == nil
	})
	b, err := os.ReadFile(filepath.Join(dir, "logs", "survivor.stdout.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "hello") {
		t.Fatalf("output written after the starter exited is missing: %q", b)
	}
}

func TestStartAppendsToExistingLog(t *testing.T) {
	logs := t.TempDir()
	c := NewController(env.New(), logger.Config{Dir: logs})
	path := filepath.Join(logs, "repeat.stdout.log")
	for _, word := range []string{"one", "two"} {
		if _, err := c.Start(context.Background(), Spec{Name: "repeat", Command: "echo " + word}); err != nil {
			t.Fatalf("start: %v", err)
		}
		w := word
		waitFor(t, 3*time.Second, func() bool {
			b, _ := os.ReadFile(path)
			return strings.Contains(string(b), w)
		})
	}
	b, _ := os.ReadFile(path)
	if string(b) != "one\ntwo\n" {
		t.Fatalf("expected appended output, got %q", b)
	}
}

func TestStartValidation(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()
	if _, err := c.Start(ctx, Spec{Name: "imported"}); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("empty command should be invalid state, got %v", err)
	}
	if _, err := c.Start(ctx, Spec{Name: "x", Command: "sleep 1", WorkDir: "/does/not/exist"}); !apperr.Is(err, apperr.KindIO) {
		t.Fatalf("missing workdir should be io error, got %v", err)
	}
	if _, err := c.Start(ctx, Spec{Name: "x", Command: "/definitely/not/a/binary"}); !apperr.Is(err, apperr.KindExternalCommand) {
		t.Fatalf("spawn failure should be external command error, got %v", err)
	}
}

func TestStartDurationDetectsEarlyExit(t *testing.T) {
	c := newTestController(t)
	_, err := c.Start(context.Background(), Spec{Name: "flaky", Command: "sh -c 'exit 3'", StartDuration: 500 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected start duration failure")
	}
	if !strings.Contains(err.Error(), "before start duration") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStopByPID(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()
	spec := Spec{Name: "sleeper", Command: "sleep 30"}
	pid, err := c.Start(ctx, spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	spec.PID = pid
	if st := c.Inspect(ctx, spec); !st.Running || st.DetectedBy != "pid" {
		t.Fatalf("expected running by pid: %+v", st)
	}
	if err := c.Stop(ctx, spec); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if alive(pid) {
		t.Fatalf("pid %d still alive after stop", pid)
	}
	if err := c.Stop(ctx, spec); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("second stop should be not found, got %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	c := newTestController(t)
	c.StopTimeout = 300 * time.Millisecond
	ctx := context.Background()
	spec := Spec{Name: "stubborn", Command: "sh -c 'trap \"\" TERM; while true; do sleep 0.1; done'"}
	pid, err := c.Start(ctx, spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	spec.PID = pid
	start := time.Now()
	if err := c.Stop(ctx, spec); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if time.Since(start) < c.StopTimeout {
		t.Fatalf("stop returned before timeout; TERM should have been ignored")
	}
	if alive(pid) {
		t.Fatalf("pid %d survived", pid)
	}
}

func TestStopByCommandFallback(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()
	marker := "sleep 31.4159"
	pid, err := c.Start(ctx, Spec{Name: "legacy", Command: marker})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	spec := Spec{Name: "legacy", Command: marker, Imported: true}
	if st := c.Inspect(ctx, spec); !st.Running || st.DetectedBy != "command" {
		t.Skipf("process table not readable here: %+v", st)
	}
	if err := c.Stop(ctx, spec); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return !alive(pid) })

	if err := c.Stop(ctx, Spec{Name: "ghost", Command: "no-such-command-xyz", Imported: true}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := c.Stop(ctx, Spec{Name: "blank", Imported: true}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for blank command, got %v", err)
	}
}

func TestStopWithoutPIDSparesMatchingProcess(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()
	foreign := exec.Command("sleep", "31.337")
	if err := foreign.Start(); err != nil {
		t.Fatalf("start foreign process: %v", err)
	}
	defer func() {
		_ = foreign.Process.Kill()
		_ = foreign.Wait()
	}()

	// never started, or stopped earlier: no PID and not imported
	spec := Spec{Name: "fresh", Command: "sleep 31.337"}
	if st := c.Inspect(ctx, spec); st.Running {
		t.Fatalf("inspect must not adopt a foreign process: %+v", st)
	}
	if err := c.Stop(ctx, spec); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if !alive(foreign.Process.Pid) {
		t.Fatalf("foreign process %d was stopped", foreign.Process.Pid)
	}
}

func TestRestartToleratesMissingProcess(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()
	spec := Spec{Name: "again", Command: "sleep 30", PID: 999999}
	pid, err := c.Restart(ctx, spec)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	spec.PID = pid
	defer func() { _ = c.Stop(ctx, spec) }()
	if !alive(pid) {
		t.Fatalf("restarted process not alive")
	}
	if st := c.Inspect(ctx, spec); st.StartedAt.IsZero() {
		t.Logf("start time unavailable on this platform")
	}
}
