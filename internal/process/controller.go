package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/env"
	"github.com/loykin/vpsman/internal/logger"
)

const (
	DefaultStopTimeout = 10 * time.Second
	killGrace          = 2 * time.Second
	pollInterval       = 50 * time.Millisecond
)

// Controller starts and stops application processes. It keeps no
// authoritative state: callers persist the PID returned by Start and pass
// it back on Stop. Children spawned by this controller are reaped by it.
type Controller struct {
	Env           *env.Env
	Log           logger.Config // used when Spec.Log names no destination
	StopTimeout   time.Duration
	StartDuration time.Duration // default for specs that set none

	mu       sync.Mutex
	children map[int]*child
}

type child struct {
	done chan struct{}
	err  error
}

func NewController(e *env.Env, log logger.Config) *Controller {
	if e == nil {
		e = env.New()
	}
	return &Controller{Env: e, Log: log, StopTimeout: DefaultStopTimeout, children: make(map[int]*child)}
}

// Start spawns spec.Command in spec.WorkDir and returns its PID. With a
// start duration the process must stay alive that long before Start returns.
func (c *Controller) Start(ctx context.Context, spec Spec) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(spec.Command) == "" {
		return 0, apperr.InvalidState("process.start", spec.Name, "no command configured")
	}
	if spec.WorkDir != "" {
		if fi, err := os.Stat(spec.WorkDir); err != nil {
			return 0, apperr.IO("process.start", spec.Name, fmt.Errorf("working directory: %w", err))
		} else if !fi.IsDir() {
			return 0, apperr.Invalid("process.start", spec.Name, "working directory %s is not a directory", spec.WorkDir)
		}
	}

	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	layers := []map[string]string{spec.Env}
	if spec.Port > 0 {
		layers = append(layers, map[string]string{"PORT": strconv.Itoa(spec.Port)})
	}
	cmd.Env = c.Env.Merge(layers...)
	configureSysProcAttr(cmd)

	// Real files, not pipes: the child keeps writing after this process exits.
	outF, errF, err := c.files(spec)
	if err != nil {
		return 0, apperr.IO("process.start", spec.Name, err)
	}
	cmd.Stdout = outF
	cmd.Stderr = errF

	err = cmd.Start()
	closeAll(outF, errF)
	if err != nil {
		return 0, apperr.New(apperr.KindExternalCommand, "process.start", spec.Name, err)
	}
	pid := cmd.Process.Pid
	ch := &child{done: make(chan struct{})}
	c.mu.Lock()
	c.children[pid] = ch
	c.mu.Unlock()
	go func() {
		ch.err = cmd.Wait()
		close(ch.done)
		c.mu.Lock()
		delete(c.children, pid)
		c.mu.Unlock()
		slog.Debug("application process exited", "name", spec.Name, "pid", pid, "error", ch.err)
	}()

	d := spec.StartDuration
	if d <= 0 {
		d = c.StartDuration
	}
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ch.done:
			return 0, apperr.New(apperr.KindExternalCommand, "process.start", spec.Name, errBeforeStart(d, ch.err))
		case <-ctx.Done():
			_ = kill(pid)
			return 0, ctx.Err()
		case <-timer.C:
		}
	}

	slog.Info("application started", "name", spec.Name, "pid", pid, "port", spec.Port, "dir", spec.WorkDir)
	return pid, nil
}

// Stop terminates the application. With a recorded PID its process group
// gets SIGTERM, then SIGKILL after StopTimeout. An imported record without
// a PID falls back to stopping every process whose command line contains
// spec.Command. Anything else without a PID is NotFound.
func (c *Controller) Stop(ctx context.Context, spec Spec) error {
	if spec.PID > 0 {
		if !alive(spec.PID) {
			return apperr.NotFoundf("process.stop", spec.Name, "pid %d is not running", spec.PID)
		}
		return c.stopPID(ctx, spec.Name, spec.PID)
	}

	if !spec.Imported {
		return apperr.NotFoundf("process.stop", spec.Name, "no pid recorded")
	}
	// pattern fallback, imported records only
	if strings.TrimSpace(spec.Command) == "" {
		return apperr.NotFoundf("process.stop", spec.Name, "no pid recorded and no command to match")
	}
	pids, err := FindByCommand(ctx, spec.Command)
	if err != nil {
		return apperr.New(apperr.KindExternalCommand, "process.stop", spec.Name, err)
	}
	if len(pids) == 0 {
		return apperr.NotFoundf("process.stop", spec.Name, "no process matches %q", spec.Command)
	}
	slog.Warn("stopping by command match", "name", spec.Name, "pattern", spec.Command, "pids", pids)
	var errs []error
	for _, pid := range pids {
		if err := c.stopPID(ctx, spec.Name, pid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restart stops then starts. A stop that finds nothing does not block the start.
func (c *Controller) Restart(ctx context.Context, spec Spec) (int, error) {
	if err := c.Stop(ctx, spec); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return 0, err
	}
	spec.PID = 0
	return c.Start(ctx, spec)
}

// Inspect reports whether the application is observable on the host.
// Command-line matching is used only for imported records without a PID.
func (c *Controller) Inspect(ctx context.Context, spec Spec) Status {
	st := Status{Name: spec.Name, PID: spec.PID}
	if spec.PID > 0 {
		if alive(spec.PID) {
			st.Running = true
			st.DetectedBy = "pid"
			st.StartedAt = startTime(spec.PID)
		}
		return st
	}
	if !spec.Imported || strings.TrimSpace(spec.Command) == "" {
		return st
	}
	if pids, err := FindByCommand(ctx, spec.Command); err == nil && len(pids) > 0 {
		st.Running = true
		st.PID = pids[0]
		st.DetectedBy = "command"
		st.StartedAt = startTime(pids[0])
	}
	return st
}

func (c *Controller) stopPID(ctx context.Context, name string, pid int) error {
	if err := terminate(pid); err != nil {
		if errors.Is(err, errGone) {
			return nil
		}
		return apperr.New(apperr.KindExternalCommand, "process.stop", name, fmt.Errorf("signal pid %d: %w", pid, err))
	}
	timeout := c.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	if c.waitExit(ctx, pid, timeout) {
		slog.Info("application stopped", "name", name, "pid", pid)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Warn("stop timeout exceeded, killing", "name", name, "pid", pid, "timeout", timeout)
	if err := kill(pid); err != nil && !errors.Is(err, errGone) {
		return apperr.New(apperr.KindExternalCommand, "process.stop", name, fmt.Errorf("kill pid %d: %w", pid, err))
	}
	if !c.waitExit(ctx, pid, killGrace) {
		return apperr.New(apperr.KindExternalCommand, "process.stop", name, fmt.Errorf("pid %d survived SIGKILL", pid))
	}
	return nil
}

// waitExit waits until pid is gone, the timeout passes or ctx ends.
func (c *Controller) waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	c.mu.Lock()
	ch := c.children[pid]
	c.mu.Unlock()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	if ch != nil {
		select {
		case <-ch.done:
			return true
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		if !alive(pid) {
			return true
		}
		select {
		case <-tick.C:
		case <-timer.C:
			return !alive(pid)
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Controller) files(spec Spec) (*os.File, *os.File, error) {
	cfg := spec.Log
	if cfg.Dir == "" && cfg.StdoutPath == "" && cfg.StderrPath == "" {
		cfg = c.Log
	}
	outF, errF, err := cfg.Files(spec.Name)
	if err != nil {
		return nil, nil, err
	}
	if outF == nil {
		if outF, err = os.OpenFile(os.DevNull, os.O_WRONLY, 0); err != nil {
			closeAll(errF)
			return nil, nil, err
		}
	}
	if errF == nil {
		if errF, err = os.OpenFile(os.DevNull, os.O_WRONLY, 0); err != nil {
			closeAll(outF)
			return nil, nil, err
		}
	}
	return outF, errF, nil
}

func closeAll(fs ...*os.File) {
	for _, f := range fs {
		if f != nil {
			_ = f.Close()
		}
	}
}
