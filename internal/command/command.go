package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/vpsman/internal/metrics"
)

// Runner executes an external command and returns its combined output.
// A non-zero exit is reported as an error; the output is returned either way.
type Runner interface {
	Run(ctx context.Context, cmdline string) ([]byte, error)
}

// Exec runs commands on the host. Timeout bounds every invocation when > 0.
type Exec struct {
	Timeout time.Duration
}

func (e Exec) Run(ctx context.Context, cmdline string) ([]byte, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := Build(ctx, cmdline)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	started := time.Now()
	err := cmd.Run()
	metrics.ObserveCommand(Name(cmdline), time.Since(started).Seconds(), err)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out.Bytes(), fmt.Errorf("%s: timed out after %s", cmdline, e.Timeout)
		}
		return out.Bytes(), err
	}
	return out.Bytes(), nil
}

// Build constructs an *exec.Cmd for cmdline. It avoids invoking a shell
// unless obvious shell metacharacters are present (G204 mitigation).
func Build(ctx context.Context, cmdline string) *exec.Cmd {
	cmdline = strings.TrimSpace(cmdline)
	if cmdline == "" {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/true")
	}
	if strings.ContainsAny(cmdline, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	}
	parts := strings.Fields(cmdline)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

// Name returns the program name of cmdline, skipping a leading sudo.
func Name(cmdline string) string {
	parts := strings.Fields(cmdline)
	for len(parts) > 1 && parts[0] == "sudo" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
