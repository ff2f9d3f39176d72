package process

import (
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/vpsman/internal/logger"
)

// Spec describes one application process as the controller sees it.
// PID is the process recorded at the last successful start (0 when unknown).
// Imported marks records discovered on the host rather than started by
// vpsman; only those may be located by command-line matching.
type Spec struct {
	Name          string            `json:"name"`
	Command       string            `json:"command"`  // shell command line
	WorkDir       string            `json:"work_dir"` // optional working dir
	Env           map[string]string `json:"env"`      // optional extra env
	Port          int               `json:"port"`     // exported to the child as PORT when > 0
	PID           int               `json:"pid"`
	Imported      bool              `json:"imported,omitempty"`
	StartDuration time.Duration     `json:"start_duration"` // minimum time the process must stay up to be considered started
	Log           logger.Config     `json:"log"`
}

// BuildCommand constructs an *exec.Cmd for the given spec.Command.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
// The command is not bound to a context: applications outlive the request
// that started them.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script after -c with one pair of enclosing quotes stripped.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c ", "bash -c ", "/bin/bash -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
