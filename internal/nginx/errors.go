package nginx

import (
	"fmt"
	"strings"

	"github.com/loykin/vpsman/internal/apperr"
)

// State is how far a domain's proxy artifact has progressed.
type State int

const (
	StateAbsent  State = iota // no file, no link
	StateWritten              // file in the available dir
	StateEnabled              // file linked into the enabled dir
	StateLive                 // validated and reloaded
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateWritten:
		return "written"
	case StateEnabled:
		return "enabled"
	case StateLive:
		return "live"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Step names one transition of the proxy state machine.
type Step string

const (
	StepWrite    Step = "write"
	StepEnable   Step = "enable"
	StepValidate Step = "validate"
	StepReload   Step = "reload"
	StepUnlink   Step = "unlink"
	StepDelete   Step = "delete"
)

// TransitionError reports which step of a create or remove failed and the
// state the artifact was left in. Err carries the apperr kind.
type TransitionError struct {
	Op         string // "create" or "remove"
	Domain     string
	Step       Step
	Reached    State
	RolledBack bool
	Err        error
}

func (e *TransitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "nginx %s %s: %s failed (state %s", e.Op, e.Domain, e.Step, e.Reached)
	if e.RolledBack {
		b.WriteString(", rolled back")
	}
	b.WriteString(")")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransitionError) Unwrap() error { return e.Err }

func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRe.MatchString(domain) {
		return apperr.Invalid("nginx.validate", domain, "invalid domain name %q", domain)
	}
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return apperr.Invalid("nginx.validate", "", "target port %d out of range", port)
	}
	return nil
}
