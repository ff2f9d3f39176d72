package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Kind classifies failures so callers (HTTP layer, CLI) can map them
// to distinct responses.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindExternalCommand Kind = "external_command"
	KindInvalidState    Kind = "invalid_state"
	KindIO              Kind = "io"
	KindConflict        Kind = "conflict"
	KindInvalid         Kind = "invalid"
	KindInternal        Kind = "internal"
)

// Sentinels usable with errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrNotFound        = errors.New("not found")
	ErrExternalCommand = errors.New("external command failed")
	ErrInvalidState    = errors.New("invalid state")
	ErrIO              = errors.New("io failure")
	ErrConflict        = errors.New("conflict")
	ErrInvalid         = errors.New("invalid argument")
)

// Error is the scoped error returned by every core operation.
// Op names the operation or step ("nginx.enable", "process.start"),
// Subject the application or domain it acted on.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Output  string // captured output of a failed external command
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Subject != "" {
		b.WriteString(" ")
		b.WriteString(e.Subject)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(": ")
		b.WriteString(string(e.Kind))
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(" (output: ")
		b.WriteString(out)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) succeed for any *Error of that kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrExternalCommand:
		return e.Kind == KindExternalCommand
	case ErrInvalidState:
		return e.Kind == KindInvalidState
	case ErrIO:
		return e.Kind == KindIO
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrInvalid:
		return e.Kind == KindInvalid
	}
	return false
}

func New(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

func NotFound(op, subject string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Subject: subject, Err: ErrNotFound}
}

func NotFoundf(op, subject, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Subject: subject, Err: fmt.Errorf(format, args...)}
}

func InvalidState(op, subject, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Subject: subject, Err: fmt.Errorf(format, args...)}
}

func Invalid(op, subject, format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, Op: op, Subject: subject, Err: fmt.Errorf(format, args...)}
}

func Conflict(op, subject, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Subject: subject, Err: fmt.Errorf(format, args...)}
}

func IO(op, subject string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Subject: subject, Err: err}
}

// Command wraps the failure of an external command together with its output.
func Command(op, subject string, err error, output []byte) *Error {
	return &Error{Kind: KindExternalCommand, Op: op, Subject: subject, Err: err, Output: string(output)}
}

// KindOf returns the kind of the outermost *Error in the chain,
// or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err (or any error it wraps) is of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Wrap adds operation context to err while keeping its kind. Plain
// filesystem errors become KindIO, anything else KindInternal.
func Wrap(op, subject string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Op: op, Subject: subject, Err: err}
	}
	var pe *fs.PathError
	var le *os.LinkError
	if errors.As(err, &pe) || errors.As(err, &le) {
		return &Error{Kind: KindIO, Op: op, Subject: subject, Err: err}
	}
	return &Error{Kind: KindInternal, Op: op, Subject: subject, Err: err}
}
