// Package portalloc picks free TCP ports for applications.
package portalloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/metrics"
	"github.com/loykin/vpsman/internal/portprobe"
)

const (
	DefaultStart = 3000
	MaxPort      = 65535
)

// ErrPortsExhausted is returned when every port from start to MaxPort is in use.
var ErrPortsExhausted = apperr.New(apperr.KindInvalidState, "portalloc.find", "", errors.New("no available ports"))

type Allocator struct {
	prober portprobe.Prober
	start  int
}

// New returns an allocator scanning from start (DefaultStart when <= 0).
func New(p portprobe.Prober, start int) *Allocator {
	if start <= 0 {
		start = DefaultStart
	}
	return &Allocator{prober: p, start: start}
}

// FindAvailablePort returns the lowest port >= start not currently listening.
// The result is a snapshot; another process may bind it before use.
func (a *Allocator) FindAvailablePort(ctx context.Context, start int) (int, error) {
	if start <= 0 {
		start = a.start
	}
	if start > MaxPort {
		return 0, apperr.Invalid("portalloc.find", "", "start port %d above %d", start, MaxPort)
	}
	used, err := a.prober.ListeningPorts(ctx)
	if err != nil {
		metrics.IncAllocation("error")
		return 0, fmt.Errorf("find available port: %w", err)
	}
	for p := start; p <= MaxPort; p++ {
		if _, taken := used[p]; !taken {
			metrics.IncAllocation("ok")
			return p, nil
		}
	}
	metrics.IncAllocation("exhausted")
	return 0, ErrPortsExhausted
}

func (a *Allocator) IsPortInUse(ctx context.Context, port int) (bool, error) {
	if port <= 0 || port > MaxPort {
		return false, apperr.Invalid("portalloc.check", "", "port %d out of range", port)
	}
	return a.prober.PortInUse(ctx, port)
}

// Resolve honors a free requested port and auto-allocates otherwise.
func (a *Allocator) Resolve(ctx context.Context, requested int) (int, error) {
	if requested > 0 {
		inUse, err := a.IsPortInUse(ctx, requested)
		if err != nil {
			return 0, err
		}
		if !inUse {
			return requested, nil
		}
		slog.Info("requested port in use, allocating another", "port", requested)
	}
	return a.FindAvailablePort(ctx, 0)
}
