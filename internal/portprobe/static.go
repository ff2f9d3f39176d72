package portprobe

import (
	"context"
	"sync"
)

// Static is a fixed port/process table. It backs tests and embedders that
// want allocation without touching the host.
type Static struct {
	mu        sync.RWMutex
	listeners []Listener
	ports     map[int]struct{}
	err       error
}

// NewStatic builds a table from listeners plus extra anonymous bound ports.
func NewStatic(listeners []Listener, ports ...int) *Static {
	s := &Static{}
	s.Set(listeners, ports...)
	return s
}

// Set replaces the table.
func (s *Static) Set(listeners []Listener, ports ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append([]Listener(nil), listeners...)
	s.ports = make(map[int]struct{}, len(listeners)+len(ports))
	for _, l := range listeners {
		s.ports[l.Port] = struct{}{}
	}
	for _, p := range ports {
		s.ports[p] = struct{}{}
	}
}

// Listen adds a listener to the table.
func (s *Static) Listen(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
	if s.ports == nil {
		s.ports = make(map[int]struct{})
	}
	s.ports[l.Port] = struct{}{}
}

// FailWith makes every query return err (nil restores normal behavior).
func (s *Static) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Static) ListeningPorts(_ context.Context) (map[int]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int]struct{}, len(s.ports))
	for p := range s.ports {
		out[p] = struct{}{}
	}
	return out, nil
}

func (s *Static) ListeningProcesses(_ context.Context) ([]Listener, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return applicationListeners(s.listeners), nil
}

func (s *Static) PortInUse(_ context.Context, port int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.ports[port]
	return ok, nil
}
