package portprobe

import (
	"context"
	"fmt"

	"github.com/loykin/vpsman/internal/apperr"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

const statusListen = "LISTEN"

// System enumerates listening sockets natively through gopsutil
// (/proc/net on Linux, sysctl on BSD/Darwin) instead of parsing netstat.
type System struct{}

func NewSystem() *System { return &System{} }

func (s *System) listen(ctx context.Context) ([]gopsnet.ConnectionStat, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, apperr.New(apperr.KindExternalCommand, "portprobe.connections", "", fmt.Errorf("enumerate sockets: %w", err))
	}
	out := conns[:0]
	for _, c := range conns {
		if c.Status == statusListen && c.Laddr.Port > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *System) ListeningPorts(ctx context.Context) (map[int]struct{}, error) {
	conns, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}
	used := make(map[int]struct{}, len(conns))
	for _, c := range conns {
		used[int(c.Laddr.Port)] = struct{}{}
	}
	return used, nil
}

func (s *System) ListeningProcesses(ctx context.Context) ([]Listener, error) {
	conns, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int32]string)
	all := make([]Listener, 0, len(conns))
	for _, c := range conns {
		if c.Pid <= 0 {
			// owner not visible (insufficient privileges)
			continue
		}
		name, ok := names[c.Pid]
		if !ok {
			name = processName(ctx, c.Pid)
			names[c.Pid] = name
		}
		all = append(all, Listener{Name: name, Port: int(c.Laddr.Port), PID: int(c.Pid)})
	}
	return applicationListeners(all), nil
}

func (s *System) PortInUse(ctx context.Context, port int) (bool, error) {
	conns, err := s.listen(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range conns {
		if int(c.Laddr.Port) == port {
			return true, nil
		}
	}
	return false, nil
}

func processName(ctx context.Context, pid int32) string {
	p, err := gopsproc.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ""
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return ""
	}
	return name
}
