package portprobe

import (
	"context"
	"sort"
)

// SystemPortCeiling is the highest port considered a system port. Listening
// processes on ports at or below it are never reported as applications.
const SystemPortCeiling = 1024

// Listener is a process observed in accept/listen mode on a TCP port.
// PID is 0 when the owner could not be resolved.
type Listener struct {
	Name string `json:"name"`
	Port int    `json:"port"`
	PID  int    `json:"pid,omitempty"`
}

// Prober queries the OS for bound/listening ports.
// An OS query that cannot be performed is an error, never an empty result.
type Prober interface {
	// ListeningPorts returns every port currently in listen state.
	ListeningPorts(ctx context.Context) (map[int]struct{}, error)
	// ListeningProcesses returns named listeners on non-system ports.
	ListeningProcesses(ctx context.Context) ([]Listener, error)
	// PortInUse reports whether a direct query for port yields a listening entry.
	PortInUse(ctx context.Context, port int) (bool, error)
}

// applicationListeners keeps named listeners above SystemPortCeiling, drops
// exact duplicates (IPv4 and IPv6 sockets of one process) and sorts by port.
func applicationListeners(all []Listener) []Listener {
	seen := make(map[Listener]struct{}, len(all))
	out := make([]Listener, 0, len(all))
	for _, l := range all {
		if l.Name == "" || l.Port <= SystemPortCeiling {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].Name < out[j].Name
	})
	return out
}
