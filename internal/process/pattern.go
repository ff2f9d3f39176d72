package process

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// FindByCommand returns the PIDs of processes whose command line contains
// pattern, excluding the calling process. Used only when no PID is recorded.
func FindByCommand(ctx context.Context, pattern string) ([]int, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := int32(os.Getpid())
	var pids []int
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cl, err := p.CmdlineWithContext(ctx)
		if err != nil || cl == "" {
			continue
		}
		if strings.Contains(cl, pattern) {
			pids = append(pids, int(p.Pid))
		}
	}
	sort.Ints(pids)
	return pids, nil
}
