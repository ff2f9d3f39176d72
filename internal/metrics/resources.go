package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of one application process.
type Usage struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourcesConfig controls periodic sampling of running applications.
type ResourcesConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ResourceCollector samples CPU and memory of running applications by PID.
type ResourceCollector struct {
	enabled  bool
	interval time.Duration

	mu     sync.RWMutex
	latest map[string]Usage

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
}

func NewResourceCollector(cfg ResourcesConfig) *ResourceCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ResourceCollector{
		enabled:  cfg.Enabled,
		interval: interval,
		latest:   make(map[string]Usage),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vpsman",
				Subsystem: "application",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage for running applications.",
			}, []string{"name"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vpsman",
				Subsystem: "application",
				Name:      "memory_mb",
				Help:      "Resident memory in MB for running applications.",
			}, []string{"name"},
		),
	}
}

func (c *ResourceCollector) IsEnabled() bool { return c.enabled }

func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryMB} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples the PIDs returned by running until ctx ends or Stop is called.
func (c *ResourceCollector) Start(ctx context.Context, running func() map[string]int32) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(ctx, running())
			}
		}
	}()
}

func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect samples every pid once and drops entries for names no longer present.
func (c *ResourceCollector) Collect(ctx context.Context, pids map[string]int32) {
	now := time.Now()
	fresh := make(map[string]Usage, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		u, err := Sample(ctx, name, pid)
		if err != nil {
			slog.Debug("resource sample failed", "name", name, "pid", pid, "error", err)
			continue
		}
		u.Timestamp = now
		fresh[name] = u
	}

	c.mu.Lock()
	for name := range c.latest {
		if _, ok := fresh[name]; !ok {
			c.cpuPercent.DeleteLabelValues(name)
			c.memoryMB.DeleteLabelValues(name)
		}
	}
	c.latest = fresh
	c.mu.Unlock()

	for name, u := range fresh {
		c.cpuPercent.WithLabelValues(name).Set(u.CPUPercent)
		c.memoryMB.WithLabelValues(name).Set(u.MemoryMB)
	}
}

// Get returns the most recent sample for name.
func (c *ResourceCollector) Get(name string) (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.latest[name]
	return u, ok
}

// Sample reads CPU, memory and thread counts for pid.
func Sample(ctx context.Context, name string, pid int32) (Usage, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return Usage{}, fmt.Errorf("process handle: %w", err)
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpu = 0
	}
	threads, _ := proc.NumThreadsWithContext(ctx)
	u := Usage{
		PID:        pid,
		Name:       name,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDsWithContext(ctx); err == nil {
			u.NumFDs = fds
		}
	}
	return u, nil
}
