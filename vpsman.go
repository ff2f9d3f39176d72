package vpsman

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/vpsman/internal/command"
	"github.com/loykin/vpsman/internal/config"
	"github.com/loykin/vpsman/internal/cron"
	"github.com/loykin/vpsman/internal/env"
	"github.com/loykin/vpsman/internal/history"
	histfactory "github.com/loykin/vpsman/internal/history/factory"
	"github.com/loykin/vpsman/internal/manager"
	"github.com/loykin/vpsman/internal/metrics"
	"github.com/loykin/vpsman/internal/nginx"
	"github.com/loykin/vpsman/internal/portprobe"
	"github.com/loykin/vpsman/internal/process"
	"github.com/loykin/vpsman/internal/server"
	"github.com/loykin/vpsman/internal/store"
	storefactory "github.com/loykin/vpsman/internal/store/factory"
	"github.com/loykin/vpsman/internal/watch"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Application = store.Application

type Domain = store.Domain

type Manager = manager.Manager

type HistoryEvent = history.Event

// LoadConfig reads a TOML config; an empty path yields defaults plus
// VPSMAN_* environment overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// App owns every component built from a Config.
type App struct {
	cfg      *Config
	mgr      *Manager
	repo     store.Repository
	recorder *history.Recorder
	memory   *history.Memory
}

// Option customizes New, mainly for embedding and tests.
type Option func(*options)

type options struct {
	runner    command.Runner
	prober    portprobe.Prober
	processes manager.Processes
}

// WithRunner replaces the host command runner (nginx -t, reload, netstat).
func WithRunner(r command.Runner) Option { return func(o *options) { o.runner = r } }

// WithProber replaces the port prober.
func WithProber(p portprobe.Prober) Option { return func(o *options) { o.prober = p } }

// WithProcesses replaces the process controller.
func WithProcesses(p manager.Processes) Option { return func(o *options) { o.processes = p } }

// New wires the repository, prober, process controller, proxy store and
// history sinks described by cfg into a Manager.
func New(cfg *Config, opts ...Option) (*App, error) {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.runner == nil {
		o.runner = command.Exec{Timeout: cfg.Commands.Timeout}
	}
	if o.prober == nil {
		o.prober = newProber(cfg, o.runner)
	}
	if o.processes == nil {
		kvs, err := cfg.GlobalEnv()
		if err != nil {
			return nil, err
		}
		e := env.New()
		e.FromList(kvs)
		ctl := process.NewController(e, cfg.Process.Log)
		if cfg.Process.StopTimeout > 0 {
			ctl.StopTimeout = cfg.Process.StopTimeout
		}
		ctl.StartDuration = cfg.Process.StartDuration
		o.processes = ctl
	}

	repo, err := storefactory.NewFromDSN(cfg.State.DSN)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", cfg.State.DSN, err)
	}
	sinks, err := histfactory.NewSinks(cfg.History.DSNs)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	var mem *history.Memory
	if cfg.History.MemoryLimit > 0 {
		mem = history.NewMemory(cfg.History.MemoryLimit)
		sinks = append(sinks, mem)
	}
	rec := history.NewRecorder(sinks...)

	mgr, err := manager.New(manager.Options{
		Repository: repo,
		Prober:     o.prober,
		Processes:  o.processes,
		Proxy:      nginx.New(cfg.Nginx, o.runner),
		PortStart:  cfg.Ports.Start,
		History:    rec,
	})
	if err != nil {
		_ = rec.Close()
		_ = repo.Close()
		return nil, err
	}
	return &App{cfg: cfg, mgr: mgr, repo: repo, recorder: rec, memory: mem}, nil
}

func newProber(cfg *Config, r command.Runner) portprobe.Prober {
	if cfg.Ports.Probe == "netstat" {
		n := portprobe.NewNetstat(r)
		if cfg.Ports.NetstatCommand != "" {
			n.Command = cfg.Ports.NetstatCommand
		}
		return n
	}
	return portprobe.NewSystem()
}

func (a *App) Manager() *Manager { return a.mgr }

func (a *App) Config() *Config { return a.cfg }

// RecentEvents returns in-process history, oldest first (nil when disabled).
func (a *App) RecentEvents() []HistoryEvent {
	if a.memory == nil {
		return nil
	}
	return a.memory.Events()
}

// Close releases history sinks and the repository.
func (a *App) Close() error {
	rerr := a.recorder.Close()
	return errors.Join(rerr, a.repo.Close())
}

// Serve runs the daemon: HTTP API, metrics, resource sampling, scheduled
// reconciliation and drift watching. It returns when ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfg
	router := server.NewRouter(a.mgr, cfg.Server.BasePath)

	var collector *metrics.ResourceCollector
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		collector = metrics.NewResourceCollector(cfg.Metrics.Resources)
		if err := collector.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register resource metrics: %w", err)
		}
		router.WithMetrics(metrics.Handler())
	}

	g, gctx := errgroup.WithContext(ctx)

	if collector != nil {
		collector.Start(gctx, func() map[string]int32 { return a.mgr.RunningPIDs(gctx) })
		defer collector.Stop()
	}

	sched := cron.NewScheduler()
	if cfg.Reconcile.Schedule != "" {
		job := &cron.Job{Name: "reconcile", Schedule: cfg.Reconcile.Schedule, Run: a.reconcile}
		if err := sched.Add(job); err != nil {
			return err
		}
		if err := sched.Start(gctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if cfg.Reconcile.Watch {
		w, err := watch.New(cfg.Nginx.EnabledDir, cfg.Reconcile.Debounce, func(ctx context.Context) {
			if err := a.reconcile(ctx); err != nil {
				slog.Warn("drift reconcile failed", "error", err)
			}
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	servers := make([]*http.Server, 0, 2)
	api, err := server.NewServer(cfg.Server.Listen, router)
	if err != nil {
		return err
	}
	servers = append(servers, api)
	slog.Info("vpsman API listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)

	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" && cfg.Metrics.Listen != cfg.Server.Listen {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		ms := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", "addr", cfg.Metrics.Listen, "error", err)
			}
		}()
		servers = append(servers, ms)
		slog.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(sctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func (a *App) reconcile(ctx context.Context) error {
	rep, err := a.mgr.ImportDetectedConfigs(ctx)
	if err != nil {
		return err
	}
	if n := len(rep.Domains.Created) + len(rep.Applications.Created); n > 0 {
		slog.Info("reconcile adopted new records", "domains", rep.Domains.Created, "applications", rep.Applications.Created)
	}
	return nil
}
