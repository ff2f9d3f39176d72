// Package manager is the request layer: it sequences process control, proxy
// configuration and persistence for one operation, serialized per key.
package manager

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loykin/vpsman/internal/history"
	"github.com/loykin/vpsman/internal/metrics"
	"github.com/loykin/vpsman/internal/nginx"
	"github.com/loykin/vpsman/internal/portalloc"
	"github.com/loykin/vpsman/internal/portprobe"
	"github.com/loykin/vpsman/internal/process"
	"github.com/loykin/vpsman/internal/reconcile"
	"github.com/loykin/vpsman/internal/store"
)

// Processes is the process-control surface (process.Controller).
type Processes interface {
	Start(ctx context.Context, spec process.Spec) (int, error)
	Stop(ctx context.Context, spec process.Spec) error
	Inspect(ctx context.Context, spec process.Spec) process.Status
}

// Proxy is the reverse-proxy configuration surface (nginx.Store).
type Proxy interface {
	Create(ctx context.Context, domain string, port int) error
	Remove(ctx context.Context, domain string) error
	ListSites(ctx context.Context) ([]string, error)
	DetectExisting(ctx context.Context) ([]nginx.Site, error)
}

type Options struct {
	Repository store.Repository
	Prober     portprobe.Prober
	Processes  Processes
	Proxy      Proxy
	// PortStart is the first port tried by auto-allocation (default 3000).
	PortStart int
	History   *history.Recorder
	// Locks may be shared with other writers of the same repository.
	Locks *store.KeyLock
}

type Manager struct {
	repo     store.Repository
	ports    *portalloc.Allocator
	procs    Processes
	proxy    Proxy
	importer *reconcile.Importer
	hist     *history.Recorder
	locks    *store.KeyLock
}

func New(o Options) (*Manager, error) {
	switch {
	case o.Repository == nil:
		return nil, errors.New("manager: repository is required")
	case o.Prober == nil:
		return nil, errors.New("manager: port prober is required")
	case o.Processes == nil:
		return nil, errors.New("manager: process controller is required")
	case o.Proxy == nil:
		return nil, errors.New("manager: proxy store is required")
	}
	locks := o.Locks
	if locks == nil {
		locks = store.NewKeyLock()
	}
	return &Manager{
		repo:     o.Repository,
		ports:    portalloc.New(o.Prober, o.PortStart),
		procs:    o.Processes,
		proxy:    o.Proxy,
		importer: reconcile.New(o.Proxy, o.Prober, o.Repository, locks),
		hist:     o.History,
		locks:    locks,
	}, nil
}

// Importer exposes the reconciliation importer for schedulers and watchers.
func (m *Manager) Importer() *reconcile.Importer { return m.importer }

// Repository exposes the underlying state repository.
func (m *Manager) Repository() store.Repository { return m.repo }

func (m *Manager) emit(ctx context.Context, typ history.EventType, subject string, detail map[string]string, err error) {
	m.hist.Record(ctx, history.NewEvent(typ, subject, detail, err))
}

// refreshRunning recomputes the running-applications gauge.
func (m *Manager) refreshRunning(ctx context.Context) {
	apps, err := m.repo.ListApplications(ctx)
	if err != nil {
		slog.Debug("running gauge refresh failed", "error", err)
		return
	}
	n := 0
	for _, a := range apps {
		if a.IsRunning {
			n++
		}
	}
	metrics.SetRunning(n)
}
