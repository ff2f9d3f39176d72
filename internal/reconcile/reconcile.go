// Package reconcile adopts proxy configurations and listening processes
// that exist on the host but are not yet recorded in the state repository.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/metrics"
	"github.com/loykin/vpsman/internal/nginx"
	"github.com/loykin/vpsman/internal/portprobe"
	"github.com/loykin/vpsman/internal/store"
)

// Placeholders written into applications created by an import.
const (
	PlaceholderPath    = "/"
	PlaceholderCommand = ""
)

// ConfigDetector is the proxy side of detection (nginx.Store).
type ConfigDetector interface {
	DetectExisting(ctx context.Context) ([]nginx.Site, error)
}

// Changes lists record keys touched by one import.
type Changes struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

func (c Changes) Total() int { return len(c.Created) + len(c.Updated) }

type Report struct {
	Domains      Changes `json:"domains"`
	Applications Changes `json:"applications"`
}

type Importer struct {
	configs ConfigDetector
	prober  portprobe.Prober
	repo    store.Repository
	locks   *store.KeyLock

	// imports never interleave
	mu sync.Mutex
}

// New builds an importer. locks may be shared with the request layer so an
// import and a concurrent edit of the same record serialize.
func New(configs ConfigDetector, prober portprobe.Prober, repo store.Repository, locks *store.KeyLock) *Importer {
	if locks == nil {
		locks = store.NewKeyLock()
	}
	return &Importer{configs: configs, prober: prober, repo: repo, locks: locks}
}

func (im *Importer) DetectConfigs(ctx context.Context) ([]nginx.Site, error) {
	return im.configs.DetectExisting(ctx)
}

// DetectApplications reports named listeners on non-system ports, one per
// process name (the lowest port wins).
func (im *Importer) DetectApplications(ctx context.Context) ([]portprobe.Listener, error) {
	ls, err := im.prober.ListeningProcesses(ctx)
	if err != nil {
		return nil, err
	}
	return collapse(ls), nil
}

// Import upserts a Domain per detected config and an Application per
// detected listener. Running it twice against unchanged state creates
// nothing new.
func (im *Importer) Import(ctx context.Context) (Report, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	var (
		sites     []nginx.Site
		listeners []portprobe.Listener
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sites, err = im.DetectConfigs(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		listeners, err = im.DetectApplications(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	var rep Report
	seen := make(map[string]struct{}, len(sites))
	for _, s := range sites {
		if _, dup := seen[s.Domain]; dup {
			slog.Warn("duplicate server_name in enabled configs", "domain", s.Domain, "file", s.File)
			continue
		}
		seen[s.Domain] = struct{}{}
		created, err := im.importDomain(ctx, s)
		if err != nil {
			return rep, err
		}
		record(&rep.Domains, s.Domain, created)
	}
	for _, l := range listeners {
		created, err := im.importApplication(ctx, l)
		if err != nil {
			return rep, err
		}
		record(&rep.Applications, l.Name, created)
	}

	metrics.AddImported("domain", "created", len(rep.Domains.Created))
	metrics.AddImported("domain", "updated", len(rep.Domains.Updated))
	metrics.AddImported("application", "created", len(rep.Applications.Created))
	metrics.AddImported("application", "updated", len(rep.Applications.Updated))
	slog.Info("import completed",
		"domains_created", len(rep.Domains.Created), "domains_updated", len(rep.Domains.Updated),
		"apps_created", len(rep.Applications.Created), "apps_updated", len(rep.Applications.Updated))
	return rep, nil
}

func (im *Importer) importDomain(ctx context.Context, s nginx.Site) (bool, error) {
	unlock := im.locks.Lock(store.DomainKey(s.Domain))
	defer unlock()

	d, err := im.repo.GetDomain(ctx, s.Domain)
	created := apperr.Is(err, apperr.KindNotFound)
	if err != nil && !created {
		return false, err
	}
	if created {
		d = store.Domain{Domain: s.Domain}
	}
	// sslCertificate and the application reference are kept
	d.TargetPort = s.TargetPort
	d.IsActive = true
	if err := im.repo.SaveDomain(ctx, d); err != nil {
		return false, err
	}
	return created, nil
}

func (im *Importer) importApplication(ctx context.Context, l portprobe.Listener) (bool, error) {
	unlock := im.locks.Lock(store.ApplicationKey(l.Name))
	defer unlock()

	app, err := im.repo.GetApplication(ctx, l.Name)
	created := apperr.Is(err, apperr.KindNotFound)
	if err != nil && !created {
		return false, err
	}
	if created {
		app = store.Application{
			Name:     l.Name,
			Path:     PlaceholderPath,
			Command:  PlaceholderCommand,
			Imported: true,
		}
	}
	app.Port = l.Port
	app.PID = l.PID
	app.IsRunning = true
	if err := im.repo.SaveApplication(ctx, app); err != nil {
		return false, err
	}
	return created, nil
}

func record(c *Changes, key string, created bool) {
	if created {
		c.Created = append(c.Created, key)
		return
	}
	c.Updated = append(c.Updated, key)
}

// collapse keeps one listener per process name, choosing the lowest port.
// Output is ordered by port.
func collapse(ls []portprobe.Listener) []portprobe.Listener {
	best := make(map[string]portprobe.Listener, len(ls))
	for _, l := range ls {
		if cur, ok := best[l.Name]; !ok || l.Port < cur.Port {
			best[l.Name] = l
		}
	}
	out := make([]portprobe.Listener, 0, len(best))
	for _, l := range best {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].Name < out[j].Name
	})
	return out
}
