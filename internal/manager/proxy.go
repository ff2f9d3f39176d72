package manager

import (
	"context"
	"strconv"

	"github.com/loykin/vpsman/internal/history"
	"github.com/loykin/vpsman/internal/nginx"
	"github.com/loykin/vpsman/internal/portprobe"
	"github.com/loykin/vpsman/internal/reconcile"
	"github.com/loykin/vpsman/internal/store"
)

// CreateReverseProxy writes, enables and applies a site without touching
// domain records.
func (m *Manager) CreateReverseProxy(ctx context.Context, domain string, port int) error {
	unlock := m.locks.Lock(store.DomainKey(domain))
	defer unlock()
	err := m.proxy.Create(ctx, domain, port)
	m.emit(ctx, history.EventProxyCreated, domain, map[string]string{"targetPort": strconv.Itoa(port)}, err)
	return err
}

func (m *Manager) RemoveReverseProxy(ctx context.Context, domain string) error {
	unlock := m.locks.Lock(store.DomainKey(domain))
	defer unlock()
	err := m.proxy.Remove(ctx, domain)
	m.emit(ctx, history.EventProxyRemoved, domain, nil, err)
	return err
}

func (m *Manager) ListSites(ctx context.Context) ([]string, error) {
	return m.proxy.ListSites(ctx)
}

func (m *Manager) DetectExistingConfigs(ctx context.Context) ([]nginx.Site, error) {
	return m.importer.DetectConfigs(ctx)
}

func (m *Manager) DetectRunningApplications(ctx context.Context) ([]portprobe.Listener, error) {
	return m.importer.DetectApplications(ctx)
}

// ImportDetectedConfigs adopts detected sites and listeners into state.
func (m *Manager) ImportDetectedConfigs(ctx context.Context) (reconcile.Report, error) {
	rep, err := m.importer.Import(ctx)
	m.emit(ctx, history.EventImportCompleted, "import", map[string]string{
		"domains":      strconv.Itoa(rep.Domains.Total()),
		"applications": strconv.Itoa(rep.Applications.Total()),
	}, err)
	if err == nil {
		m.refreshRunning(ctx)
	}
	return rep, err
}
