package manager

import (
	"context"
	"strconv"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/history"
	"github.com/loykin/vpsman/internal/nginx"
	"github.com/loykin/vpsman/internal/store"
)

// DomainInput registers an inactive domain. With an application reference
// and no target port the application's port is used.
type DomainInput struct {
	Domain         string `json:"domain"`
	TargetPort     int    `json:"targetPort,omitempty"`
	SSLCertificate string `json:"sslCertificate,omitempty"`
	Application    string `json:"application,omitempty"`
}

func (m *Manager) ListDomains(ctx context.Context) ([]store.Domain, error) {
	return m.repo.ListDomains(ctx)
}

func (m *Manager) GetDomain(ctx context.Context, domain string) (store.Domain, error) {
	return m.repo.GetDomain(ctx, domain)
}

func (m *Manager) CreateDomain(ctx context.Context, in DomainInput) (store.Domain, error) {
	if err := nginx.ValidateDomain(in.Domain); err != nil {
		return store.Domain{}, err
	}
	unlock := m.locks.Lock(store.DomainKey(in.Domain))
	defer unlock()

	if _, err := m.repo.GetDomain(ctx, in.Domain); err == nil {
		return store.Domain{}, apperr.Conflict("manager.create_domain", in.Domain, "domain %s already exists", in.Domain)
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return store.Domain{}, err
	}
	d := store.Domain{
		Domain:         in.Domain,
		TargetPort:     in.TargetPort,
		SSLCertificate: in.SSLCertificate,
		Application:    in.Application,
	}
	if in.Application != "" {
		app, err := m.repo.GetApplication(ctx, in.Application)
		if err != nil {
			return store.Domain{}, err
		}
		if d.TargetPort == 0 {
			d.TargetPort = app.Port
		}
	}
	if d.TargetPort < 0 || d.TargetPort > 65535 {
		return store.Domain{}, apperr.Invalid("manager.create_domain", in.Domain, "target port %d out of range", d.TargetPort)
	}
	if err := m.repo.SaveDomain(ctx, d); err != nil {
		return store.Domain{}, err
	}
	m.emit(ctx, history.EventDomainCreated, d.Domain, nil, nil)
	return m.repo.GetDomain(ctx, in.Domain)
}

// ActivateDomain writes and enables the proxy config, then persists
// isActive. An already active domain is re-applied, repairing a missing
// artifact.
func (m *Manager) ActivateDomain(ctx context.Context, domain string) (store.Domain, error) {
	unlock := m.locks.Lock(store.DomainKey(domain))
	defer unlock()

	d, err := m.repo.GetDomain(ctx, domain)
	if err != nil {
		return store.Domain{}, err
	}
	port, err := m.targetPort(ctx, d)
	if err != nil {
		return store.Domain{}, err
	}
	if err := m.proxy.Create(ctx, domain, port); err != nil {
		m.emit(ctx, history.EventDomainActivated, domain, nil, err)
		return store.Domain{}, err
	}
	d.IsActive = true
	d.TargetPort = port
	if err := m.repo.SaveDomain(ctx, d); err != nil {
		return store.Domain{}, err
	}
	m.emit(ctx, history.EventDomainActivated, domain, map[string]string{"targetPort": strconv.Itoa(port)}, nil)
	return m.repo.GetDomain(ctx, domain)
}

// DeactivateDomain removes the proxy config and clears isActive. Inactive
// domains are left alone.
func (m *Manager) DeactivateDomain(ctx context.Context, domain string) (store.Domain, error) {
	unlock := m.locks.Lock(store.DomainKey(domain))
	defer unlock()
	return m.deactivateLocked(ctx, domain)
}

func (m *Manager) deactivateLocked(ctx context.Context, domain string) (store.Domain, error) {
	d, err := m.repo.GetDomain(ctx, domain)
	if err != nil {
		return store.Domain{}, err
	}
	if !d.IsActive {
		return d, nil
	}
	// an artifact that is already gone still leaves the domain inactive
	if err := m.proxy.Remove(ctx, domain); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		m.emit(ctx, history.EventDomainDeactivated, domain, nil, err)
		return store.Domain{}, err
	}
	d.IsActive = false
	if err := m.repo.SaveDomain(ctx, d); err != nil {
		return store.Domain{}, err
	}
	m.emit(ctx, history.EventDomainDeactivated, domain, nil, nil)
	return m.repo.GetDomain(ctx, domain)
}

// RemoveDomain deactivates an active domain, then deletes the record.
func (m *Manager) RemoveDomain(ctx context.Context, domain string) error {
	unlock := m.locks.Lock(store.DomainKey(domain))
	defer unlock()

	if _, err := m.deactivateLocked(ctx, domain); err != nil {
		return err
	}
	if err := m.repo.DeleteDomain(ctx, domain); err != nil {
		return err
	}
	m.emit(ctx, history.EventDomainRemoved, domain, nil, nil)
	return nil
}

// targetPort prefers the referenced application's current port.
func (m *Manager) targetPort(ctx context.Context, d store.Domain) (int, error) {
	if d.Application != "" {
		app, err := m.repo.GetApplication(ctx, d.Application)
		switch {
		case err == nil && app.Port > 0:
			return app.Port, nil
		case err != nil && !apperr.Is(err, apperr.KindNotFound):
			return 0, err
		}
	}
	if d.TargetPort > 0 {
		return d.TargetPort, nil
	}
	return 0, apperr.InvalidState("manager.activate_domain", d.Domain, "cannot activate domain without an associated application or target port")
}
