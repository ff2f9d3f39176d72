package store

import (
	"context"
	"strings"
	"time"

	"github.com/loykin/vpsman/internal/apperr"
)

// Application is a user-defined process managed by vpsman. Name is unique.
type Application struct {
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	Command     string            `json:"command"`
	Port        int               `json:"port"`
	IsRunning   bool              `json:"isRunning"`
	Environment map[string]string `json:"environment,omitempty"`
	// PID recorded at the last successful start; 0 when unknown.
	PID int `json:"pid,omitempty"`
	// Imported records were created by reconciliation with placeholder
	// path and command.
	Imported  bool      `json:"imported,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Domain routes a hostname to a local port. IsActive implies an enabled
// proxy artifact exists; inactive implies none.
type Domain struct {
	Domain         string    `json:"domain"`
	TargetPort     int       `json:"targetPort"`
	SSLCertificate string    `json:"sslCertificate,omitempty"`
	IsActive       bool      `json:"isActive"`
	Application    string    `json:"application,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
	UpdatedAt      time.Time `json:"updatedAt,omitzero"`
}

// Repository persists applications and domains. Save is an upsert by key:
// an existing entry is replaced in place, a new one is appended. Lists
// come back in insertion order.
type Repository interface {
	ListApplications(ctx context.Context) ([]Application, error)
	GetApplication(ctx context.Context, name string) (Application, error)
	SaveApplication(ctx context.Context, app Application) error
	DeleteApplication(ctx context.Context, name string) error

	ListDomains(ctx context.Context) ([]Domain, error)
	GetDomain(ctx context.Context, domain string) (Domain, error)
	SaveDomain(ctx context.Context, d Domain) error
	DeleteDomain(ctx context.Context, domain string) error

	Close() error
}

// Stamp sets UpdatedAt to now and CreatedAt to prev (or now when unset).
func Stamp(created *time.Time, updated *time.Time, prev time.Time) {
	now := time.Now().UTC()
	switch {
	case !prev.IsZero():
		*created = prev
	case created.IsZero():
		*created = now
	}
	*updated = now
}

func ValidateApplicationName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Invalid("store.validate", name, "application name is required")
	}
	if strings.ContainsAny(name, "/\\\x00") || name == "." || name == ".." {
		return apperr.Invalid("store.validate", name, "application name %q contains path characters", name)
	}
	return nil
}
