package main

import (
	"context"
	"log/slog"

	"github.com/loykin/vpsman"
	"github.com/loykin/vpsman/internal/logger"
	"github.com/loykin/vpsman/pkg/client"
)

// backend is the operation surface shared by the in-process manager and
// the HTTP client, so every command runs locally or remotely.
type backend interface {
	ListApplications(ctx context.Context) ([]client.Application, error)
	GetApplication(ctx context.Context, name string) (client.Application, error)
	CreateApplication(ctx context.Context, in client.ApplicationInput) (client.Application, error)
	UpdateApplication(ctx context.Context, name string, up client.ApplicationUpdate) (client.Application, error)
	StartApplication(ctx context.Context, name string) (client.Application, error)
	StopApplication(ctx context.Context, name string) (client.Application, error)
	RestartApplication(ctx context.Context, name string) (client.Application, error)
	RemoveApplication(ctx context.Context, name string) error
	ApplicationStatus(ctx context.Context, name string) (client.ApplicationStatus, error)
	Resources(ctx context.Context, name string) (client.Usage, error)

	ListDomains(ctx context.Context) ([]client.Domain, error)
	GetDomain(ctx context.Context, domain string) (client.Domain, error)
	CreateDomain(ctx context.Context, in client.DomainInput) (client.Domain, error)
	ActivateDomain(ctx context.Context, domain string) (client.Domain, error)
	DeactivateDomain(ctx context.Context, domain string) (client.Domain, error)
	RemoveDomain(ctx context.Context, domain string) error

	CreateReverseProxy(ctx context.Context, domain string, port int) error
	RemoveReverseProxy(ctx context.Context, domain string) error
	ListSites(ctx context.Context) ([]string, error)
	DetectExistingConfigs(ctx context.Context) ([]client.Site, error)
	DetectRunningApplications(ctx context.Context) ([]client.Listener, error)
	ImportDetectedConfigs(ctx context.Context) (client.ImportReport, error)
}

var (
	_ backend = (*vpsman.Manager)(nil)
	_ backend = (*client.Client)(nil)
)

// openLocal loads config, installs the logger and wires the components.
func openLocal(configPath string) (*vpsman.App, func(), error) {
	cfg, err := vpsman.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logCloser, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	app, err := vpsman.New(cfg)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, err
	}
	return app, func() {
		if err := app.Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
		_ = logCloser.Close()
	}, nil
}

// openBackend returns the daemon client when --api-url is set, otherwise
// an in-process manager built from --config.
func openBackend(flags *GlobalFlags) (backend, func(), error) {
	if flags.APIUrl != "" {
		c := client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
		return c, func() {}, nil
	}
	app, closeFn, err := openLocal(flags.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	return app.Manager(), closeFn, nil
}
