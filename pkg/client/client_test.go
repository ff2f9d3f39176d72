package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/manager"
	"github.com/loykin/vpsman/internal/nginx"
	"github.com/loykin/vpsman/internal/portprobe"
	"github.com/loykin/vpsman/internal/process"
	"github.com/loykin/vpsman/internal/server"
	"github.com/loykin/vpsman/internal/store/jsonfile"
)

type procs struct {
	mu      sync.Mutex
	next    int
	running map[int]bool
}

func (p *procs) Start(_ context.Context, _ process.Spec) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.running[p.next] = true
	return p.next, nil
}

func (p *procs) Stop(_ context.Context, spec process.Spec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running[spec.PID] {
		return apperr.NotFound("process.stop", spec.Name)
	}
	delete(p.running, spec.PID)
	return nil
}

func (p *procs) Inspect(_ context.Context, spec process.Spec) process.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return process.Status{Name: spec.Name, PID: spec.PID, Running: p.running[spec.PID]}
}

type okRunner struct{ fail string }

func (r okRunner) Run(_ context.Context, cmdline string) ([]byte, error) {
	if r.fail != "" && cmdline == r.fail {
		return []byte("emerg"), errors.New("exit status 1")
	}
	return nil, nil
}

func newDaemon(t *testing.T, runner okRunner) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	repo, err := jsonfile.New(filepath.Join(dir, "state"))
	require.NoError(t, err)
	cfg := nginx.DefaultConfig()
	cfg.AvailableDir = filepath.Join(dir, "available")
	cfg.EnabledDir = filepath.Join(dir, "enabled")
	mgr, err := manager.New(manager.Options{
		Repository: repo,
		Prober:     portprobe.NewStatic([]portprobe.Listener{{Name: "python3", Port: 8000, PID: 9}}, 3000),
		Processes:  &procs{running: map[int]bool{}},
		Proxy:      nginx.New(cfg, runner),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewRouter(mgr, "/api").Handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL + "/api/"})
}

func TestClientApplications(t *testing.T) {
	c := newDaemon(t, okRunner{})
	ctx := context.Background()
	require.True(t, c.IsReachable(ctx))

	app, err := c.CreateApplication(ctx, ApplicationInput{Name: "worker", Path: t.TempDir(), Command: "node worker.js"})
	require.NoError(t, err)
	assert.Equal(t, 3001, app.Port)

	app, err = c.StartApplication(ctx, "worker")
	require.NoError(t, err)
	assert.True(t, app.IsRunning)

	st, err := c.ApplicationStatus(ctx, "worker")
	require.NoError(t, err)
	assert.True(t, st.Process.Running)

	port := 4500
	app, err = c.UpdateApplication(ctx, "worker", ApplicationUpdate{Port: &port})
	require.NoError(t, err)
	assert.Equal(t, 4500, app.Port)

	app, err = c.RestartApplication(ctx, "worker")
	require.NoError(t, err)
	assert.True(t, app.IsRunning)

	_, err = c.StopApplication(ctx, "worker")
	require.NoError(t, err)

	apps, err := c.ListApplications(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.False(t, apps[0].IsRunning)

	_, err = c.CreateApplication(ctx, ApplicationInput{Name: "worker", Path: t.TempDir(), Command: "x"})
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, c.RemoveApplication(ctx, "worker"))
	_, err = c.GetApplication(ctx, "worker")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestClientDomainsAndProxy(t *testing.T) {
	c := newDaemon(t, okRunner{})
	ctx := context.Background()

	_, err := c.CreateApplication(ctx, ApplicationInput{Name: "api", Path: t.TempDir(), Command: "node api.js", Port: 4000})
	require.NoError(t, err)
	d, err := c.CreateDomain(ctx, DomainInput{Domain: "api.example.com", Application: "api"})
	require.NoError(t, err)
	assert.Equal(t, 4000, d.TargetPort)
	assert.False(t, d.IsActive)

	d, err = c.ActivateDomain(ctx, "api.example.com")
	require.NoError(t, err)
	assert.True(t, d.IsActive)

	sites, err := c.ListSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api.example.com.conf"}, sites)

	found, err := c.DetectExistingConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 4000, found[0].TargetPort)

	d, err = c.DeactivateDomain(ctx, "api.example.com")
	require.NoError(t, err)
	assert.False(t, d.IsActive)
	require.NoError(t, c.RemoveDomain(ctx, "api.example.com"))

	ds, err := c.ListDomains(ctx)
	require.NoError(t, err)
	assert.Empty(t, ds)

	require.NoError(t, c.CreateReverseProxy(ctx, "static.example.com", 8000))
	require.NoError(t, c.RemoveReverseProxy(ctx, "static.example.com"))
	assert.ErrorIs(t, c.RemoveReverseProxy(ctx, "static.example.com"), ErrNotFound)
}

func TestClientImport(t *testing.T) {
	c := newDaemon(t, okRunner{})
	ctx := context.Background()
	require.NoError(t, c.CreateReverseProxy(ctx, "py.example.com", 8000))

	ls, err := c.DetectRunningApplications(ctx)
	require.NoError(t, err)
	require.Len(t, ls, 1)
	assert.Equal(t, "python3", ls[0].Name)

	rep, err := c.ImportDetectedConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"py.example.com"}, rep.Domains.Created)
	assert.Equal(t, []string{"python3"}, rep.Applications.Created)

	rep, err = c.ImportDetectedConfigs(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Domains.Created)
	assert.Empty(t, rep.Applications.Created)
}

func TestClientProxyStepError(t *testing.T) {
	c := newDaemon(t, okRunner{fail: nginx.DefaultConfig().ReloadCommand})
	err := c.CreateReverseProxy(context.Background(), "api.example.com", 4000)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, string(nginx.StepReload), apiErr.Step)
	assert.ErrorIs(t, err, ErrExternalCommand)
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.ListApplications(context.Background())
	assert.Error(t, err)
}

func TestSetupClientTLS(t *testing.T) {
	cfg, err := setupClientTLS(Config{Insecure: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	cfg, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, ServerName: "vps.local", SkipVerify: true}})
	require.NoError(t, err)
	assert.Equal(t, "vps.local", cfg.ServerName)

	_, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, CACert: filepath.Join(t.TempDir(), "missing.pem")}})
	assert.Error(t, err)
}
