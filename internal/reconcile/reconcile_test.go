package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/nginx"
	"github.com/loykin/vpsman/internal/portprobe"
	"github.com/loykin/vpsman/internal/store"
	"github.com/loykin/vpsman/internal/store/jsonfile"
)

type staticConfigs struct {
	sites []nginx.Site
	err   error
}

func (s *staticConfigs) DetectExisting(context.Context) ([]nginx.Site, error) { return s.sites, s.err }

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	r, err := jsonfile.New(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestImportCreatesThenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	configs := &staticConfigs{sites: []nginx.Site{
		{Domain: "a.example.com", TargetPort: 3000},
		{Domain: "b.example.com", TargetPort: 4000},
	}}
	prober := portprobe.NewStatic([]portprobe.Listener{
		{Name: "sshd", Port: 22, PID: 1},
		{Name: "node", Port: 3000, PID: 10},
		{Name: "python3", Port: 8000, PID: 11},
	})
	im := New(configs, prober, repo, nil)

	rep, err := im.Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, rep.Domains.Created)
	assert.Equal(t, []string{"node", "python3"}, rep.Applications.Created)
	assert.Empty(t, rep.Applications.Updated)

	node, err := repo.GetApplication(ctx, "node")
	require.NoError(t, err)
	assert.Equal(t, PlaceholderPath, node.Path)
	assert.Equal(t, PlaceholderCommand, node.Command)
	assert.True(t, node.IsRunning)
	assert.True(t, node.Imported)
	assert.Equal(t, 10, node.PID)

	dom, err := repo.GetDomain(ctx, "b.example.com")
	require.NoError(t, err)
	assert.True(t, dom.IsActive)
	assert.Equal(t, 4000, dom.TargetPort)

	rep, err = im.Import(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Domains.Created)
	assert.Empty(t, rep.Applications.Created)
	assert.Equal(t, 2, rep.Domains.Total())

	apps, err := repo.ListApplications(ctx)
	require.NoError(t, err)
	assert.Len(t, apps, 2)
	doms, err := repo.ListDomains(ctx)
	require.NoError(t, err)
	assert.Len(t, doms, 2)
}

func TestImportPreservesExistingRecords(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.SaveApplication(ctx, store.Application{
		Name: "node", Path: "/srv/api", Command: "node server.js", Port: 3000,
		Environment: map[string]string{"NODE_ENV": "production"},
	}))
	require.NoError(t, repo.SaveDomain(ctx, store.Domain{
		Domain: "a.example.com", TargetPort: 3000, SSLCertificate: "cert-a", Application: "node",
	}))

	im := New(&staticConfigs{sites: []nginx.Site{{Domain: "a.example.com", TargetPort: 3100}}},
		portprobe.NewStatic([]portprobe.Listener{{Name: "node", Port: 3100, PID: 55}}), repo, nil)
	rep, err := im.Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"node"}, rep.Applications.Updated)
	assert.Equal(t, []string{"a.example.com"}, rep.Domains.Updated)

	app, err := repo.GetApplication(ctx, "node")
	require.NoError(t, err)
	assert.Equal(t, "/srv/api", app.Path)
	assert.Equal(t, "node server.js", app.Command)
	assert.Equal(t, "production", app.Environment["NODE_ENV"])
	assert.Equal(t, 3100, app.Port)
	assert.False(t, app.Imported)

	dom, err := repo.GetDomain(ctx, "a.example.com")
	require.NoError(t, err)
	assert.Equal(t, "cert-a", dom.SSLCertificate)
	assert.Equal(t, "node", dom.Application)
	assert.Equal(t, 3100, dom.TargetPort)
	assert.True(t, dom.IsActive)
}

func TestDetectApplicationsCollapsesByName(t *testing.T) {
	im := New(&staticConfigs{}, portprobe.NewStatic([]portprobe.Listener{
		{Name: "node", Port: 3001, PID: 2},
		{Name: "node", Port: 3000, PID: 1},
		{Name: "java", Port: 8080, PID: 3},
	}), newRepo(t), nil)
	ls, err := im.DetectApplications(context.Background())
	require.NoError(t, err)
	require.Len(t, ls, 2)
	assert.Equal(t, portprobe.Listener{Name: "node", Port: 3000, PID: 1}, ls[0])
	assert.Equal(t, "java", ls[1].Name)
}

func TestImportDetectionFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	prober := portprobe.NewStatic([]portprobe.Listener{{Name: "node", Port: 3000}})
	prober.FailWith(apperr.Command("portprobe.netstat", "", errors.New("exit status 1"), nil))
	im := New(&staticConfigs{sites: []nginx.Site{{Domain: "a.example.com", TargetPort: 3000}}}, prober, repo, nil)

	_, err := im.Import(ctx)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternalCommand))
	doms, err := repo.ListDomains(ctx)
	require.NoError(t, err)
	assert.Empty(t, doms)
}

func TestImportFromRealNginxStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := nginx.DefaultConfig()
	cfg.AvailableDir = filepath.Join(dir, "available")
	cfg.EnabledDir = filepath.Join(dir, "enabled")
	cfg.ValidateCommand = ""
	cfg.ReloadCommand = ""
	ng := nginx.New(cfg, nil)
	require.NoError(t, ng.Create(ctx, "api.example.com", 4000))
	// a hand-written site for a static host is skipped
	require.NoError(t, os.WriteFile(filepath.Join(cfg.EnabledDir, "static.conf"), []byte("server { root /var/www; }"), 0o644))

	repo := newRepo(t)
	rep, err := New(ng, portprobe.NewStatic(nil), repo, nil).Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api.example.com"}, rep.Domains.Created)
	dom, err := repo.GetDomain(ctx, "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, 4000, dom.TargetPort)
}
