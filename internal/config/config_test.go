package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/etc/vps-manager", c.State.DSN)
	assert.Equal(t, "/etc/nginx/sites-available", c.Nginx.AvailableDir)
	assert.Equal(t, "/etc/nginx/sites-enabled", c.Nginx.EnabledDir)
	assert.Equal(t, "sudo nginx -t", c.Nginx.ValidateCommand)
	assert.Equal(t, "sudo systemctl reload nginx", c.Nginx.ReloadCommand)
	assert.Equal(t, 3000, c.Ports.Start)
	assert.Equal(t, "native", c.Ports.Probe)
	assert.Equal(t, 30*time.Second, c.Commands.Timeout)
	assert.False(t, c.Nginx.Rollback)
	assert.Empty(t, c.Reconcile.Schedule)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.env", "# comment\nexport DB_URL=\"postgres://db\"\nEMPTY=\n\nbroken line\n")
	path := writeFile(t, dir, "vpsman.toml", `
env = ["NODE_ENV=production"]
env_files = ["app.env"]

[state]
dsn = "sqlite:///var/lib/vpsman/state.db"

[nginx]
available_dir = "/opt/nginx/available"
enabled_dir = "/opt/nginx/enabled"
validate_command = "nginx -t"
rollback = true

[ports]
start = 4000
probe = "netstat"

[process]
stop_timeout = "3s"
start_duration = "500ms"

[process.log]
dir = "/tmp/vpsman-logs"
max_size_mb = 5

[commands]
timeout = "0s"

[history]
dsns = ["sqlite:///tmp/history.db", "opensearch://search:9200/vpsman"]

[reconcile]
schedule = "@every 5m"
watch = true
debounce = "2s"

[log]
level = "debug"
format = "json"
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///var/lib/vpsman/state.db", c.State.DSN)
	assert.Equal(t, "/opt/nginx/available", c.Nginx.AvailableDir)
	assert.Equal(t, "nginx -t", c.Nginx.ValidateCommand)
	assert.Equal(t, "sudo systemctl reload nginx", c.Nginx.ReloadCommand, "unset keys keep defaults")
	assert.True(t, c.Nginx.Rollback)
	assert.Equal(t, 4000, c.Ports.Start)
	assert.Equal(t, "netstat", c.Ports.Probe)
	assert.Equal(t, 3*time.Second, c.Process.StopTimeout)
	assert.Equal(t, 500*time.Millisecond, c.Process.StartDuration)
	assert.Equal(t, "/tmp/vpsman-logs", c.Process.Log.Dir)
	assert.Equal(t, 5, c.Process.Log.MaxSizeMB)
	assert.Zero(t, c.Commands.Timeout)
	assert.Len(t, c.History.DSNs, 2)
	assert.Equal(t, "@every 5m", c.Reconcile.Schedule)
	assert.True(t, c.Reconcile.Watch)
	assert.Equal(t, 2*time.Second, c.Reconcile.Debounce)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, filepath.Join(dir, "app.env"), c.EnvFiles[0])

	env, err := c.GlobalEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"DB_URL=postgres://db", "EMPTY=", "NODE_ENV=production"}, env)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("VPSMAN_NGINX_ENABLED_DIR", "/srv/enabled")
	t.Setenv("VPSMAN_PORTS_START", "5000")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/enabled", c.Nginx.EnabledDir)
	assert.Equal(t, 5000, c.Ports.Start)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.toml", `
[ports]
start = 70000
probe = "ss"

[reconcile]
schedule = "*/5 * * * *"

[log]
level = "loud"
`)
	_, err := Load(path)
	require.Error(t, err)
	for _, want := range []string{"ports.start", "ports.probe", "reconcile.schedule", "log.level"} {
		assert.True(t, strings.Contains(err.Error(), want), "missing %q in %v", want, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestGlobalEnvMissingFile(t *testing.T) {
	c := Default()
	c.EnvFiles = []string{filepath.Join(t.TempDir(), "missing.env")}
	_, err := c.GlobalEnv()
	assert.Error(t, err)
}

func TestGlobalEnvUsesOSEnv(t *testing.T) {
	t.Setenv("VPSMAN_TEST_MARKER", "1")
	c := Default()
	c.UseOSEnv = true
	env, err := c.GlobalEnv()
	require.NoError(t, err)
	assert.Contains(t, env, "VPSMAN_TEST_MARKER=1")
}
