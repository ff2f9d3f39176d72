package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/vpsman/internal/cron"
	"github.com/loykin/vpsman/internal/logger"
	"github.com/loykin/vpsman/internal/metrics"
	"github.com/loykin/vpsman/internal/nginx"
	"github.com/loykin/vpsman/internal/portalloc"
)

// EnvPrefix namespaces environment overrides, e.g. VPSMAN_NGINX_ENABLED_DIR.
const EnvPrefix = "VPSMAN"

// Config is the top-level TOML document.
type Config struct {
	// Global process environment: OS env (when UseOSEnv), then env files in
	// order, then Env entries.
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	State     StateConfig         `mapstructure:"state"`
	Nginx     nginx.Config        `mapstructure:"nginx"`
	Ports     PortsConfig         `mapstructure:"ports"`
	Process   ProcessConfig       `mapstructure:"process"`
	Commands  CommandsConfig      `mapstructure:"commands"`
	Server    ServerConfig        `mapstructure:"server"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	History   HistoryConfig       `mapstructure:"history"`
	Reconcile ReconcileConfig     `mapstructure:"reconcile"`
	Log       logger.DaemonConfig `mapstructure:"log"`
}

type StateConfig struct {
	// DSN selects the repository: a directory (JSON documents),
	// sqlite://path, or postgres://...
	DSN string `mapstructure:"dsn"`
}

type PortsConfig struct {
	Start int `mapstructure:"start"`
	// Probe is "native" (socket table) or "netstat".
	Probe          string `mapstructure:"probe"`
	NetstatCommand string `mapstructure:"netstat_command"`
}

type ProcessConfig struct {
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	StartDuration time.Duration `mapstructure:"start_duration"`
	Log           logger.Config `mapstructure:"log"`
}

type CommandsConfig struct {
	// Timeout bounds every external command; 0 disables it.
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled   bool                    `mapstructure:"enabled"`
	Listen    string                  `mapstructure:"listen"`
	Resources metrics.ResourcesConfig `mapstructure:"resources"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
	// MemoryLimit keeps recent events in process when no DSN is set.
	MemoryLimit int `mapstructure:"memory_limit"`
}

type ReconcileConfig struct {
	// Schedule is "@every <duration>"; empty disables periodic import.
	Schedule string        `mapstructure:"schedule"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// Default reproduces the paths and commands of a stock Debian/Ubuntu host.
func Default() Config {
	return Config{
		State:     StateConfig{DSN: "/etc/vps-manager"},
		Nginx:     nginx.DefaultConfig(),
		Ports:     PortsConfig{Start: portalloc.DefaultStart, Probe: "native", NetstatCommand: "netstat -tulpn"},
		Process:   ProcessConfig{StopTimeout: 10 * time.Second, Log: logger.Config{Dir: "/var/log/vpsman", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7}},
		Commands:  CommandsConfig{Timeout: 30 * time.Second},
		Server:    ServerConfig{Listen: "127.0.0.1:8787", BasePath: "/"},
		Metrics:   MetricsConfig{Listen: ":9090", Resources: metrics.ResourcesConfig{Interval: 15 * time.Second}},
		History:   HistoryConfig{MemoryLimit: 1000},
		Reconcile: ReconcileConfig{Debounce: 500 * time.Millisecond},
		Log:       logger.DaemonConfig{Level: "info", Format: "text"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("state.dsn", d.State.DSN)
	v.SetDefault("nginx.available_dir", d.Nginx.AvailableDir)
	v.SetDefault("nginx.enabled_dir", d.Nginx.EnabledDir)
	v.SetDefault("nginx.suffix", d.Nginx.Suffix)
	v.SetDefault("nginx.validate_command", d.Nginx.ValidateCommand)
	v.SetDefault("nginx.reload_command", d.Nginx.ReloadCommand)
	v.SetDefault("nginx.listen_port", d.Nginx.ListenPort)
	v.SetDefault("nginx.upstream_host", d.Nginx.UpstreamHost)
	v.SetDefault("nginx.rollback", d.Nginx.Rollback)
	v.SetDefault("ports.start", d.Ports.Start)
	v.SetDefault("ports.probe", d.Ports.Probe)
	v.SetDefault("ports.netstat_command", d.Ports.NetstatCommand)
	v.SetDefault("process.stop_timeout", d.Process.StopTimeout)
	v.SetDefault("process.start_duration", d.Process.StartDuration)
	v.SetDefault("process.log.dir", d.Process.Log.Dir)
	v.SetDefault("process.log.max_size_mb", d.Process.Log.MaxSizeMB)
	v.SetDefault("process.log.max_backups", d.Process.Log.MaxBackups)
	v.SetDefault("process.log.max_age_days", d.Process.Log.MaxAgeDays)
	v.SetDefault("commands.timeout", d.Commands.Timeout)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.resources.enabled", d.Metrics.Resources.Enabled)
	v.SetDefault("metrics.resources.interval", d.Metrics.Resources.Interval)
	v.SetDefault("history.dsns", d.History.DSNs)
	v.SetDefault("history.memory_limit", d.History.MemoryLimit)
	v.SetDefault("reconcile.schedule", d.Reconcile.Schedule)
	v.SetDefault("reconcile.watch", d.Reconcile.Watch)
	v.SetDefault("reconcile.debounce", d.Reconcile.Debounce)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

// Load reads the TOML file at path (optional: "" means defaults plus env
// overrides) and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" {
		c.resolvePaths(filepath.Dir(path))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolvePaths makes relative env files relative to the config file.
func (c *Config) resolvePaths(base string) {
	for i, p := range c.EnvFiles {
		if p != "" && !filepath.IsAbs(p) {
			c.EnvFiles[i] = filepath.Join(base, p)
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.State.DSN) == "" {
		errs = append(errs, errors.New("state.dsn is required"))
	}
	if c.Ports.Start <= 0 || c.Ports.Start > portalloc.MaxPort {
		errs = append(errs, fmt.Errorf("ports.start %d out of range", c.Ports.Start))
	}
	switch c.Ports.Probe {
	case "native", "netstat":
	default:
		errs = append(errs, fmt.Errorf("ports.probe must be native or netstat, got %q", c.Ports.Probe))
	}
	if c.Nginx.AvailableDir == "" || c.Nginx.EnabledDir == "" {
		errs = append(errs, errors.New("nginx.available_dir and nginx.enabled_dir are required"))
	}
	if c.Commands.Timeout < 0 {
		errs = append(errs, errors.New("commands.timeout must be >= 0"))
	}
	if c.Reconcile.Schedule != "" {
		if _, err := cron.ParseEvery(c.Reconcile.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("reconcile.schedule: %w", err))
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// GlobalEnv merges the process environment layers. Precedence: OS env
// (when enabled) provides the base, then env files in order, then the
// top-level env list.
func (c *Config) GlobalEnv() ([]string, error) {
	out := make([]string, 0)
	if c.UseOSEnv {
		out = append(out, os.Environ()...)
	}
	for _, p := range c.EnvFiles {
		kvs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		out = append(out, kvs...)
	}
	return append(out, c.Env...), nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in
// file order. Blank lines and lines starting with # are ignored; an
// optional "export " prefix and one pair of surrounding quotes are removed.
func LoadEnvFile(path string) ([]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		val := strings.TrimSpace(line[i+1:])
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		out = append(out, k+"="+val)
	}
	return out, nil
}
