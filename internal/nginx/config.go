package nginx

// Config locates nginx site files and the commands that apply them.
// Paths are resolved once when the Store is built.
type Config struct {
	AvailableDir    string `mapstructure:"available_dir"`
	EnabledDir      string `mapstructure:"enabled_dir"`
	Suffix          string `mapstructure:"suffix"`
	ValidateCommand string `mapstructure:"validate_command"`
	ReloadCommand   string `mapstructure:"reload_command"`
	ListenPort      int    `mapstructure:"listen_port"`
	UpstreamHost    string `mapstructure:"upstream_host"`
	// Rollback compensates completed steps when a later step fails.
	// Off by default: the partial state is reported in *TransitionError.
	Rollback bool `mapstructure:"rollback"`
}

func DefaultConfig() Config {
	return Config{
		AvailableDir:    "/etc/nginx/sites-available",
		EnabledDir:      "/etc/nginx/sites-enabled",
		Suffix:          ".conf",
		ValidateCommand: "sudo nginx -t",
		ReloadCommand:   "sudo systemctl reload nginx",
		ListenPort:      80,
		UpstreamHost:    "localhost",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AvailableDir == "" {
		c.AvailableDir = d.AvailableDir
	}
	if c.EnabledDir == "" {
		c.EnabledDir = d.EnabledDir
	}
	if c.Suffix == "" {
		c.Suffix = d.Suffix
	}
	if c.ListenPort <= 0 {
		c.ListenPort = d.ListenPort
	}
	if c.UpstreamHost == "" {
		c.UpstreamHost = d.UpstreamHost
	}
	return c
}
