package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	// API connection; empty APIUrl means run against local state
	APIUrl     string
	APITimeout time.Duration
}

// buildRoot creates the root command with all subcommands attached.
func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "vpsman",
		Short: "Manage applications, ports and nginx reverse proxies on a VPS",
		Long: `vpsman registers applications, assigns free ports, starts and stops
their processes, and publishes them through nginx reverse proxies.

Every command works on local state (built from --config) or against a
running daemon with --api-url.

Examples:
  vpsman serve --config /etc/vpsman/config.toml
  vpsman app create --name api --path /srv/api --command "node server.js"
  vpsman domain create --domain api.example.com --app api
  vpsman domain activate api.example.com
  vpsman proxy import --api-url http://127.0.0.1:8787`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8787)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 60*time.Second, "daemon request timeout")

	root.AddCommand(
		createServeCommand(flags),
		createAppCommand(flags),
		createDomainCommand(flags),
		createProxyCommand(flags),
	)
	return root
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the vpsman daemon",
		Long: `Start the HTTP API. Depending on the config the daemon also serves
Prometheus metrics, imports detected state on a schedule and watches the
nginx enabled directory for drift.

Examples:
  vpsman serve
  vpsman serve /etc/vpsman/config.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			app, closeFn, err := openLocal(path)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx)
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
