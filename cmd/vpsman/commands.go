package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/vpsman/pkg/client"
)

// withBackend opens the backend, runs fn and prints its result as JSON.
func withBackend(cmd *cobra.Command, flags *GlobalFlags, fn func(ctx context.Context, b backend) (any, error)) error {
	b, closeFn, err := openBackend(flags)
	if err != nil {
		return err
	}
	defer closeFn()
	out, err := fn(commandContext(cmd), b)
	if err != nil {
		return err
	}
	if out != nil {
		return printJSON(cmd.OutOrStdout(), out)
	}
	return nil
}

// AppCreateFlags holds flags for app create and app update.
type AppCreateFlags struct {
	Name    string
	Path    string
	Command string
	Port    int
	Env     []string
}

func createAppCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage applications",
	}
	cmd.AddCommand(
		createAppCreateCommand(flags),
		createAppUpdateCommand(flags),
		nameCommand(flags, "list", "List applications", false, func(ctx context.Context, b backend, _ string) (any, error) {
			return b.ListApplications(ctx)
		}),
		nameCommand(flags, "get", "Show an application", true, func(ctx context.Context, b backend, name string) (any, error) {
			return b.GetApplication(ctx, name)
		}),
		nameCommand(flags, "start", "Start an application", true, func(ctx context.Context, b backend, name string) (any, error) {
			return b.StartApplication(ctx, name)
		}),
		nameCommand(flags, "stop", "Stop an application", true, func(ctx context.Context, b backend, name string) (any, error) {
			return b.StopApplication(ctx, name)
		}),
		nameCommand(flags, "restart", "Restart an application", true, func(ctx context.Context, b backend, name string) (any, error) {
			return b.RestartApplication(ctx, name)
		}),
		nameCommand(flags, "status", "Show persisted state and process liveness", true, func(ctx context.Context, b backend, name string) (any, error) {
			return b.ApplicationStatus(ctx, name)
		}),
		nameCommand(flags, "resources", "Sample CPU and memory of a running application", true, func(ctx context.Context, b backend, name string) (any, error) {
			return b.Resources(ctx, name)
		}),
		nameCommand(flags, "remove", "Stop (if running) and delete an application", true, func(ctx context.Context, b backend, name string) (any, error) {
			return nil, b.RemoveApplication(ctx, name)
		}),
	)
	return cmd
}

func createAppCreateCommand(flags *GlobalFlags) *cobra.Command {
	f := &AppCreateFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an application",
		Long: `Register an application. A port of 0, or one that is already in use,
is replaced by the first free port from ports.start upward.

Examples:
  vpsman app create --name worker --path /srv/worker --command "node worker.js"
  vpsman app create --name api --path /srv/api --command "npm start" --port 4000 --env NODE_ENV=production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvPairs(f.Env)
			if err != nil {
				return err
			}
			return withBackend(cmd, flags, func(ctx context.Context, b backend) (any, error) {
				return b.CreateApplication(ctx, client.ApplicationInput{
					Name:        f.Name,
					Path:        f.Path,
					Command:     f.Command,
					Port:        f.Port,
					Environment: env,
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "application name (required)")
	cmd.Flags().StringVar(&f.Path, "path", "", "working directory (required)")
	cmd.Flags().StringVar(&f.Command, "command", "", "shell command to run (required)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "port to use (0 = allocate)")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "KEY=VALUE environment entry (repeatable)")
	for _, name := range []string{"name", "path", "command"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}

func createAppUpdateCommand(flags *GlobalFlags) *cobra.Command {
	f := &AppCreateFlags{}
	cmd := &cobra.Command{
		Use:   "update NAME",
		Short: "Change path, command, port or environment of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var up client.ApplicationUpdate
			if cmd.Flags().Changed("path") {
				up.Path = &f.Path
			}
			if cmd.Flags().Changed("command") {
				up.Command = &f.Command
			}
			if cmd.Flags().Changed("port") {
				up.Port = &f.Port
			}
			if cmd.Flags().Changed("env") {
				env, err := parseEnvPairs(f.Env)
				if err != nil {
					return err
				}
				up.Environment = env
			}
			return withBackend(cmd, flags, func(ctx context.Context, b backend) (any, error) {
				return b.UpdateApplication(ctx, args[0], up)
			})
		},
	}
	cmd.Flags().StringVar(&f.Path, "path", "", "working directory")
	cmd.Flags().StringVar(&f.Command, "command", "", "shell command to run")
	cmd.Flags().IntVar(&f.Port, "port", 0, "port (0 or busy = allocate)")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "KEY=VALUE environment entry (repeatable, replaces all)")
	return cmd
}

// DomainCreateFlags holds flags for domain create.
type DomainCreateFlags struct {
	Domain         string
	Port           int
	Application    string
	SSLCertificate string
}

func createDomainCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Manage domains and their activation",
	}
	cmd.AddCommand(
		createDomainCreateCommand(flags),
		nameCommand(flags, "list", "List domains", false, func(ctx context.Context, b backend, _ string) (any, error) {
			return b.ListDomains(ctx)
		}),
		nameCommand(flags, "get", "Show a domain", true, func(ctx context.Context, b backend, d string) (any, error) {
			return b.GetDomain(ctx, d)
		}),
		nameCommand(flags, "activate", "Publish a domain through nginx", true, func(ctx context.Context, b backend, d string) (any, error) {
			return b.ActivateDomain(ctx, d)
		}),
		nameCommand(flags, "deactivate", "Withdraw a domain's nginx config", true, func(ctx context.Context, b backend, d string) (any, error) {
			return b.DeactivateDomain(ctx, d)
		}),
		nameCommand(flags, "remove", "Deactivate (if active) and delete a domain", true, func(ctx context.Context, b backend, d string) (any, error) {
			return nil, b.RemoveDomain(ctx, d)
		}),
	)
	return cmd
}

func createDomainCreateCommand(flags *GlobalFlags) *cobra.Command {
	f := &DomainCreateFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an inactive domain",
		Long: `Register a domain. It stays inactive until "domain activate".
With --app the target port follows the application's port.

Examples:
  vpsman domain create --domain api.example.com --app api
  vpsman domain create --domain static.example.com --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, flags, func(ctx context.Context, b backend) (any, error) {
				return b.CreateDomain(ctx, client.DomainInput{
					Domain:         f.Domain,
					TargetPort:     f.Port,
					Application:    f.Application,
					SSLCertificate: f.SSLCertificate,
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Domain, "domain", "", "hostname (required)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "target port")
	cmd.Flags().StringVar(&f.Application, "app", "", "application the domain fronts")
	cmd.Flags().StringVar(&f.SSLCertificate, "ssl-cert", "", "certificate reference (stored, not issued)")
	if err := cmd.MarkFlagRequired("domain"); err != nil {
		panic(err)
	}
	return cmd
}

func createProxyCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Work with nginx reverse-proxy configs directly",
	}
	var port int
	create := &cobra.Command{
		Use:   "create DOMAIN",
		Short: "Write, enable, validate and reload a reverse proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, flags, func(ctx context.Context, b backend) (any, error) {
				if err := b.CreateReverseProxy(ctx, args[0], port); err != nil {
					return nil, err
				}
				return map[string]any{"domain": args[0], "port": port}, nil
			})
		},
	}
	create.Flags().IntVar(&port, "port", 0, "upstream port on localhost (required)")
	if err := create.MarkFlagRequired("port"); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		create,
		nameCommand(flags, "remove", "Unlink and delete a reverse proxy, then reload", true, func(ctx context.Context, b backend, d string) (any, error) {
			return nil, b.RemoveReverseProxy(ctx, d)
		}),
		nameCommand(flags, "sites", "List enabled sites", false, func(ctx context.Context, b backend, _ string) (any, error) {
			return b.ListSites(ctx)
		}),
		nameCommand(flags, "detect-configs", "Parse enabled configs into domain/port pairs", false, func(ctx context.Context, b backend, _ string) (any, error) {
			return b.DetectExistingConfigs(ctx)
		}),
		nameCommand(flags, "detect-apps", "List processes listening above port 1024", false, func(ctx context.Context, b backend, _ string) (any, error) {
			return b.DetectRunningApplications(ctx)
		}),
		nameCommand(flags, "import", "Adopt detected configs and listeners into state", false, func(ctx context.Context, b backend, _ string) (any, error) {
			return b.ImportDetectedConfigs(ctx)
		}),
	)
	return cmd
}

// nameCommand builds a leaf command that takes either no argument or one
// NAME/DOMAIN argument.
func nameCommand(flags *GlobalFlags, use, short string, takesName bool, fn func(ctx context.Context, b backend, name string) (any, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return withBackend(cmd, flags, func(ctx context.Context, b backend) (any, error) {
				return fn(ctx, b, name)
			})
		},
	}
	if takesName {
		cmd.Use = fmt.Sprintf("%s NAME", use)
		cmd.Args = cobra.ExactArgs(1)
	}
	return cmd
}
