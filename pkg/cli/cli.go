// Package cli builds the bucketstore command line.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/bucketstore/pkg/api"
	"github.com/nimburion/bucketstore/pkg/config"
	"github.com/nimburion/bucketstore/pkg/health"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/observability/metrics"
	"github.com/nimburion/bucketstore/pkg/resilience"
	"github.com/nimburion/bucketstore/pkg/server"
	"github.com/nimburion/bucketstore/pkg/server/router"
	"github.com/nimburion/bucketstore/pkg/service"
	"github.com/nimburion/bucketstore/pkg/store"
	"github.com/nimburion/bucketstore/pkg/version"
)

// OpenBackendFunc opens the configured storage.
type OpenBackendFunc func(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (*store.Backend, error)

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// OpenBackend defaults to store.Open.
	OpenBackend OpenBackendFunc
}

// NewRootCommand creates the CLI with serve, migrate, healthcheck, config
// and version subcommands. Running the root command without a subcommand
// serves.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "bucketstore"
	}
	if opts.OpenBackend == nil {
		opts.OpenBackend = store.Open
	}

	root := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cfgPath := opts.ConfigPath
	root.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", cfgPath, "config file path")

	load := func() (*config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(cfgPath, opts.EnvPrefix)
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the API and management servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, cfg, log, opts.OpenBackend)
		},
	}
	root.RunE = serve.RunE

	var output string
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			case "yaml":
				return yaml.NewEncoder(out).Encode(info)
			case "text", "":
				_, err := fmt.Fprintln(out, info.String())
				return err
			default:
				return fmt.Errorf("unsupported output %q (text, json, yaml)", output)
			}
		},
	}
	versionCmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables, indexes and collections of the configured storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			cfg.Storage.AutoMigrate = true
			backend, err := opts.OpenBackend(cmd.Context(), cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Storage.Driver, err)
			}
			defer backend.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "storage %s is up to date\n", backend.Driver)
			return nil
		},
	}

	healthcheck := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the configured storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			backend, err := opts.OpenBackend(cmd.Context(), cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer backend.Close()

			res := storageChecker(cfg, backend).Check(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s\n", res.Name, backend.Driver, res.Status)
			if res.Status == health.StatusUnhealthy {
				return fmt.Errorf("storage unhealthy: %s", res.Error)
			}
			return nil
		},
	}

	root.AddCommand(serve, versionCmd, migrate, healthcheck, newConfigCommand(load, &cfgPath, opts.EnvPrefix))
	return root
}

func newConfigCommand(load func() (*config.Config, logger.Logger, error), cfgPath *string, envPrefix string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg.Redacted()); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.NewViperLoader(*cfgPath, envPrefix).Load(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})
	return cmd
}

// LoadConfigAndLogger loads the configuration and builds the logger it
// describes.
func LoadConfigAndLogger(cfgPath, envPrefix string) (*config.Config, logger.Logger, error) {
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).Load()
	if err != nil {
		return nil, nil, err
	}
	level, err := logger.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	format, err := logger.ParseLogFormat(cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log.With("service", cfg.Service.Name), nil
}

// Serve opens the storage, wires the bucket API and runs the servers until
// ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config, log logger.Logger, open OpenBackendFunc) error {
	backend, err := open(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	svc := service.New(service.Options{
		Buckets:      backend.Buckets,
		BucketReader: backend.BucketReader,
		Items:        backend.Items,
		Tx:           backend.Tx,
		Limits:       service.Limits{Default: cfg.Query.DefaultLimit, Max: cfg.Query.MaxLimit},
		Logger:       log,
	})
	handler := api.NewHandler(svc, log)

	healthRegistry := health.NewRegistry()
	healthRegistry.Register(storageChecker(cfg, backend))
	if backend.Breaker != nil {
		healthRegistry.RegisterFunc("storage_circuit", circuitCheck(backend.Breaker))
	}

	metricsRegistry := metrics.NewRegistry()
	if pool, ok := backend.Adapter.(interface{ DB() *sql.DB }); ok {
		if err := metricsRegistry.RegisterDBStats(pool.DB()); err != nil {
			return errors.Join(fmt.Errorf("register pool metrics: %w", err), backend.Close())
		}
	}

	opts := &server.RunOptions{
		Config:          cfg,
		Logger:          log,
		HealthRegistry:  healthRegistry,
		MetricsRegistry: metricsRegistry,
		Routes:          func(r router.Router) { handler.Register(r) },
		ShutdownHooks: []server.LifecycleHook{{
			Name: "close storage",
			Fn:   func(context.Context) error { return backend.Close() },
		}},
	}
	servers, err := server.BuildHTTPServers(opts)
	if err != nil {
		return errors.Join(err, backend.Close())
	}
	return server.RunHTTPServers(ctx, servers, opts)
}

// circuitCheck reports degraded while the storage circuit is not closed.
func circuitCheck(cb *resilience.CircuitBreaker) func(context.Context) health.CheckResult {
	return func(context.Context) health.CheckResult {
		state := cb.State()
		res := health.CheckResult{
			Status:   health.StatusHealthy,
			Metadata: map[string]interface{}{"state": state.String(), "failures": cb.Failures()},
		}
		if state != resilience.StateClosed {
			res.Status = health.StatusDegraded
			res.Message = "storage circuit breaker is " + state.String()
		}
		return res
	}
}

func storageChecker(cfg *config.Config, backend *store.Backend) *health.StorageChecker {
	return health.NewStorageChecker("storage", backend.Driver, backend,
		health.WithTimeout(cfg.Storage.ConnectTimeout),
		health.WithDegradedThreshold(cfg.Storage.QueryTimeout/2),
	)
}
