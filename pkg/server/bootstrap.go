package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/bucketstore/pkg/config"
	"github.com/nimburion/bucketstore/pkg/health"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/observability/metrics"
	"github.com/nimburion/bucketstore/pkg/observability/tracing"
	"github.com/nimburion/bucketstore/pkg/server/router"
	ginadapter "github.com/nimburion/bucketstore/pkg/server/router/gin"
	"github.com/nimburion/bucketstore/pkg/version"
)

// LifecycleHook defines a named startup/shutdown action.
type LifecycleHook struct {
	Name string
	Fn   func(context.Context) error
}

// RunOptions defines inputs for building and running the HTTP servers.
type RunOptions struct {
	Config *config.Config
	Logger logger.Logger

	// PublicRouter and ManagementRouter default to gin routers.
	PublicRouter     router.Router
	ManagementRouter router.Router

	// Routes mounts the API on the public router behind its middleware stack.
	Routes        func(router.Router)
	PublicOptions []PublicOption

	HealthRegistry  *health.Registry
	MetricsRegistry *metrics.Registry

	StartupHooks        []LifecycleHook
	ShutdownHooks       []LifecycleHook
	ShutdownHookTimeout time.Duration
}

// HTTPServers groups the public and management servers.
type HTTPServers struct {
	Public     *PublicAPIServer
	Management *ManagementServer
}

// BuildHTTPServers constructs the servers. The management server is nil
// when disabled in configuration.
func BuildHTTPServers(opts *RunOptions) (*HTTPServers, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Logger == nil {
		log, err := logger.NewZapLogger(logger.DefaultConfig())
		if err != nil {
			return nil, err
		}
		opts.Logger = log
	}
	if opts.PublicRouter == nil {
		opts.PublicRouter = ginadapter.NewRouter()
	}

	public := NewPublicAPIServer(opts.Config, opts.PublicRouter, opts.Logger, opts.PublicOptions...)
	if opts.Routes != nil {
		opts.Routes(public.Router())
	}

	servers := &HTTPServers{Public: public}
	if !opts.Config.Management.Enabled {
		return servers, nil
	}

	if opts.ManagementRouter == nil {
		opts.ManagementRouter = ginadapter.NewRouter()
	}
	mgmt, err := NewManagementServer(
		opts.Config.Management,
		opts.ManagementRouter,
		opts.Logger,
		opts.HealthRegistry,
		opts.MetricsRegistry,
		version.Current(opts.Config.Service.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("create management server: %w", err)
	}
	servers.Management = mgmt
	return servers, nil
}

// RunHTTPServers starts the servers and blocks until ctx is cancelled or
// one of them fails. Tracing is initialized first and flushed last; startup
// hooks run before the servers accept traffic and shutdown hooks after they
// stop.
func RunHTTPServers(ctx context.Context, servers *HTTPServers, opts *RunOptions) error {
	if servers == nil || servers.Public == nil {
		return errors.New("servers and public server are required")
	}
	if opts.Logger == nil {
		return errors.New("logger is required")
	}
	if opts.Config == nil {
		return errors.New("config is required")
	}

	info := version.Current(opts.Config.Service.Name)
	opts.Logger.Info("starting bucketstore", info.LogFields()...)

	tp, err := initTracerProvider(ctx, opts.Config, info)
	if err != nil {
		return fmt.Errorf("initialize tracing provider: %w", err)
	}
	if tp != nil {
		defer shutdownTracerProvider(tp, opts.Logger)
	}

	if err := runStartupHooks(ctx, opts); err != nil {
		return err
	}
	defer func() {
		if err := runShutdownHooks(opts); err != nil {
			opts.Logger.Error("shutdown hooks completed with errors", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverCount := 1
	if servers.Management != nil {
		serverCount = 2
	}
	errCh := make(chan error, serverCount)
	go func() { errCh <- servers.Public.Start(runCtx) }()
	if servers.Management != nil {
		go func() { errCh <- servers.Management.Start(runCtx) }()
	}

	var firstErr error
	for i := 0; i < serverCount; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

// initTracerProvider returns nil when tracing is disabled.
func initTracerProvider(ctx context.Context, cfg *config.Config, info version.Info) (*tracing.Provider, error) {
	if !cfg.Tracing.Enabled {
		return nil, nil
	}
	env := strings.TrimSpace(cfg.Service.Environment)
	if env == "" {
		env = version.Unknown
	}
	return tracing.Install(ctx, tracing.ProviderConfig{
		ServiceName:    info.Service,
		ServiceVersion: info.Version,
		Environment:    env,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
}

func shutdownTracerProvider(tp *tracing.Provider, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown tracing provider", "error", err)
	}
}

func hookName(h LifecycleHook) string {
	if name := strings.TrimSpace(h.Name); name != "" {
		return name
	}
	return "unnamed"
}

func runStartupHooks(ctx context.Context, opts *RunOptions) error {
	for _, hook := range opts.StartupHooks {
		if hook.Fn == nil {
			continue
		}
		name := hookName(hook)
		opts.Logger.Info("startup hook start", "hook", name)
		if err := hook.Fn(ctx); err != nil {
			opts.Logger.Error("startup hook failed", "hook", name, "error", err)
			return fmt.Errorf("startup hook %q failed: %w", name, err)
		}
		opts.Logger.Info("startup hook complete", "hook", name)
	}
	return nil
}

// runShutdownHooks runs every hook even when earlier ones fail, each under
// its own timeout, and joins the errors.
func runShutdownHooks(opts *RunOptions) error {
	timeout := opts.ShutdownHookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var errs []error
	for _, hook := range opts.ShutdownHooks {
		if hook.Fn == nil {
			continue
		}
		name := hookName(hook)
		opts.Logger.Info("shutdown hook start", "hook", name)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := hook.Fn(ctx)
		cancel()

		if err != nil {
			opts.Logger.Error("shutdown hook failed", "hook", name, "error", err)
			errs = append(errs, fmt.Errorf("shutdown hook %q failed: %w", name, err))
			continue
		}
		opts.Logger.Info("shutdown hook complete", "hook", name)
	}
	return errors.Join(errs...)
}
