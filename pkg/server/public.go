package server

import (
	"github.com/nimburion/bucketstore/pkg/config"
	"github.com/nimburion/bucketstore/pkg/middleware/compression"
	"github.com/nimburion/bucketstore/pkg/middleware/logging"
	"github.com/nimburion/bucketstore/pkg/middleware/metrics"
	"github.com/nimburion/bucketstore/pkg/middleware/ratelimit"
	"github.com/nimburion/bucketstore/pkg/middleware/recovery"
	"github.com/nimburion/bucketstore/pkg/middleware/requestid"
	"github.com/nimburion/bucketstore/pkg/middleware/requestsize"
	"github.com/nimburion/bucketstore/pkg/middleware/timeout"
	"github.com/nimburion/bucketstore/pkg/middleware/tracing"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/server/router"
)

// PublicAPIServer serves the bucket API.
type PublicAPIServer struct {
	*Server
}

// PublicOption customizes the public server.
type PublicOption func(*publicOptions)

type publicOptions struct {
	limiter ratelimit.RateLimiter
}

// WithRateLimiter replaces the per-client token bucket built from
// configuration.
func WithRateLimiter(l ratelimit.RateLimiter) PublicOption {
	return func(o *publicOptions) { o.limiter = l }
}

// NewPublicAPIServer applies the middleware stack to r. Routes must be
// registered on r after this call so they run behind the stack:
//
//  1. request ID
//  2. tracing, when enabled
//  3. access logging
//  4. panic recovery
//  5. Prometheus metrics
//  6. rate limiting, when enabled
//  7. response compression, when enabled
//  8. request timeout, when configured
//  9. request body size limit
func NewPublicAPIServer(cfg *config.Config, r router.Router, log logger.Logger, opts ...PublicOption) *PublicAPIServer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	var o publicOptions
	for _, opt := range opts {
		opt(&o)
	}

	stack := []router.MiddlewareFunc{requestid.RequestID()}
	if cfg.Tracing.Enabled {
		stack = append(stack, tracing.Tracing(tracing.Config{TracerName: cfg.Service.Name}))
	}
	stack = append(stack,
		logging.WithConfig(log, logging.DefaultConfig()),
		recovery.Recovery(log),
		metrics.Metrics(),
	)

	limiter := o.limiter
	if limiter == nil && cfg.RateLimit.Enabled {
		limiter = ratelimit.NewTokenBucketLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if limiter != nil {
		stack = append(stack, ratelimit.RateLimit(limiter, ratelimit.Config{}))
	}

	if cfg.HTTP.CompressionEnabled {
		compressionCfg := compression.DefaultConfig()
		compressionCfg.MinSize = cfg.HTTP.CompressionMinSize
		stack = append(stack, compression.Middleware(compressionCfg))
	}
	stack = append(stack,
		timeout.Middleware(timeout.Config{
			Enabled: cfg.HTTP.RequestTimeout > 0,
			Default: cfg.HTTP.RequestTimeout,
		}),
		requestsize.Middleware(cfg.HTTP.MaxRequestSize),
	)
	r.Use(stack...)

	return &PublicAPIServer{
		Server: NewServer(Config{
			Port:         cfg.HTTP.Port,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}, r, log),
	}
}
