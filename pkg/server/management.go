package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nimburion/bucketstore/pkg/config"
	"github.com/nimburion/bucketstore/pkg/health"
	"github.com/nimburion/bucketstore/pkg/middleware/logging"
	"github.com/nimburion/bucketstore/pkg/middleware/recovery"
	"github.com/nimburion/bucketstore/pkg/middleware/requestid"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/observability/metrics"
	"github.com/nimburion/bucketstore/pkg/server/router"
	"github.com/nimburion/bucketstore/pkg/version"
)

// ManagementServer serves operational endpoints on a separate port:
//
//	/health   liveness, always 200
//	/ready    readiness, 503 when a check is unhealthy
//	/metrics  Prometheus exposition
//	/version  build metadata
type ManagementServer struct {
	*Server
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	info            version.Info
}

// NewManagementServer registers the management endpoints on r.
func NewManagementServer(
	cfg config.ManagementConfig,
	r router.Router,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	info version.Info,
) (*ManagementServer, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if healthRegistry == nil {
		healthRegistry = health.NewRegistry()
	}
	if metricsRegistry == nil {
		metricsRegistry = metrics.NewRegistry()
	}

	tlsCfg, err := LoadManagementTLS(cfg)
	if err != nil {
		return nil, fmt.Errorf("management mTLS: %w", err)
	}
	if tlsCfg != nil {
		log.Info("management mTLS enabled")
	}

	r.Use(
		requestid.RequestID(),
		logging.Logging(log),
		recovery.Recovery(log),
	)

	s := &ManagementServer{
		Server: NewServer(Config{
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
			TLSConfig:    tlsCfg,
		}, r, log),
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		info:            info,
	}

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/version", s.handleVersion)
	return s, nil
}

func (s *ManagementServer) handleHealth(c router.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"status": health.StatusHealthy})
}

func (s *ManagementServer) handleReady(c router.Context) error {
	result := s.healthRegistry.Check(c.Request().Context())
	if !result.IsReady() {
		return c.JSON(http.StatusServiceUnavailable, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *ManagementServer) handleMetrics(c router.Context) error {
	s.metricsRegistry.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *ManagementServer) handleVersion(c router.Context) error {
	return c.JSON(http.StatusOK, s.info)
}
