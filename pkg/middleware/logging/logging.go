// Package logging writes one structured log line per HTTP request.
package logging

import (
	"strings"
	"time"

	"github.com/nimburion/bucketstore/pkg/middleware/requestid"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/server/router"
)

// Log field name constants
const (
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatus     = "status"
	FieldDurationMS = "duration_ms"
	FieldRemoteAddr = "remote_addr"
	FieldError      = "error"
)

// Config configures request logging middleware behavior.
type Config struct {
	Enabled              bool
	LogStart             bool
	ExcludedPathPrefixes []string
}

// DefaultConfig logs every request except probe and scrape traffic.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		ExcludedPathPrefixes: []string{"/health", "/ready", "/metrics"},
	}
}

// Logging creates middleware with default configuration.
func Logging(log logger.Logger) router.MiddlewareFunc {
	return WithConfig(log, DefaultConfig())
}

// WithConfig creates request logging middleware. Completed requests log at
// info, client errors at warn and server errors or handler failures at error.
func WithConfig(log logger.Logger, cfg Config) router.MiddlewareFunc {
	if log == nil {
		log = logger.NewNop()
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if !cfg.Enabled || excluded(req.URL.Path, cfg.ExcludedPathPrefixes) {
				return next(c)
			}

			start := time.Now()
			reqLog := log.WithContext(req.Context())
			if cfg.LogStart {
				reqLog.Debug("request started",
					FieldRequestID, requestid.GetRequestID(req.Context()),
					FieldMethod, req.Method,
					FieldPath, req.URL.Path,
				)
			}

			err := next(c)

			status := c.Response().Status()
			fields := []any{
				FieldRequestID, requestid.GetRequestID(req.Context()),
				FieldMethod, req.Method,
				FieldPath, req.URL.Path,
				FieldStatus, status,
				FieldDurationMS, time.Since(start).Milliseconds(),
				FieldRemoteAddr, req.RemoteAddr,
			}
			if req.URL.RawQuery != "" {
				fields = append(fields, FieldQuery, req.URL.RawQuery)
			}

			switch {
			case err != nil:
				reqLog.Error("request failed", append(fields, FieldError, err.Error())...)
			case status >= 500:
				reqLog.Error("request failed", fields...)
			case status >= 400:
				reqLog.Warn("request rejected", fields...)
			default:
				reqLog.Info("request completed", fields...)
			}
			return err
		}
	}
}

func excluded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
