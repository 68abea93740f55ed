// Package timeout bounds the time a request may spend in the handler chain.
package timeout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nimburion/bucketstore/pkg/controller"
	"github.com/nimburion/bucketstore/pkg/middleware/requestid"
	"github.com/nimburion/bucketstore/pkg/server/router"
)

// Config configures request timeout middleware behavior.
type Config struct {
	Enabled              bool
	Default              time.Duration
	ExcludedPathPrefixes []string
}

// DefaultConfig returns default timeout middleware behavior.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Default: 15 * time.Second,
	}
}

// Middleware attaches a deadline to the request context. Queries observe it
// through their context, so a slow storage round-trip is abandoned and the
// request answers 504 unless the handler already responded.
func Middleware(cfg Config) router.MiddlewareFunc {
	if cfg.Default <= 0 {
		cfg.Default = DefaultConfig().Default
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if !cfg.Enabled || excluded(c.Request().URL.Path, cfg.ExcludedPathPrefixes) {
				return next(c)
			}

			reqCtx, cancel := context.WithTimeout(c.Request().Context(), cfg.Default)
			defer cancel()

			c.SetRequest(c.Request().WithContext(reqCtx))
			err := next(c)
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
				return err
			}
			if c.Response().Written() {
				return nil
			}
			return c.JSON(http.StatusGatewayTimeout, controller.ErrorResponse{
				Error:     "timeout",
				Code:      "request.timeout",
				Message:   "the request timed out",
				RequestID: requestid.GetRequestID(reqCtx),
			})
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
