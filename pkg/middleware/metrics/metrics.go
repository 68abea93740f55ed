// Package metrics records Prometheus metrics for HTTP requests.
package metrics

import (
	"net/http"
	"time"

	"github.com/nimburion/bucketstore/pkg/middleware"
	"github.com/nimburion/bucketstore/pkg/observability/metrics"
	"github.com/nimburion/bucketstore/pkg/server/router"
)

// Metrics creates middleware that records request duration, request count and
// in-flight requests, labelled by middleware.RouteLabel.
func Metrics() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			defer metrics.RequestStarted()()

			start := time.Now()
			err := next(c)

			status := c.Response().Status()
			if err != nil && !c.Response().Written() {
				status = http.StatusInternalServerError
			}
			metrics.ObserveRequest(c.Request().Method, middleware.RouteLabel(c.Request().URL.Path), status, time.Since(start))
			return err
		}
	}
}
