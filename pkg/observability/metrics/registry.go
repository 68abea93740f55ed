// Package metrics holds the Prometheus series bucketstore exports: API
// traffic, query execution, repository writes and storage health.
package metrics

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the set of collectors served on the management /metrics route.
// Each Registry is independent; the package-level series are shared.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry returns a Registry with the bucketstore series and the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		requestDuration, requestsTotal, requestsInFlight,
		queryDuration, queryResults, repositoryMutations, storageCircuitState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

// Register adds a collector; registering the same one twice fails.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.reg.Register(c)
}

// RegisterDBStats exports the connection pool statistics of the SQL backend.
func (r *Registry) RegisterDBStats(db *sql.DB) error {
	return r.Register(collectors.NewDBStatsCollector(db, "bucketstore"))
}

// Handler serves the registry in the Prometheus text or OpenMetrics format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Gatherer exposes the registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
