package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queryDuration tracks query execution time, storage round-trip included.
	// Labels: entity, outcome
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bucketstore_query_duration_seconds",
			Help:    "Query execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity", "outcome"},
	)

	// queryResults tracks the size of returned result sets.
	// Labels: entity
	queryResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bucketstore_query_results",
			Help:    "Number of entities returned per query",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
		},
		[]string{"entity"},
	)

	// repositoryMutations counts entities written through repositories.
	// Labels: entity, operation
	repositoryMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketstore_repository_mutations_total",
			Help: "Total number of entities added, updated or removed",
		},
		[]string{"entity", "operation"},
	)

	// storageCircuitState is 0 closed, 1 open, 2 half-open.
	storageCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bucketstore_storage_circuit_state",
			Help: "State of the storage circuit breaker (0 closed, 1 open, 2 half-open)",
		},
	)
)

// RecordQuery records one query execution.
func RecordQuery(entity, outcome string, duration time.Duration, results int) {
	queryDuration.WithLabelValues(entity, outcome).Observe(duration.Seconds())
	if outcome == "ok" {
		queryResults.WithLabelValues(entity).Observe(float64(results))
	}
}

// RecordMutation records n entities written by operation ("add", "update", "remove").
func RecordMutation(entity, operation string, n int) {
	if n <= 0 {
		return
	}
	repositoryMutations.WithLabelValues(entity, operation).Add(float64(n))
}

// SetStorageCircuitState publishes the storage circuit breaker state.
func SetStorageCircuitState(state int) {
	storageCircuitState.Set(float64(state))
}
