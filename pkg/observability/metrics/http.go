package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request series are labelled by route template (see middleware.RouteLabel),
// never by raw path, so bucket and item ids do not become label values.
var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bucketstore_http_request_duration_seconds",
			Help:    "Latency of bucket API requests",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketstore_http_requests_total",
			Help: "Bucket API requests served",
		},
		[]string{"method", "route", "status"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bucketstore_http_requests_in_flight",
			Help: "Bucket API requests being served",
		},
	)
)

// ObserveRequest records one served request.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	requestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	requestsTotal.WithLabelValues(method, route, code).Inc()
}

// RequestStarted counts a request as in flight until the returned func runs.
func RequestStarted() (done func()) {
	requestsInFlight.Inc()
	return requestsInFlight.Dec
}
