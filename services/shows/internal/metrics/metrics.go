// Package metrics holds the Prometheus collectors for the shows service.
// Collectors register on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequests counts upstream page requests by outcome:
	// ok, transient, error, degraded.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvshows_upstream_requests_total",
			Help: "Upstream page requests by outcome",
		},
		[]string{"outcome"},
	)

	UpstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvshows_upstream_retries_total",
			Help: "Upstream request retries after a transient failure",
		},
	)

	UpstreamRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvshows_upstream_request_duration_seconds",
			Help:    "Duration of a single upstream request attempt",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// CircuitBreakerState is 0=closed, 1=half-open, 2=open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tvshows_circuit_breaker_state",
			Help: "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// SeedRecords counts seed records by result: saved, skipped, failed.
	SeedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvshows_seed_records_total",
			Help: "Bulk seed records by result",
		},
		[]string{"result"},
	)

	// SyncRuns counts reconciliation runs by result: completed, aborted, skipped.
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvshows_sync_runs_total",
			Help: "Reconciliation runs by result",
		},
		[]string{"result"},
	)

	SyncPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvshows_sync_pages_total",
			Help: "Upstream pages committed by reconciliation",
		},
	)

	// SyncRecords counts reconciled records by action: created, updated.
	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvshows_sync_records_total",
			Help: "Reconciled records by action",
		},
		[]string{"action"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvshows_sync_duration_seconds",
			Help:    "Duration of reconciliation runs",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvshows_sync_last_success_timestamp",
			Help: "Unix timestamp of the last completed reconciliation",
		},
	)

	// ReadCacheLookups counts read-side page cache lookups by view
	// (top_rated, filtered) and result (hit, miss).
	ReadCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvshows_read_cache_lookups_total",
			Help: "Read-side page cache lookups by view and result",
		},
		[]string{"view", "result"},
	)

	GenresCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvshows_genres_created_total",
			Help: "Genre records created by the taxonomy cache",
		},
	)
)
