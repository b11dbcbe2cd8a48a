// Package metrics exposes Prometheus instrumentation for the caches and
// the upstream metadata client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts reads by layer ("server") and result ("hit", "miss")
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenshelf_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"layer", "result"},
	)

	// CacheWrites counts writes by layer and result ("stored", "not_stored")
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenshelf_cache_writes_total",
			Help: "Total number of cache writes by result",
		},
		[]string{"layer", "result"},
	)

	// CacheConnected is 1 while the server cache store is reachable
	CacheConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenshelf_cache_connected",
			Help: "Whether the server cache store is connected (1) or bypassed (0)",
		},
	)

	// UpstreamRequests counts upstream provider calls by outcome
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenshelf_upstream_requests_total",
			Help: "Total number of upstream metadata requests by outcome",
		},
		[]string{"outcome"}, // "ok", "client_error", "server_error", "network_error"
	)

	UpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "screenshelf_upstream_request_duration_seconds",
			Help:    "Duration of upstream metadata requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BreakerState mirrors the upstream circuit breaker: 0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenshelf_upstream_breaker_state",
			Help: "Upstream circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)
)

// RecordLookup records a cache read
func RecordLookup(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(layer, result).Inc()
}

// RecordWrite records a cache write
func RecordWrite(layer string, stored bool) {
	result := "not_stored"
	if stored {
		result = "stored"
	}
	CacheWrites.WithLabelValues(layer, result).Inc()
}

// SetConnected updates the connection gauge
func SetConnected(connected bool) {
	if connected {
		CacheConnected.Set(1)
		return
	}
	CacheConnected.Set(0)
}
