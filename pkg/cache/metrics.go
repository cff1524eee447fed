package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// hitsTotal tracks cache hits.
	hitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketdata_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// missesTotal tracks cache misses, including expired entries.
	missesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketdata_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// sizeBytes tracks bytes written to the cache.
	sizeBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketdata_cache_written_bytes_total",
			Help: "Total bytes written to the cache",
		},
	)

	// errorsTotal tracks cache operation errors by operation.
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketdata_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete"
	)
)
