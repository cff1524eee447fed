// Package metrics provides the centralized Prometheus metrics registry
// for the market-data client. All metrics are defined in their
// respective packages (fetcher, cache, ratelimit, retry, breaker) to
// maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Fetch Metrics (pkg/fetcher):
//   - marketdata_fetches_total{status, source} (Counter): Fetches by outcome and data source
//   - marketdata_fetch_duration_seconds{source} (Histogram): Fetch duration by source
//   - marketdata_fetch_success_rate (Gauge): Successful over attempted live fetches
//
// Cache Metrics (pkg/cache):
//   - marketdata_cache_hits_total (Counter): Cache hits
//   - marketdata_cache_misses_total (Counter): Cache misses (including expired entries)
//   - marketdata_cache_written_bytes_total (Counter): Bytes written to the cache
//   - marketdata_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - marketdata_ratelimit_admissions_total (Counter): Admissions granted by the window
//   - marketdata_ratelimit_rejections_total (Counter): Non-blocking acquisitions rejected
//   - marketdata_ratelimit_wait_seconds (Histogram): Time blocking callers waited for a slot
//
// Retry Metrics (pkg/retry):
//   - marketdata_retries_total (Counter): Retry attempts
//   - marketdata_retry_backoff_seconds (Histogram): Backoff delay before retries
//   - marketdata_retry_exhausted_total (Counter): Operations that exhausted all attempts
//
// Circuit Breaker Metrics (pkg/breaker):
//   - marketdata_breaker_state (Gauge): Current state (0=closed, 1=open, 2=half-open)
//   - marketdata_breaker_rejections_total (Counter): Calls rejected while open
//   - marketdata_breaker_transitions_total{to} (Counter): Transitions by target state
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(marketdata_cache_hits_total[5m])) /
//   (sum(rate(marketdata_cache_hits_total[5m])) + sum(rate(marketdata_cache_misses_total[5m])))
//
//   # Live Fetch Error Rate
//   rate(marketdata_fetches_total{status="error"}[5m])
//
//   # Circuit Currently Open
//   marketdata_breaker_state == 1
//
//   # P95 Live Fetch Latency
//   histogram_quantile(0.95, rate(marketdata_fetch_duration_seconds_bucket{source="live"}[5m]))
//
//   # Throttling Pressure
//   rate(marketdata_ratelimit_rejections_total[5m])
