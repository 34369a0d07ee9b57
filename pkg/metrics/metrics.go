// Package metrics provides the centralized Prometheus metrics reference for
// the Lighter history client. All metrics are defined in their respective
// packages (client, ratelimit, markets, enrich, fetch) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the history client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - lighter_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - lighter_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - lighter_errors_total{class} (Counter): Errors by class (validation, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - lighter_retries_total{error_class} (Counter): Retry attempts by error class
//   - lighter_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - lighter_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Pacer Metrics (pkg/ratelimit):
//   - lighter_pacer_acquires_total{stream} (Counter): Pacer slot acquisitions by stream class
//   - lighter_pacer_wait_seconds{stream} (Histogram): Time spent waiting for a pacer slot
//
// Market Metrics (pkg/markets):
//   - lighter_market_refreshes_total{result} (Counter): Market table refreshes by result
//   - lighter_market_unknown_total (Counter): Lookups of market IDs absent from the table
//   - lighter_market_cache_hits_total (Counter): Market table loads served from Redis
//   - lighter_market_cache_misses_total (Counter): Market table cache misses
//   - lighter_market_cache_errors_total{operation} (Counter): Cache operation errors
//
// Enrichment Metrics (pkg/enrich):
//   - lighter_records_enriched_total{data_type} (Counter): Records enriched by data type
//   - lighter_enrich_warnings_total{reason} (Counter): Records flagged with a warning, by reason
//
// Fetch Metrics (pkg/fetch):
//   - lighter_fetch_tasks_total{data_type, status} (Counter): Tasks by data type and terminal status
//   - lighter_fetch_pages_total{data_type} (Counter): Pages fetched by data type
//   - lighter_fetch_records_total{data_type} (Counter): Records returned to callers by data type
//   - lighter_fetch_task_duration_seconds{data_type} (Histogram): Wall time of one fetch task
//
// Example Prometheus Queries:
//
//   # Pacer Pressure (share of requests that had to wait)
//   histogram_quantile(0.95, rate(lighter_pacer_wait_seconds_bucket[5m]))
//
//   # Market Cache Hit Rate
//   rate(lighter_market_cache_hits_total[5m]) /
//   (rate(lighter_market_cache_hits_total[5m]) + rate(lighter_market_cache_misses_total[5m]))
//
//   # Request Error Rate
//   rate(lighter_errors_total[5m])
//
//   # Task Failure Share
//   sum(rate(lighter_fetch_tasks_total{status="partial_failure"}[15m])) /
//   sum(rate(lighter_fetch_tasks_total[15m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(lighter_request_duration_seconds_bucket[5m]))
