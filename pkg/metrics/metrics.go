// Package metrics exposes the Prometheus registry used by swcache.
// All metrics are defined in their respective packages (store, controller,
// scheduler) to maintain modularity and avoid circular dependencies.
//
// This package provides the HTTP handler and a reference for all available
// metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by swcache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back everything registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Store Metrics (pkg/store):
//   - swcache_store_hits_total{backend} (Counter): Matches found
//   - swcache_store_misses_total{backend} (Counter): Lookups that found nothing
//   - swcache_store_puts_total{backend} (Counter): Entries written
//   - swcache_stores_deleted_total{backend} (Counter): Named stores deleted
//   - swcache_store_errors_total{backend, operation} (Counter): Store operation errors
//
// Controller Metrics (pkg/controller):
//   - swcache_fetch_total{strategy, source} (Counter): Intercepted requests by strategy
//     (bypass, network_first, cache_first) and answering source (network, cache, error)
//   - swcache_fetch_duration_seconds{strategy} (Histogram): Interception duration
//   - swcache_cache_write_errors_total (Counter): Failed background network-first writes
//   - swcache_lifecycle_total{step, result} (Counter): install/activate/claim outcomes
//
// Scheduler Metrics (pkg/scheduler):
//   - swcache_scheduler_tasks_scheduled_total{priority} (Counter): Tasks scheduled
//   - swcache_scheduler_task_runs_total{priority, outcome} (Counter): Callback runs
//     (done, continued, error)
//   - swcache_scheduler_tasks_cancelled_total (Counter): Tasks cancelled
//   - swcache_scheduler_flush_passes_total{result} (Counter): Work passes
//     (drained, yielded, error)
//
// Example Prometheus Queries:
//
//   # Offline hit rate for documents
//   sum(rate(swcache_fetch_total{strategy="network_first",source="cache"}[5m])) /
//   sum(rate(swcache_fetch_total{strategy="network_first"}[5m]))
//
//   # Failed interceptions
//   rate(swcache_fetch_total{source="error"}[5m])
//
//   # P95 interception latency
//   histogram_quantile(0.95, rate(swcache_fetch_duration_seconds_bucket[5m]))
//
//   # Lost background writes
//   increase(swcache_cache_write_errors_total[1h]) > 0
