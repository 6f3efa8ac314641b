package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for fetch interception and lifecycle.
var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_fetch_total",
		Help: "Intercepted requests by strategy and the source that answered",
	}, []string{"strategy", "source"}) // source: "network", "cache", "error"

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swcache_fetch_duration_seconds",
		Help:    "Intercepted request duration in seconds by strategy",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"strategy"})

	cacheWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swcache_cache_write_errors_total",
		Help: "Background network-first cache writes that failed",
	})

	lifecycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_lifecycle_total",
		Help: "Lifecycle steps by step and result",
	}, []string{"step", "result"}) // step: "install", "activate", "claim"
)

const (
	sourceNetwork = "network"
	sourceCache   = "cache"
	sourceError   = "error"
)
