package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks matches by backend
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_store_hits_total",
			Help: "Total number of store matches",
		},
		[]string{"backend"}, // "memory", "redis"
	)

	// CacheMisses tracks lookups that found nothing
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_store_misses_total",
			Help: "Total number of store misses",
		},
		[]string{"backend"},
	)

	// CachePuts tracks successful writes
	CachePuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_store_puts_total",
			Help: "Total number of entries written",
		},
		[]string{"backend"},
	)

	// StoresDeleted tracks whole-store deletions
	StoresDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_stores_deleted_total",
			Help: "Total number of named stores deleted",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks store operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_store_errors_total",
			Help: "Total number of store operation errors",
		},
		[]string{"backend", "operation"}, // "open", "match", "put", "delete", "keys", "names"
	)
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"
)
