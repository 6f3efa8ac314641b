// Package store provides named, versioned response stores.
//
// A Storage holds any number of named stores. Each name is a version tag:
// a controller writes into the store named after its version and stale
// versions remain enumerable until someone deletes them.
//
// Features:
//
// - Request identity keyed by method and fragment-less URL
// - Only GET requests are storable; 206 responses are rejected
// - Storage-wide Match searching every store in creation order
// - In-memory and Redis backends
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	storage := store.NewRedisStorage(redisClient, "swcache")
//
//	cache, err := storage.Open(ctx, "aiworkshop-v2")
//	if err != nil {
//		return err
//	}
//
//	// Snapshot a response (the body stays readable for the caller)
//	entry, err := store.ResponseToEntry(resp)
//	if err != nil {
//		return err
//	}
//	if err := cache.Put(ctx, store.KeyFor(req), entry); err != nil {
//		return err
//	}
//
//	// Look it up in any store
//	entry, err = storage.Match(ctx, store.KeyFor(req))
//	if errors.Is(err, store.ErrCacheMiss) {
//		// Not stored anywhere
//	}
//
// # Metrics
//
//   - swcache_store_hits_total{backend} - Matches
//   - swcache_store_misses_total{backend} - Misses
//   - swcache_store_puts_total{backend} - Writes
//   - swcache_stores_deleted_total{backend} - Whole-store deletions
//   - swcache_store_errors_total{backend,operation} - Operation errors
package store
