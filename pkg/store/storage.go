package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCacheMiss indicates no store holds the requested key
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrUnsupportedMethod is returned when putting a non-GET request
	ErrUnsupportedMethod = errors.New("only GET requests can be stored")

	// ErrPartialResponse is returned when putting a 206 response
	ErrPartialResponse = errors.New("partial responses cannot be stored")

	// ErrInvalidName is returned for an empty store name
	ErrInvalidName = errors.New("store name cannot be empty")
)

// Storage is the set of named stores. Each store name is a version tag;
// stale versions stay enumerable until deleted.
type Storage interface {
	// Open returns the named store, creating it if absent.
	Open(ctx context.Context, name string) (Cache, error)

	// Names lists store names in creation order.
	Names(ctx context.Context) ([]string, error)

	// Has reports whether the named store exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the named store and every entry in it.
	// It reports whether a store was removed.
	Delete(ctx context.Context, name string) (bool, error)

	// Match searches every store in creation order and returns the first
	// entry stored under key. It returns ErrCacheMiss when none does.
	Match(ctx context.Context, key RequestKey) (*Entry, error)
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cache is a single named store mapping request identity to a response
// snapshot.
type Cache interface {
	Name() string
	Match(ctx context.Context, key RequestKey) (*Entry, error)
	Put(ctx context.Context, key RequestKey, entry *Entry) error
	Delete(ctx context.Context, key RequestKey) (bool, error)
	Keys(ctx context.Context) ([]RequestKey, error)
}

// validatePut applies the rules every backend shares for writes.
func validatePut(key RequestKey, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if !key.IsGet() {
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, key.Method)
	}
	if entry.StatusCode == http.StatusPartialContent {
		return ErrPartialResponse
	}
	return nil
}
