package store

import (
	"context"
	"sync"
)

// MemoryStorage keeps named stores in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	order  []string
	stores map[string]*memoryCache
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*memoryCache),
	}
}

// Ping always succeeds.
func (s *MemoryStorage) Ping(context.Context) error {
	return nil
}

// Open returns the named store, creating it if absent.
func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	if name == "" {
		CacheErrors.WithLabelValues(backendMemory, "open").Inc()
		return nil, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.stores[name]; ok {
		return c, nil
	}
	c := &memoryCache{
		name:    name,
		entries: make(map[string]memoryItem),
	}
	s.stores[name] = c
	s.order = append(s.order, name)
	return c, nil
}

// Names lists store names in creation order.
func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.order))
	copy(names, s.order)
	return names, nil
}

// Has reports whether the named store exists.
func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stores[name]
	return ok, nil
}

// Delete removes the named store.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stores[name]; !ok {
		return false, nil
	}
	delete(s.stores, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	StoresDeleted.WithLabelValues(backendMemory).Inc()
	return true, nil
}

// Match searches every store in creation order.
func (s *MemoryStorage) Match(_ context.Context, key RequestKey) (*Entry, error) {
	s.mu.RLock()
	caches := make([]*memoryCache, 0, len(s.order))
	for _, name := range s.order {
		caches = append(caches, s.stores[name])
	}
	s.mu.RUnlock()

	if key.IsGet() {
		for _, c := range caches {
			if entry, ok := c.lookup(key); ok {
				CacheHits.WithLabelValues(backendMemory).Inc()
				return entry, nil
			}
		}
	}

	CacheMisses.WithLabelValues(backendMemory).Inc()
	return nil, ErrCacheMiss
}

type memoryItem struct {
	key   RequestKey
	entry *Entry
}

type memoryCache struct {
	mu      sync.RWMutex
	name    string
	entries map[string]memoryItem
}

func (c *memoryCache) Name() string {
	return c.name
}

func (c *memoryCache) lookup(key RequestKey) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	return cloneEntry(item.entry), true
}

func (c *memoryCache) Match(_ context.Context, key RequestKey) (*Entry, error) {
	if key.IsGet() {
		if entry, ok := c.lookup(key); ok {
			CacheHits.WithLabelValues(backendMemory).Inc()
			return entry, nil
		}
	}
	CacheMisses.WithLabelValues(backendMemory).Inc()
	return nil, ErrCacheMiss
}

func (c *memoryCache) Put(_ context.Context, key RequestKey, entry *Entry) error {
	if err := validatePut(key, entry); err != nil {
		CacheErrors.WithLabelValues(backendMemory, "put").Inc()
		return err
	}

	c.mu.Lock()
	c.entries[key.String()] = memoryItem{key: key, entry: cloneEntry(entry)}
	c.mu.Unlock()

	CachePuts.WithLabelValues(backendMemory).Inc()
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key RequestKey) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.String()
	if _, ok := c.entries[k]; !ok {
		return false, nil
	}
	delete(c.entries, k)
	return true, nil
}

func (c *memoryCache) Keys(_ context.Context) ([]RequestKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]RequestKey, 0, len(c.entries))
	for _, item := range c.entries {
		keys = append(keys, item.key)
	}
	return keys, nil
}

func cloneEntry(e *Entry) *Entry {
	out := *e
	out.Headers = e.Headers.Clone()
	if e.Data != nil {
		out.Data = append([]byte(nil), e.Data...)
	}
	return &out
}
