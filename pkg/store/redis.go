package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the Redis backend writes.
const DefaultRedisPrefix = "swcache"

// RedisStorage keeps named stores in Redis.
//
// Layout:
//
//	<prefix>:stores         sorted set of store names, scored by creation sequence
//	<prefix>:stores:seq     creation sequence counter
//	<prefix>:store:<name>   hash of request key -> JSON entry
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed storage.
func NewRedisStorage(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + ":stores"
}

func (s *RedisStorage) seqKey() string {
	return s.prefix + ":stores:seq"
}

func (s *RedisStorage) storeKey(name string) string {
	return s.prefix + ":store:" + name
}

// Ping checks the Redis connection.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Open returns the named store, creating it if absent.
func (s *RedisStorage) Open(ctx context.Context, name string) (Cache, error) {
	if name == "" {
		CacheErrors.WithLabelValues(backendRedis, "open").Inc()
		return nil, ErrInvalidName
	}

	exists, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		seq, err := s.redis.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			CacheErrors.WithLabelValues(backendRedis, "open").Inc()
			return nil, fmt.Errorf("redis incr: %w", err)
		}
		// NX keeps the original creation order if another client raced us.
		if err := s.redis.ZAddNX(ctx, s.namesKey(), redis.Z{Score: float64(seq), Member: name}).Err(); err != nil {
			CacheErrors.WithLabelValues(backendRedis, "open").Inc()
			return nil, fmt.Errorf("redis zadd: %w", err)
		}
	}

	return &redisCache{storage: s, name: name}, nil
}

// Names lists store names in creation order.
func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.redis.ZRange(ctx, s.namesKey(), 0, -1).Result()
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "names").Inc()
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return names, nil
}

// Has reports whether the named store exists.
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.redis.ZScore(ctx, s.namesKey(), name).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	CacheErrors.WithLabelValues(backendRedis, "names").Inc()
	return false, fmt.Errorf("redis zscore: %w", err)
}

// Delete removes the named store and its entries atomically.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.storeKey(name))
		removed = pipe.ZRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "delete").Inc()
		return false, fmt.Errorf("redis delete store: %w", err)
	}

	if removed.Val() == 0 {
		return false, nil
	}
	StoresDeleted.WithLabelValues(backendRedis).Inc()
	return true, nil
}

// Match searches every store in creation order with a single pipeline.
func (s *RedisStorage) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	if !key.IsGet() {
		CacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, ErrCacheMiss
	}

	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		CacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, ErrCacheMiss
	}

	field := key.String()
	cmds := make([]*redis.StringCmd, len(names))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.HGet(ctx, s.storeKey(name), field)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		CacheErrors.WithLabelValues(backendRedis, "match").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			CacheErrors.WithLabelValues(backendRedis, "match").Inc()
			return nil, fmt.Errorf("redis hget: %w", err)
		}
		entry, err := decodeEntry(data)
		if err != nil {
			return nil, err
		}
		CacheHits.WithLabelValues(backendRedis).Inc()
		return entry, nil
	}

	CacheMisses.WithLabelValues(backendRedis).Inc()
	return nil, ErrCacheMiss
}

type redisCache struct {
	storage *RedisStorage
	name    string
}

func (c *redisCache) Name() string {
	return c.name
}

func (c *redisCache) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	if !key.IsGet() {
		CacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, ErrCacheMiss
	}

	data, err := c.storage.redis.HGet(ctx, c.storage.storeKey(c.name), key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(backendRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(backendRedis, "match").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	CacheHits.WithLabelValues(backendRedis).Inc()
	return entry, nil
}

func (c *redisCache) Put(ctx context.Context, key RequestKey, entry *Entry) error {
	if err := validatePut(key, entry); err != nil {
		CacheErrors.WithLabelValues(backendRedis, "put").Inc()
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := c.storage.redis.HSet(ctx, c.storage.storeKey(c.name), key.String(), data).Err(); err != nil {
		CacheErrors.WithLabelValues(backendRedis, "put").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	CachePuts.WithLabelValues(backendRedis).Inc()
	return nil
}

func (c *redisCache) Delete(ctx context.Context, key RequestKey) (bool, error) {
	n, err := c.storage.redis.HDel(ctx, c.storage.storeKey(c.name), key.String()).Result()
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "delete").Inc()
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	return n > 0, nil
}

func (c *redisCache) Keys(ctx context.Context) ([]RequestKey, error) {
	fields, err := c.storage.redis.HKeys(ctx, c.storage.storeKey(c.name)).Result()
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "keys").Inc()
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}

	keys := make([]RequestKey, 0, len(fields))
	for _, field := range fields {
		key, err := ParseKey(field)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues(backendRedis, "match").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}
