package resolver

import (
	"context"
	"encoding/json"
	"time"
)

// RedisClient defines the Redis operations the cache needs.
// This interface is compatible with github.com/redis/go-redis/v9.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd
	Get(ctx context.Context, key string) RedisStringCmd
	Del(ctx context.Context, keys ...string) RedisIntCmd
	Close() error
}

// RedisStatusCmd represents a Redis status command result.
type RedisStatusCmd interface {
	Err() error
}

// RedisStringCmd represents a Redis string command result.
type RedisStringCmd interface {
	Bytes() ([]byte, error)
	Err() error
}

// RedisIntCmd represents a Redis int command result.
type RedisIntCmd interface {
	Err() error
}

// RedisCache is a Redis-backed TokenCache for multi-server deployments.
// Entries are stored as JSON with Redis-managed TTL expiry, so no sweep
// loop is needed.
type RedisCache struct {
	client RedisClient
	prefix string
	closed bool
}

// RedisCacheOption configures RedisCache behavior.
type RedisCacheOption func(*redisCacheConfig)

type redisCacheConfig struct {
	prefix string
}

// WithRedisPrefix sets the key prefix for cached tokens.
// Default: "authrelay:token:".
func WithRedisPrefix(prefix string) RedisCacheOption {
	return func(c *redisCacheConfig) {
		c.prefix = prefix
	}
}

// NewRedisCache creates a Redis-backed token cache.
func NewRedisCache(client RedisClient, opts ...RedisCacheOption) *RedisCache {
	cfg := &redisCacheConfig{
		prefix: "authrelay:token:",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &RedisCache{
		client: client,
		prefix: cfg.prefix,
	}
}

func (r *RedisCache) key(token string) string {
	return r.prefix + token
}

// Get returns the entry for token if Redis holds an unexpired value.
// Any backend or decode failure is treated as a miss; the resolver will
// simply revalidate upstream.
func (r *RedisCache) Get(ctx context.Context, token string) (Entry, bool) {
	if r.closed {
		return Entry{}, false
	}

	data, err := r.client.Get(ctx, r.key(token)).Bytes()
	if err != nil || len(data) == 0 {
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false
	}
	if entry.User == nil || entry.Session == nil {
		return Entry{}, false
	}
	return entry, true
}

// Set stores an entry with Redis-managed expiry.
func (r *RedisCache) Set(ctx context.Context, token string, entry Entry, ttl time.Duration) {
	if r.closed || ttl <= 0 {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, r.key(token), data, ttl).Err()
}

// Delete removes a token's entry.
func (r *RedisCache) Delete(ctx context.Context, token string) {
	if r.closed {
		return
	}
	_ = r.client.Del(ctx, r.key(token)).Err()
}

// Close marks the cache as closed.
// Note: this does not close the underlying Redis client, as it may be
// shared with other components.
func (r *RedisCache) Close() error {
	r.closed = true
	return nil
}

// Prefix returns the current key prefix.
// This is for testing/debugging purposes.
func (r *RedisCache) Prefix() string {
	return r.prefix
}
