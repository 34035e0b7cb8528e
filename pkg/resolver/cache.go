package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/authrelay/authrelay/pkg/identity"
)

// Entry is a cached successful resolution. Entries are keyed by session
// token, never by user ID, so one session's cache hit can never leak into
// another session.
type Entry struct {
	User    *identity.User
	Session *identity.Session
}

// TokenCache is the resolver's cache backend. Implementations must be safe
// for concurrent use. Only successful resolutions are ever stored; negative
// results are never cached.
type TokenCache interface {
	// Get returns the cached entry for token, if present and unexpired.
	Get(ctx context.Context, token string) (Entry, bool)

	// Set stores a successful resolution with the given TTL.
	Set(ctx context.Context, token string, entry Entry, ttl time.Duration)

	// Delete removes a token's entry. Used on explicit sign-out.
	Delete(ctx context.Context, token string)

	// Close releases any resources held by the cache.
	Close() error
}

// MemoryCache is an in-memory TokenCache with TTL eviction and a periodic
// full sweep. It's the default cache and suitable for single-server
// deployments; multi-server deployments should share a RedisCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedEntry
	closed  bool
	done    chan struct{}
}

type cachedEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryCacheOption configures MemoryCache behavior.
type MemoryCacheOption func(*memoryCacheConfig)

type memoryCacheConfig struct {
	sweepInterval time.Duration
}

// WithSweepInterval sets how often expired entries are swept.
// Default: 1 minute.
func WithSweepInterval(d time.Duration) MemoryCacheOption {
	return func(c *memoryCacheConfig) {
		c.sweepInterval = d
	}
}

// NewMemoryCache creates a new in-memory token cache.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	cfg := &memoryCacheConfig{
		sweepInterval: 1 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cache := &MemoryCache{
		entries: make(map[string]*cachedEntry),
		done:    make(chan struct{}),
	}

	go cache.sweepLoop(cfg.sweepInterval)
	return cache
}

// Get returns the entry for token if present and unexpired.
func (m *MemoryCache) Get(ctx context.Context, token string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Entry{}, false
	}
	e, ok := m.entries[token]
	if !ok {
		return Entry{}, false
	}
	if time.Now().After(e.expiresAt) {
		return Entry{}, false
	}
	return e.entry, true
}

// Set stores an entry with the given TTL.
func (m *MemoryCache) Set(ctx context.Context, token string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.entries[token] = &cachedEntry{
		entry:     entry,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes a token's entry.
func (m *MemoryCache) Delete(ctx context.Context, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	delete(m.entries, token)
}

// Close shuts down the sweep loop and drops all entries.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.entries = nil
	return nil
}

// Count returns the number of entries, expired or not.
// This is for monitoring/testing purposes.
func (m *MemoryCache) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// sweepLoop periodically removes expired entries.
func (m *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

// sweep removes expired entries.
func (m *MemoryCache) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	now := time.Now()
	var expired []string
	for token, e := range m.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, token)
		}
	}
	for _, token := range expired {
		delete(m.entries, token)
	}
}
