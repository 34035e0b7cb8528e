// Package resolver turns raw session tokens into (user, session) pairs.
//
// The resolver is fail-open: any upstream failure (network error, timeout,
// non-2xx status, malformed payload) yields an unauthenticated result and
// is never cached, so a retried request can succeed as soon as the upstream
// recovers. Only successful resolutions enter the cache.
package resolver

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/authrelay/authrelay/pkg/identity"
)

// Resolution outcomes reported to the observer hook.
const (
	OutcomeAnonymous = "anonymous"
	OutcomeHit       = "hit"
	OutcomeResolved  = "resolved"
	OutcomeFailure   = "failure"
)

// Upstream validates a session token and fetches its owning user.
// identity.Client satisfies this.
type Upstream interface {
	ResolveToken(ctx context.Context, token string) (*identity.User, *identity.Session, error)
}

// Observer receives the outcome and duration of each resolution.
// Wire this to metrics; it must not block.
type Observer func(outcome string, d time.Duration)

// Resolver resolves session tokens with per-token caching and single-flight
// de-duplication of concurrent misses. Resolve never returns an error.
type Resolver struct {
	upstream Upstream
	cache    TokenCache
	ttl      time.Duration
	logger   *slog.Logger
	verbose  bool
	observe  Observer
	group    singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache sets the cache backend. Default: a MemoryCache.
func WithCache(cache TokenCache) Option {
	return func(r *Resolver) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithTTL sets how long successful resolutions are cached.
// Default: 5 minutes.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the logger for resolution diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithVerbose enables per-failure detail logging. Use in development;
// production gets terse warnings.
func WithVerbose(verbose bool) Option {
	return func(r *Resolver) {
		r.verbose = verbose
	}
}

// WithObserver sets the outcome observer hook.
func WithObserver(observe Observer) Option {
	return func(r *Resolver) {
		r.observe = observe
	}
}

// New creates a Resolver backed by the given upstream.
func New(upstream Upstream, opts ...Option) *Resolver {
	r := &Resolver{
		upstream: upstream,
		ttl:      5 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewMemoryCache()
	}
	return r
}

// Cache returns the resolver's cache backend.
func (r *Resolver) Cache() TokenCache { return r.cache }

// Resolve maps a session token to its (user, session) pair.
//
// An empty token short-circuits to (nil, nil) with no upstream call, the
// fast path for anonymous traffic. A cached token returns its entry
// verbatim. Otherwise one upstream lookup runs (concurrent misses for the
// same token share a single flight); success is cached for the TTL,
// failure returns (nil, nil) uncached.
//
// Resolve never returns an error and never panics: every ambiguity
// resolves to unauthenticated.
func (r *Resolver) Resolve(ctx context.Context, token string) (*identity.User, *identity.Session) {
	start := time.Now()

	if token == "" {
		r.record(OutcomeAnonymous, start)
		return nil, nil
	}

	if entry, ok := r.cache.Get(ctx, token); ok {
		r.record(OutcomeHit, start)
		return entry.User, entry.Session
	}

	v, err, _ := r.group.Do(token, func() (any, error) {
		user, session, err := r.upstream.ResolveToken(ctx, token)
		if err != nil {
			return nil, err
		}
		entry := Entry{User: user, Session: session}
		r.cache.Set(ctx, token, entry, r.ttl)
		return entry, nil
	})
	if err != nil {
		if r.verbose {
			r.logger.Debug("session resolution failed, treating as unauthenticated",
				"error", err)
		} else {
			r.logger.Warn("session resolution failed, treating as unauthenticated",
				"error", err.Error())
		}
		r.record(OutcomeFailure, start)
		return nil, nil
	}

	entry := v.(Entry)
	r.record(OutcomeResolved, start)
	return entry.User, entry.Session
}

// Invalidate drops the cached entry for a token. Call on explicit
// sign-out so the next request revalidates upstream.
func (r *Resolver) Invalidate(ctx context.Context, token string) {
	if token == "" {
		return
	}
	r.cache.Delete(ctx, token)
}

// Close releases the cache.
func (r *Resolver) Close() error {
	return r.cache.Close()
}

func (r *Resolver) record(outcome string, start time.Time) {
	if r.observe != nil {
		r.observe(outcome, time.Since(start))
	}
}
