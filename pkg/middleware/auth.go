package middleware

import (
	"context"
	"net/http"

	"github.com/authrelay/authrelay/pkg/identity"
)

// DefaultCookieName is the session cookie read by RequestAuth.
const DefaultCookieName = "relay-session"

// SessionResolver resolves a raw session token to a (user, session) pair.
// It must never return an error; ambiguity resolves to (nil, nil).
// resolver.Resolver satisfies this.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*identity.User, *identity.Session)
}

// AuthOption configures the RequestAuth middleware.
type AuthOption func(*authConfig)

type authConfig struct {
	cookieName string
}

// WithCookieName sets the cookie the session token is read from.
// Default: "relay-session".
func WithCookieName(name string) AuthOption {
	return func(c *authConfig) {
		if name != "" {
			c.cookieName = name
		}
	}
}

// RequestAuth returns middleware that resolves the session cookie exactly
// once per request and injects the result into the request context.
//
// The middleware always calls through to the next handler: it fails open
// to unauthenticated and never short-circuits the pipeline. Rejecting
// anonymous requests is the job of explicit downstream authorization, not
// this middleware. It writes no response headers.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(middleware.RequestAuth(resolver, middleware.WithCookieName("relay-session")))
//	r.Get("/profile", func(w http.ResponseWriter, req *http.Request) {
//	    user := middleware.UserFromContext(req.Context())
//	    ...
//	})
func RequestAuth(resolver SessionResolver, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := &authConfig{cookieName: DefaultCookieName}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if cookie, err := r.Cookie(cfg.cookieName); err == nil {
				token = cookie.Value
			}

			user, session := resolver.Resolve(r.Context(), token)

			// Session without a user would violate the context
			// invariant; null both rather than publish half a result.
			if user == nil {
				session = nil
			}

			ctx := WithAuthContext(r.Context(), AuthContext{User: user, Session: session})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
