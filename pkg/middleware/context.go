package middleware

import (
	"context"

	"github.com/authrelay/authrelay/pkg/identity"
)

// AuthContext is the request-scoped authentication result. It is created
// empty at request start, written at most once by RequestAuth, and
// read-only afterward.
//
// Invariant: Session != nil implies User != nil. On no-token, no-match, or
// resolver failure both are nil.
type AuthContext struct {
	User    *identity.User
	Session *identity.Session
}

// IsAuthenticated reports whether both a user and a session were resolved.
func (a AuthContext) IsAuthenticated() bool {
	return a.User != nil && a.Session != nil
}

type authContextKey struct{}

// WithAuthContext returns a context carrying the given AuthContext.
// RequestAuth calls this; tests may use it to fabricate authenticated
// requests.
func WithAuthContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// FromContext returns the AuthContext for this request. The zero value is
// returned for requests that never passed through RequestAuth.
func FromContext(ctx context.Context) AuthContext {
	if ctx == nil {
		return AuthContext{}
	}
	ac, _ := ctx.Value(authContextKey{}).(AuthContext)
	return ac
}

// UserFromContext returns the resolved user, or nil for anonymous requests.
func UserFromContext(ctx context.Context) *identity.User {
	return FromContext(ctx).User
}

// SessionFromContext returns the resolved session, or nil for anonymous
// requests.
func SessionFromContext(ctx context.Context) *identity.Session {
	return FromContext(ctx).Session
}
