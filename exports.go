package authrelay

import (
	"github.com/authrelay/authrelay/internal/autherrors"
	"github.com/authrelay/authrelay/internal/config"
	"github.com/authrelay/authrelay/pkg/identity"
	"github.com/authrelay/authrelay/pkg/middleware"
	"github.com/authrelay/authrelay/pkg/state"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds every startup setting. See LoadConfig for file and
// environment loading.
type Config = config.Config

// Duration is a time.Duration that marshals as a string like "5m".
type Duration = config.Duration

// Configuration defaults.
const (
	DefaultPrefix          = config.DefaultPrefix
	DefaultCookieName      = config.DefaultCookieName
	DefaultSyncPath        = config.DefaultSyncPath
	DefaultCacheTTL        = config.DefaultCacheTTL
	DefaultUpstreamTimeout = config.DefaultUpstreamTimeout
	DefaultAPIPrefix       = config.DefaultAPIPrefix
)

// =============================================================================
// Identity types
// =============================================================================

// User is the identity service's user record.
type User = identity.User

// Session is the identity service's session record.
type Session = identity.Session

// Credentials are the per-project upstream credentials.
type Credentials = identity.Credentials

// =============================================================================
// Request auth context
// =============================================================================

// AuthContext is the resolved (user, session) pair for one request.
type AuthContext = middleware.AuthContext

// FromContext returns the request's resolved auth context.
var FromContext = middleware.FromContext

// UserFromContext returns the request's resolved user, or nil.
var UserFromContext = middleware.UserFromContext

// SessionFromContext returns the request's resolved session, or nil.
var SessionFromContext = middleware.SessionFromContext

// =============================================================================
// Hydration snapshots
// =============================================================================

// Snapshot is the {user, session} pair a server-rendered page embeds for
// the client store to adopt at startup.
type Snapshot = state.Snapshot

// SnapshotFromAuthContext builds a hydration snapshot from a request's
// resolved auth context.
var SnapshotFromAuthContext = state.SnapshotFromAuthContext

// EncodeSnapshot renders a snapshot as JSON for embedding in a page.
var EncodeSnapshot = state.EncodeSnapshot

// DecodeSnapshot parses an embedded snapshot, returning nil on failure.
var DecodeSnapshot = state.DecodeSnapshot

// =============================================================================
// Errors
// =============================================================================

// Error is the structured error shape used across all components.
type Error = autherrors.AuthError

// Stable error codes carried by Error.Code.
const (
	CodeNetwork            = autherrors.CodeNetwork
	CodeTimeout            = autherrors.CodeTimeout
	CodeCORS               = autherrors.CodeCORS
	CodeRateLimited        = autherrors.CodeRateLimited
	CodeServiceUnavailable = autherrors.CodeServiceUnavailable
	CodeInvalidCredentials = autherrors.CodeInvalidCredentials
	CodeComponent          = autherrors.CodeComponent
	CodeConfiguration      = autherrors.CodeConfiguration
)

// ErrorCode returns the code of err if it is (or wraps) an Error.
var ErrorCode = autherrors.CodeOf

// IsCode reports whether err carries the given error code.
var IsCode = autherrors.Is
