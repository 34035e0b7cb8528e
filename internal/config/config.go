package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/authrelay/authrelay/internal/autherrors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "authrelay.json"

	// DefaultPrefix is the URL prefix under which auth verbs are proxied.
	DefaultPrefix = "/handler"

	// DefaultCookieName is the cookie carrying the opaque session token.
	DefaultCookieName = "relay-session"

	// DefaultSyncPath is the endpoint the cross-context sync relay listens on.
	DefaultSyncPath = "/auth/sync"

	// DefaultCacheTTL bounds how long a resolved (user, session) pair is reused.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultUpstreamTimeout bounds every call to the identity service.
	DefaultUpstreamTimeout = 10 * time.Second

	// DefaultAPIPrefix is the identity service's versioned API prefix.
	DefaultAPIPrefix = "/api/v1"
)

// Config holds every startup setting. It is validated once at startup;
// an invalid Config is a fatal error, never a per-request one.
type Config struct {
	// UpstreamURL is the identity service's base URL.
	UpstreamURL string `json:"upstreamUrl"`

	// ProjectID identifies the project at the identity service.
	ProjectID string `json:"projectId"`

	// PublishableClientKey is the client-visible project credential.
	PublishableClientKey string `json:"publishableClientKey"`

	// SecretServerKey is the server-only project credential.
	SecretServerKey string `json:"secretServerKey,omitempty"`

	// Prefix is the local URL prefix for proxied auth verbs (default "/handler").
	Prefix string `json:"prefix,omitempty"`

	// CookieName is the session cookie name (default "relay-session").
	CookieName string `json:"cookieName,omitempty"`

	// SyncPath is where the sync relay websocket is mounted (default "/auth/sync").
	SyncPath string `json:"syncPath,omitempty"`

	// CacheTTL is the resolver cache TTL (e.g. "5m").
	CacheTTL Duration `json:"cacheTtl,omitempty"`

	// UpstreamTimeout bounds each identity service call (e.g. "10s").
	UpstreamTimeout Duration `json:"upstreamTimeout,omitempty"`

	// APIPrefix is the upstream API version prefix (default "/api/v1").
	APIPrefix string `json:"apiPrefix,omitempty"`

	// Development enables verbose diagnostics.
	Development bool `json:"development,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// Duration is a time.Duration that marshals as a string like "5m".
type Duration time.Duration

// UnmarshalJSON parses either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads configuration from path (if it exists), applies environment
// overrides, fills defaults, and validates. A missing file is not an error;
// the environment alone may supply everything.
func Load(path string) (*Config, error) {
	cfg := &Config{configPath: path}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, autherrors.New(autherrors.CodeConfiguration).
					WithDetail(fmt.Sprintf("failed to parse %s: %v", path, err)).
					Wrap(err)
			}
		case os.IsNotExist(err):
			// Environment-only configuration.
		default:
			return nil, autherrors.New(autherrors.CodeConfiguration).
				WithDetail(fmt.Sprintf("failed to read %s: %v", path, err)).
				Wrap(err)
		}
	}

	applyEnv(cfg)
	cfg.FillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from AUTHRELAY_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AUTHRELAY_UPSTREAM_URL"); v != "" {
		cfg.UpstreamURL = v
	}
	if v := os.Getenv("AUTHRELAY_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("AUTHRELAY_PUBLISHABLE_CLIENT_KEY"); v != "" {
		cfg.PublishableClientKey = v
	}
	if v := os.Getenv("AUTHRELAY_SECRET_SERVER_KEY"); v != "" {
		cfg.SecretServerKey = v
	}
	if v := os.Getenv("AUTHRELAY_PREFIX"); v != "" {
		cfg.Prefix = v
	}
	if v := os.Getenv("AUTHRELAY_COOKIE_NAME"); v != "" {
		cfg.CookieName = v
	}
	if v := os.Getenv("AUTHRELAY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = Duration(d)
		}
	}
	if v := os.Getenv("AUTHRELAY_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.UpstreamTimeout = Duration(d)
		}
	}
	if v := os.Getenv("AUTHRELAY_DEVELOPMENT"); v == "1" || strings.EqualFold(v, "true") {
		cfg.Development = true
	}
}

// FillDefaults applies defaults for unset optional settings.
func (c *Config) FillDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.SyncPath == "" {
		c.SyncPath = DefaultSyncPath
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = Duration(DefaultCacheTTL)
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = Duration(DefaultUpstreamTimeout)
	}
	if c.APIPrefix == "" {
		c.APIPrefix = DefaultAPIPrefix
	}
}

// Validate checks required settings and value shapes. Every failure names
// the offending setting and links to remediation docs.
func (c *Config) Validate() error {
	var missing []string
	if c.UpstreamURL == "" {
		missing = append(missing, "upstreamUrl (AUTHRELAY_UPSTREAM_URL)")
	}
	if c.ProjectID == "" {
		missing = append(missing, "projectId (AUTHRELAY_PROJECT_ID)")
	}
	if c.PublishableClientKey == "" {
		missing = append(missing, "publishableClientKey (AUTHRELAY_PUBLISHABLE_CLIENT_KEY)")
	}
	if len(missing) > 0 {
		return autherrors.New(autherrors.CodeConfiguration).
			WithDetail("missing required settings: " + strings.Join(missing, ", "))
	}

	u, err := url.Parse(c.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return autherrors.New(autherrors.CodeConfiguration).
			WithDetail(fmt.Sprintf("upstreamUrl %q is not an absolute URL", c.UpstreamURL))
	}

	if !strings.HasPrefix(c.Prefix, "/") || strings.HasSuffix(c.Prefix, "/") {
		return autherrors.New(autherrors.CodeConfiguration).
			WithDetail(fmt.Sprintf("prefix %q must start with '/' and not end with '/'", c.Prefix))
	}

	if c.CacheTTL.Std() <= 0 {
		return autherrors.New(autherrors.CodeConfiguration).
			WithDetail("cacheTtl must be positive")
	}
	if c.UpstreamTimeout.Std() <= 0 {
		return autherrors.New(autherrors.CodeConfiguration).
			WithDetail("upstreamTimeout must be positive")
	}
	return nil
}

// Path returns where the config was loaded from, if anywhere.
func (c *Config) Path() string { return c.configPath }
