package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/authrelay/authrelay/internal/autherrors"
)

const (
	// HeaderProjectID carries the project identifier on upstream calls.
	HeaderProjectID = "X-Auth-Project-Id"

	// HeaderPublishableClientKey carries the client-visible credential.
	HeaderPublishableClientKey = "X-Auth-Publishable-Client-Key"

	// HeaderSecretServerKey carries the server-only credential.
	HeaderSecretServerKey = "X-Auth-Secret-Server-Key"

	// HeaderSessionToken carries the opaque session token being resolved.
	HeaderSessionToken = "X-Auth-Session-Token"
)

const tracerName = "authrelay/identity"

// Credentials identify this project to the upstream identity service.
type Credentials struct {
	ProjectID            string
	PublishableClientKey string
	SecretServerKey      string
}

// Apply sets the credential headers on h.
func (c Credentials) Apply(h http.Header) {
	if c.ProjectID != "" {
		h.Set(HeaderProjectID, c.ProjectID)
	}
	if c.PublishableClientKey != "" {
		h.Set(HeaderPublishableClientKey, c.PublishableClientKey)
	}
	if c.SecretServerKey != "" {
		h.Set(HeaderSecretServerKey, c.SecretServerKey)
	}
}

// Client calls the upstream identity service's REST surface. It performs
// session validation and user fetches; it never interprets upstream
// payloads beyond the fields the core depends on.
type Client struct {
	base      *url.URL
	apiPrefix string
	creds     Credentials
	http      *http.Client
	timeout   time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each upstream call. An exceeded timeout is treated
// identically to a network failure by callers.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAPIPrefix sets the upstream API version prefix (default "/api/v1").
func WithAPIPrefix(prefix string) ClientOption {
	return func(c *Client) {
		if prefix != "" {
			c.apiPrefix = prefix
		}
	}
}

// WithLogger sets the logger for upstream diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates an identity service client for the given base URL.
func NewClient(baseURL string, creds Credentials, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, autherrors.New(autherrors.CodeConfiguration).
			WithDetail(fmt.Sprintf("identity base URL %q is not an absolute URL", baseURL))
	}

	c := &Client{
		base:      base,
		apiPrefix: "/api/v1",
		creds:     creds,
		http:      &http.Client{},
		timeout:   10 * time.Second,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() *url.URL { return c.base }

// APIPrefix returns the upstream API version prefix.
func (c *Client) APIPrefix() string { return c.apiPrefix }

// Credentials returns the project credentials.
func (c *Client) Credentials() Credentials { return c.creds }

// CurrentSession validates a session token against the upstream.
// A nil error means the token maps to a live session.
func (c *Client) CurrentSession(ctx context.Context, token string) (*Session, error) {
	var session Session
	if err := c.get(ctx, "/sessions/current", token, &session); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, autherrors.New(autherrors.CodeNetwork).
			WithDetail("session payload missing id")
	}
	return &session, nil
}

// CurrentUser fetches the user owning the given session token.
func (c *Client) CurrentUser(ctx context.Context, token string) (*User, error) {
	var user User
	if err := c.get(ctx, "/users/me", token, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, autherrors.New(autherrors.CodeNetwork).
			WithDetail("user payload missing id")
	}
	return &user, nil
}

// ResolveToken performs the full session-validation-then-user-fetch
// sequence. It satisfies the resolver's Upstream contract.
func (c *Client) ResolveToken(ctx context.Context, token string) (*User, *Session, error) {
	session, err := c.CurrentSession(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	user, err := c.CurrentUser(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// get performs one GET against the upstream API and decodes the response.
// Every failure mode maps into the bounded error taxonomy.
func (c *Client) get(ctx context.Context, path, token string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + c.apiPrefix + path

	ctx, span := c.tracer.Start(ctx, "identity.get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("identity.path", path)),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return autherrors.New(autherrors.CodeNetwork).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	c.creds.Apply(req.Header)
	if token != "" {
		req.Header.Set(HeaderSessionToken, token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		ae := classifyTransportError(err)
		c.logger.Debug("identity upstream call failed",
			"path", path, "code", ae.Code, "error", err.Error())
		span.SetStatus(codes.Error, ae.Error())
		return ae
	}
	defer res.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Debug("identity upstream rejected request",
			"path", path, "status", res.StatusCode)
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			c.logger.Debug("identity upstream payload malformed",
				"path", path, "error", err.Error())
			span.SetStatus(codes.Error, "malformed payload")
			return autherrors.New(autherrors.CodeNetwork).
				WithDetail("malformed upstream payload").Wrap(err)
		}
		span.SetStatus(codes.Ok, "")
		return nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		drain(res.Body)
		return autherrors.New(autherrors.CodeInvalidCredentials).
			WithDetail(fmt.Sprintf("upstream returned %d for %s", res.StatusCode, path))
	case res.StatusCode == http.StatusTooManyRequests:
		drain(res.Body)
		return autherrors.New(autherrors.CodeRateLimited)
	case res.StatusCode >= 500:
		drain(res.Body)
		return autherrors.New(autherrors.CodeServiceUnavailable).
			WithDetail(fmt.Sprintf("upstream returned %d for %s", res.StatusCode, path))
	default:
		drain(res.Body)
		return autherrors.New(autherrors.CodeNetwork).
			WithDetail(fmt.Sprintf("upstream returned %d for %s", res.StatusCode, path))
	}
}

// classifyTransportError maps transport failures onto the taxonomy:
// timeouts become TIMEOUT_ERROR, everything else NETWORK_ERROR.
func classifyTransportError(err error) *autherrors.AuthError {
	if errors.Is(err, context.DeadlineExceeded) {
		return autherrors.New(autherrors.CodeTimeout).Wrap(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return autherrors.New(autherrors.CodeTimeout).Wrap(err)
	}
	return autherrors.New(autherrors.CodeNetwork).Wrap(err)
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 1<<16))
}
