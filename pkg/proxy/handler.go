// Package proxy forwards authentication verbs (sign-in, sign-out,
// callback, user and session queries) to the upstream identity service's
// REST surface.
//
// The proxy is deliberately dumb: it forwards an allow-list of headers in
// each direction, streams bodies unmodified (even malformed JSON), and
// never reinterprets upstream responses. The only response it manufactures
// itself is the structured 5xx body emitted when the upstream cannot be
// reached at all.
package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/authrelay/authrelay/internal/autherrors"
	"github.com/authrelay/authrelay/pkg/identity"
)

// allowedMethods are the verbs the proxy forwards. OPTIONS is answered
// locally and never reaches the upstream.
var allowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// requestHeaderAllowlist is forwarded from the inbound request upstream.
var requestHeaderAllowlist = []string{
	"Content-Type",
	"Authorization",
	"Cookie",
	"User-Agent",
	"Accept",
	"Accept-Language",
}

// responseHeaderAllowlist is forwarded from the upstream response back to
// the caller. Set-Cookie is copied with all values intact.
var responseHeaderAllowlist = []string{
	"Content-Type",
	"Set-Cookie",
	"Cache-Control",
	"Location",
}

// Handler is the catch-all auth proxy. Mount it under the configured
// local prefix; it maps everything below that prefix onto the upstream's
// versioned API surface.
type Handler struct {
	upstream  *url.URL
	apiPrefix string
	prefix    string
	creds     identity.Credentials
	client    *http.Client
	logger    *slog.Logger
	observe   func(statusClass string)
}

// Option configures a Handler.
type Option func(*Handler)

// WithPrefix sets the local URL prefix stripped from inbound paths.
// Default: "/handler".
func WithPrefix(prefix string) Option {
	return func(h *Handler) {
		if prefix != "" {
			h.prefix = strings.TrimSuffix(prefix, "/")
		}
	}
}

// WithAPIPrefix sets the upstream API version prefix. Default: "/api/v1".
func WithAPIPrefix(prefix string) Option {
	return func(h *Handler) {
		if prefix != "" {
			h.apiPrefix = prefix
		}
	}
}

// WithHTTPClient sets the HTTP client used for upstream calls. The
// client's timeout bounds each forwarded request.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		if client != nil {
			h.client = client
		}
	}
}

// WithTimeout sets the upstream timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithLogger sets the logger for proxy diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver sets a hook receiving the status class of each upstream
// exchange ("2xx", "4xx", "5xx", "unreachable"). Wire this to metrics.
func WithObserver(observe func(statusClass string)) Option {
	return func(h *Handler) {
		h.observe = observe
	}
}

// New creates a proxy handler forwarding to the given upstream base URL.
func New(upstreamBase string, creds identity.Credentials, opts ...Option) (*Handler, error) {
	upstream, err := url.Parse(upstreamBase)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, autherrors.New(autherrors.CodeConfiguration).
			WithDetail("proxy upstream base URL must be absolute: " + upstreamBase)
	}

	h := &Handler{
		upstream:  upstream,
		apiPrefix: "/api/v1",
		prefix:    "/handler",
		creds:     creds,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Prefix returns the local URL prefix.
func (h *Handler) Prefix() string { return h.prefix }

// ServeHTTP implements the catch-all proxy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.serveOptions(w)
		return
	}

	if !methodAllowed(r.Method) {
		w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	upstreamURL := h.upstreamURL(r)

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, body)
	if err != nil {
		h.writeSynthetic(w, autherrors.New(autherrors.CodeNetwork).Wrap(err))
		return
	}

	for _, name := range requestHeaderAllowlist {
		if values := r.Header.Values(name); len(values) > 0 {
			req.Header[http.CanonicalHeaderKey(name)] = values
		}
	}
	h.creds.Apply(req.Header)

	res, err := h.client.Do(req)
	if err != nil {
		ae := classifyTransportError(err)
		h.logger.Warn("auth proxy could not reach upstream",
			"method", r.Method,
			"path", r.URL.Path,
			"code", ae.Code,
			"error", err.Error(),
		)
		h.record("unreachable")
		h.writeSynthetic(w, ae)
		return
	}
	defer res.Body.Close()

	h.record(statusClass(res.StatusCode))

	// Upstream reachable: forward status and body verbatim, even errors.
	for _, name := range responseHeaderAllowlist {
		if values := res.Header.Values(name); len(values) > 0 {
			w.Header()[http.CanonicalHeaderKey(name)] = values
		}
	}
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		h.logger.Debug("auth proxy body copy interrupted", "error", err)
	}
}

// serveOptions answers CORS preflights locally with the supported verbs.
func (h *Handler) serveOptions(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusNoContent)
}

// upstreamURL maps the inbound request path onto the upstream API surface,
// preserving the original query string unmodified.
func (h *Handler) upstreamURL(r *http.Request) string {
	subpath := strings.TrimPrefix(r.URL.Path, h.prefix)
	if subpath == "" {
		subpath = "/"
	}

	u := *h.upstream
	u.Path = strings.TrimSuffix(u.Path, "/") + h.apiPrefix + subpath
	u.RawQuery = r.URL.RawQuery
	return u.String()
}

func (h *Handler) record(statusClass string) {
	if h.observe != nil {
		h.observe(statusClass)
	}
}

func methodAllowed(method string) bool {
	for _, m := range allowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// classifyTransportError maps transport failures onto the taxonomy.
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
