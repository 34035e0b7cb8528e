// Package authrelay wires session resolution, the auth proxy, and the
// cross-context sync relay into a single http.Handler.
//
// This is the recommended import for most applications:
//
//	import "github.com/authrelay/authrelay"
//
// Usage:
//
//	app, err := authrelay.New(authrelay.Config{
//	    UpstreamURL:          "https://identity.example.com",
//	    ProjectID:            "proj_123",
//	    PublishableClientKey: "pck_abc",
//	    SecretServerKey:      os.Getenv("AUTHRELAY_SECRET_SERVER_KEY"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Close()
//	http.ListenAndServe(":8080", app)
//
// Every request then carries a resolved auth context:
//
//	user := authrelay.UserFromContext(r.Context())
package authrelay

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/authrelay/authrelay/internal/config"
	"github.com/authrelay/authrelay/pkg/identity"
	"github.com/authrelay/authrelay/pkg/middleware"
	"github.com/authrelay/authrelay/pkg/proxy"
	"github.com/authrelay/authrelay/pkg/resolver"
	"github.com/authrelay/authrelay/pkg/state"
	"github.com/authrelay/authrelay/pkg/syncbus"
)

// App is the assembled server-side auth layer: resolver middleware on
// every route, the auth proxy under Prefix, and the sync relay at
// SyncPath.
type App struct {
	config   Config
	logger   *slog.Logger
	client   *identity.Client
	resolver *resolver.Resolver
	proxy    *proxy.Handler
	relay    *syncbus.Relay
	mux      *chi.Mux

	extraMiddleware []func(http.Handler) http.Handler
	routes          func(r chi.Router)
	tokenCache      resolver.TokenCache
	tracing         bool
}

// Option configures an App beyond its Config.
type Option func(*App)

// WithLogger sets the logger used by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTokenCache replaces the default in-memory resolver cache, e.g.
// with a Redis-backed one shared between replicas.
func WithTokenCache(cache resolver.TokenCache) Option {
	return func(a *App) {
		a.tokenCache = cache
	}
}

// WithMiddleware adds middleware mounted after the auth middleware, so
// it sees the resolved auth context.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(a *App) {
		a.extraMiddleware = append(a.extraMiddleware, mw...)
	}
}

// WithRoutes registers application routes on the router. They run behind
// the auth middleware.
func WithRoutes(fn func(r chi.Router)) Option {
	return func(a *App) {
		a.routes = fn
	}
}

// WithTracing toggles the OpenTelemetry request middleware. Default on.
func WithTracing(enabled bool) Option {
	return func(a *App) {
		a.tracing = enabled
	}
}

// New assembles an App from cfg. Unset optional settings get their
// defaults; validation failures are returned immediately, so nothing
// degrades at request time because of a bad Config.
func New(cfg Config, opts ...Option) (*App, error) {
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		config:  cfg,
		logger:  slog.Default(),
		tracing: true,
	}
	for _, opt := range opts {
		opt(a)
	}

	creds := identity.Credentials{
		ProjectID:            cfg.ProjectID,
		PublishableClientKey: cfg.PublishableClientKey,
		SecretServerKey:      cfg.SecretServerKey,
	}

	client, err := identity.NewClient(cfg.UpstreamURL, creds,
		identity.WithTimeout(cfg.UpstreamTimeout.Std()),
		identity.WithAPIPrefix(cfg.APIPrefix),
		identity.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	a.client = client

	cache := a.tokenCache
	if cache == nil {
		cache = resolver.NewMemoryCache()
	}
	a.resolver = resolver.New(client,
		resolver.WithCache(cache),
		resolver.WithTTL(cfg.CacheTTL.Std()),
		resolver.WithLogger(a.logger),
		resolver.WithVerbose(cfg.Development),
		resolver.WithObserver(middleware.RecordResolution),
	)

	a.proxy, err = proxy.New(cfg.UpstreamURL, creds,
		proxy.WithPrefix(cfg.Prefix),
		proxy.WithAPIPrefix(cfg.APIPrefix),
		proxy.WithTimeout(cfg.UpstreamTimeout.Std()),
		proxy.WithLogger(a.logger),
		proxy.WithObserver(middleware.RecordProxyUpstream),
	)
	if err != nil {
		return nil, err
	}

	a.relay = syncbus.NewRelay(syncbus.WithRelayLogger(a.logger))

	mux := chi.NewRouter()
	mux.Use(middleware.Prometheus())
	if a.tracing {
		mux.Use(middleware.OpenTelemetry())
	}
	mux.Use(middleware.RequestAuth(a.resolver, middleware.WithCookieName(cfg.CookieName)))
	for _, mw := range a.extraMiddleware {
		mux.Use(mw)
	}

	mux.Handle(cfg.Prefix+"/*", a.proxy)
	mux.Handle(cfg.SyncPath, a.relay)
	if a.routes != nil {
		a.routes(mux)
	}
	a.mux = mux

	return a, nil
}

// ServeHTTP dispatches to the assembled router.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Handler returns the App as an http.Handler.
func (a *App) Handler() http.Handler { return a.mux }

// Router returns the underlying chi router for additional mounting.
func (a *App) Router() chi.Router { return a.mux }

// Client returns the identity service client.
func (a *App) Client() *identity.Client { return a.client }

// Resolver returns the session resolver, e.g. to invalidate a token
// after a server-side sign-out.
func (a *App) Resolver() *resolver.Resolver { return a.resolver }

// Relay returns the sync relay endpoint.
func (a *App) Relay() *syncbus.Relay { return a.relay }

// Config returns the validated configuration.
func (a *App) Config() Config { return a.config }

// Run starts an HTTP server on addr. It blocks until the server exits.
func (a *App) Run(addr string) error {
	a.logger.Info("authrelay listening",
		"addr", addr,
		"prefix", a.config.Prefix,
		"sync_path", a.config.SyncPath)
	return http.ListenAndServe(addr, a)
}

// Close releases the resolver cache and disconnects sync clients.
func (a *App) Close() error {
	a.relay.Close()
	return a.resolver.Close()
}

// NewSyncBus attaches a cross-context sync bus to store with the metrics
// observer pre-wired, so bus dispositions show up alongside the request
// metrics. Further options are applied after it and may override it.
func NewSyncBus(store *state.Store, opts ...syncbus.BusOption) *syncbus.Bus {
	all := make([]syncbus.BusOption, 0, len(opts)+1)
	all = append(all, syncbus.WithBusObserver(middleware.RecordSyncMessage))
	all = append(all, opts...)
	return syncbus.NewBus(store, all...)
}

// LoadConfig reads the configuration from path (or ./authrelay.json when
// path is empty), applies AUTHRELAY_* environment overrides, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
