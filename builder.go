package impactlog

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/impactlog/impactlog/internal/rate"
	"github.com/impactlog/impactlog/internal/transport"
	"github.com/impactlog/impactlog/route"
	"github.com/impactlog/impactlog/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a [Controller]. Configure it during initialization, then
// call Build once.
type Builder struct {
	config     Config
	tokens     session.TokenStore
	redis      redis.UniversalClient
	httpClient *http.Client
	logger     *slog.Logger
	auditSink  AuditSink
	routes     *route.Table
	now        func() time.Time

	ownedRedis redis.UniversalClient
	built      bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTokenStore sets the durable token slot. Without it Build derives one
// from Config.Session.
func (b *Builder) WithTokenStore(tokens session.TokenStore) *Builder {
	b.tokens = tokens
	return b
}

// WithRedis supplies the client for the "redis" session backend instead of
// dialing Config.Session.RedisAddr. The controller does not close it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithHTTPClient sets the client used for backend calls.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithLogger sets the structured logger. The default is slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	if !enabled {
		b.config.Metrics.EnableLatencyHistograms = false
	}
	return b
}

// WithLatencyHistograms toggles the request latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithRouteTable replaces the route table derived from Config.Routes.
func (b *Builder) WithRouteTable(table *route.Table) *Builder {
	b.routes = table
	return b
}

// WithClock overrides time.Now for audit timestamps and invalidations.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a controller whose session
// is loading. Call [Controller.Bootstrap] next.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baseURL, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	routes := b.routes
	if routes == nil {
		routes, err = routeTableFor(cfg.Routes)
		if err != nil {
			return nil, err
		}
	}

	c := &Controller{
		config:  cfg,
		logger:  logger,
		routes:  routes,
		metrics: NewMetrics(cfg.Metrics),
		now:     now,
	}

	tokens := b.tokens
	if tokens == nil {
		tokens, err = b.tokenStoreFor(c, cfg.Session)
		if err != nil {
			return nil, err
		}
	}
	c.store, c.writer = session.New(tokens)

	if cfg.Throttle.Enabled {
		if b.redis == nil && cfg.Session.RedisAddr == "" {
			c.runClosers()
			return nil, errors.New("Throttle requires WithRedis or Session RedisAddr")
		}
		c.throttle = rate.New(b.redisFor(c, cfg.Session.RedisAddr), rate.Config{
			MaxAttempts: cfg.Throttle.MaxAttempts,
			Window:      cfg.Throttle.Window,
			Prefix:      cfg.Throttle.Prefix,
		})
	}

	client, err := transport.New(transport.Config{
		BaseURL:          baseURL,
		HTTPClient:       b.httpClient,
		Timeout:          cfg.HTTP.Timeout,
		UserAgent:        cfg.HTTP.UserAgent,
		MaxResponseBytes: cfg.HTTP.MaxResponseBytes,
		Logger:           logger,
		Credentials:      c.credential,
		OnUnauthorized:   c.handleUnauthorized,
		Observe:          c.observeRequest,
	})
	if err != nil {
		c.runClosers()
		return nil, err
	}
	c.client = client

	c.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	c.flows = c.buildFlowDeps()
	c.logs = &ImpactLogs{controller: c}

	b.built = true
	return c, nil
}

func (b *Builder) tokenStoreFor(c *Controller, cfg SessionConfig) (session.TokenStore, error) {
	switch cfg.Backend {
	case "memory":
		return session.NewMemoryTokenStore(), nil
	case "redis":
		return session.NewRedisTokenStore(b.redisFor(c, cfg.RedisAddr), cfg.RedisKey, cfg.RedisTTL), nil
	case "", "file":
		path := cfg.FilePath
		if path == "" {
			path = session.DefaultTokenFilePath()
		}
		if path == "" {
			return nil, fmt.Errorf("%w: no location for the session file", ErrStorageUnavailable)
		}
		return session.NewFileTokenStore(path), nil
	default:
		return nil, fmt.Errorf("session backend %q is not supported", cfg.Backend)
	}
}

// redisFor returns the WithRedis client, or one client dialing addr that
// the token store and the throttle share and the controller closes.
func (b *Builder) redisFor(c *Controller, addr string) redis.UniversalClient {
	if b.redis != nil {
		return b.redis
	}
	if b.ownedRedis == nil {
		owned := redis.NewClient(&redis.Options{Addr: addr})
		c.closers = append(c.closers, owned.Close)
		b.ownedRedis = owned
	}
	return b.ownedRedis
}

func (c *Controller) runClosers() {
	for _, closeFn := range c.closers {
		_ = closeFn()
	}
}

// routeTableFor builds the application's table with the configured login
// and home views.
func routeTableFor(cfg RoutesConfig) (*route.Table, error) {
	defaults := route.DefaultPaths
	paths := route.Paths{Login: cfg.Login, UserHome: cfg.UserHome, AdminHome: cfg.AdminHome}
	if paths == defaults && cfg.Fallback == "/" {
		return route.DefaultTable(), nil
	}

	rename := map[string]string{
		defaults.Login:     paths.Login,
		defaults.UserHome:  paths.UserHome,
		defaults.AdminHome: paths.AdminHome,
	}
	entries := route.DefaultTable().Entries()
	for i := range entries {
		if to, ok := rename[entries[i].Path]; ok {
			entries[i].Path = to
		}
	}
	return route.NewTable(paths, cfg.Fallback, entries)
}
