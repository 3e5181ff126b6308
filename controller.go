package impactlog

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/impactlog/impactlog/internal/audit"
	"github.com/impactlog/impactlog/internal/flows"
	"github.com/impactlog/impactlog/internal/rate"
	"github.com/impactlog/impactlog/internal/transport"
	"github.com/impactlog/impactlog/route"
	"github.com/impactlog/impactlog/session"
)

// Controller owns the session. It is the only holder of the session
// [session.Writer]; views read through [Controller.Session] and change the
// session only by calling the methods below.
//
// All methods are safe for concurrent use. Writes are serialized by the
// session writer and every background write is conditional on the session
// generation, so a late answer can never resurrect a session that was
// replaced or cleared in the meantime.
type Controller struct {
	config   Config
	logger   *slog.Logger
	store    *session.Store
	writer   *session.Writer
	client   *transport.Client
	routes   *route.Table
	metrics  *Metrics
	audit    *audit.Dispatcher
	now      func() time.Time
	flows    flows.Deps
	logs     *ImpactLogs
	throttle *rate.Limiter

	subMu   sync.Mutex
	subs    map[uint64]func(Invalidation)
	nextSub uint64

	closers   []func() error
	closed    atomic.Bool
	closeOnce sync.Once
}

// Bootstrap restores the stored token and, when there is one, hydrates the
// profile from the identity endpoint. It always ends the loading window.
//
// A nil error means the session is settled as anonymous or authenticated. A
// non-nil error is informational: the session is already settled. An
// authoritative rejection (ErrUnauthorized or ErrForbidden) has cleared the
// session; any other error left the token and any profile already held in
// place.
func (c *Controller) Bootstrap(ctx context.Context) error {
	if !c.ready() {
		return ErrControllerNotReady
	}
	deps := c.flows.Hydrate
	deps.RequireToken = true
	return c.hydrate(ctx, deps)
}

// Refresh re-reads the profile from the identity endpoint, even when no
// token is held. The outcome rules are those of Bootstrap.
func (c *Controller) Refresh(ctx context.Context) error {
	if !c.ready() {
		return ErrControllerNotReady
	}
	deps := c.flows.Hydrate
	deps.RequireToken = false
	return c.hydrate(ctx, deps)
}

func (c *Controller) hydrate(ctx context.Context, deps flows.HydrateDeps) error {
	result := flows.RunHydrate(ctx, deps)
	if result.Outcome == flows.HydrateApplied {
		c.logger.Debug("session hydrated", "user_id", result.Profile.ID, "role", result.Profile.Role)
	}
	return result.Err
}

// SignIn exchanges credentials for a session. On success the session holds
// the returned token and profile. On failure the session is unchanged and
// the error is one of ErrValidation, ErrInvalidCredentials,
// ErrAccountNotFound, ErrServerError, ErrNetworkError or
// ErrStorageUnavailable.
func (c *Controller) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	if !c.ready() {
		return nil, ErrControllerNotReady
	}
	result, err := flows.RunExchange(ctx, flows.ExchangeRequest{Email: email, Password: password}, c.flows.SignIn)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: result.Token, Profile: result.Profile}, nil
}

// SignUp creates an account and signs it in. Failure semantics follow
// SignIn; an already registered email yields ErrAccountExists.
func (c *Controller) SignUp(ctx context.Context, email, password, name string) (*AuthResult, error) {
	if !c.ready() {
		return nil, ErrControllerNotReady
	}
	req := flows.ExchangeRequest{Email: email, Password: password, Name: name}
	result, err := flows.RunExchange(ctx, req, c.flows.SignUp)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: result.Token, Profile: result.Profile}, nil
}

// SignOut clears the session. It needs no network round-trip and is
// idempotent. When API.LogoutPath is configured the backend is notified
// first, best-effort. The only error is a failed removal of the stored
// token, wrapped in ErrStorageUnavailable; memory is cleared regardless.
func (c *Controller) SignOut(ctx context.Context) error {
	if !c.ready() {
		return ErrControllerNotReady
	}

	before := c.store.Get()
	if c.config.API.LogoutPath != "" && before.HasToken() {
		if err := c.client.Do(ctx, transport.Request{Method: http.MethodPost, Path: c.config.API.LogoutPath}, nil); err != nil {
			c.logger.Debug("logout notification failed", "error", err)
		}
	}

	err := c.writer.Clear(ctx)
	if err != nil {
		c.logger.Warn("stored token not removed", "error", err)
	}

	c.metricInc(MetricSignOut)
	c.emitAudit(ctx, auditEventSignOut, err == nil, fieldsFor(before.Profile, before.Generation), err, nil)
	return err
}

// Session returns the read-only view of the session.
func (c *Controller) Session() *session.Store {
	if c == nil {
		return nil
	}
	return c.store
}

// Snapshot is shorthand for Session().Get().
func (c *Controller) Snapshot() session.Snapshot {
	if c == nil {
		return session.Snapshot{}
	}
	return c.store.Get()
}

// Routes returns the route table used by Decide and the 401 policy.
func (c *Controller) Routes() *route.Table {
	if c == nil {
		return nil
	}
	return c.routes
}

// Decide runs the route guard for a navigation to path against the current
// session.
func (c *Controller) Decide(path string) route.Decision {
	return c.routes.Resolve(path, c.store.Get())
}

// Logs returns the impact-log API client. Its calls share the session token
// and the 401 policy.
func (c *Controller) Logs() *ImpactLogs {
	if c == nil {
		return nil
	}
	return c.logs
}

// OnInvalidated registers fn to be called after the session was cleared by
// a 401. fn runs on the goroutine that made the rejected request, after the
// clear is visible in the session. The returned function unregisters it.
func (c *Controller) OnInvalidated(fn func(Invalidation)) (cancel func()) {
	if c == nil || fn == nil {
		return func() {}
	}
	c.subMu.Lock()
	if c.subs == nil {
		c.subs = make(map[uint64]func(Invalidation))
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Invalidations returns a channel receiving every invalidation until ctx is
// done. Events are dropped when the buffer of size buffer is full.
func (c *Controller) Invalidations(ctx context.Context, buffer int) <-chan Invalidation {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Invalidation, buffer)
	var mu sync.Mutex
	done := false
	cancel := c.OnInvalidated(func(inv Invalidation) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		select {
		case ch <- inv:
		default:
		}
	})
	go func() {
		<-ctx.Done()
		cancel()
		mu.Lock()
		done = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}

func (c *Controller) handleUnauthorized(ctx context.Context, u transport.Unauthorized) {
	result := flows.RunInvalidate(ctx, u, c.flows.Invalidate)
	if !result.Cleared {
		return
	}

	c.logger.Info("session invalidated by backend",
		"method", u.Method,
		"path", u.Path,
		"view", result.View,
		"redirect_to", result.RedirectTo,
	)

	inv := Invalidation{
		Reason:     ReasonUnauthorized,
		Method:     u.Method,
		Request:    u.Path,
		View:       result.View,
		RedirectTo: result.RedirectTo,
		Generation: result.Generation,
		At:         result.At,
	}

	c.subMu.Lock()
	subs := make([]func(Invalidation), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(inv)
	}
}

// MetricsSnapshot copies the controller's counters.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// AuditDropped returns the number of audit events lost to a full buffer.
func (c *Controller) AuditDropped() uint64 {
	if c == nil || c.audit == nil {
		return 0
	}
	return c.audit.Dropped()
}

// Close flushes the audit dispatcher and releases resources the builder
// created, such as a Redis client. The session is left as is.
func (c *Controller) Close() error {
	if c == nil {
		return nil
	}
	var firstErr error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.audit.Close()
		for _, closeFn := range c.closers {
			if err := closeFn(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

func (c *Controller) ready() bool {
	return c != nil && c.writer != nil && c.client != nil && !c.closed.Load()
}

func (c *Controller) metricInc(id MetricID) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Inc(id)
}

func (c *Controller) observeRequest(o transport.Observation) {
	if c.metrics == nil {
		return
	}
	c.metrics.Observe(MetricRequestLatency, o.Duration)
	switch {
	case o.StatusCode == 0 && o.Err != nil:
		c.metrics.Inc(MetricRequestNetworkError)
	case o.StatusCode >= 300:
		c.metrics.Inc(MetricRequestFailure)
	}
}

func (c *Controller) credential() transport.Credential {
	snap := c.store.Get()
	return transport.Credential{Token: snap.Token, Generation: snap.Generation}
}

func fieldsFor(profile *session.Profile, generation uint64) auditFields {
	if profile == nil {
		return auditFields{generation: generation}
	}
	return auditFields{
		userID:     profile.ID,
		email:      profile.Email,
		role:       profile.Role.String(),
		generation: generation,
	}
}
