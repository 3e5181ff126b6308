package impactlog

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/impactlog/impactlog/apitest"
	"github.com/impactlog/impactlog/route"
	"github.com/impactlog/impactlog/session"
)

const (
	testUserEmail  = "asha@example.com"
	testAdminEmail = "admin@test.com"
	testPassword   = "secret1"
)

type testEnv struct {
	srv    *apitest.Server
	tokens *session.MemoryTokenStore
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	srv := apitest.NewServer(apitest.Options{})
	t.Cleanup(srv.Close)
	if _, err := srv.SeedUser(testUserEmail, testPassword, "Asha"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := srv.SeedAdmin(testAdminEmail, testPassword, "Admin User"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return &testEnv{srv: srv, tokens: session.NewMemoryTokenStore()}
}

func (e *testEnv) config() Config {
	cfg := DefaultConfig()
	cfg.API.BaseURL = e.srv.URL
	cfg.Session.Backend = "memory"
	cfg.HTTP.Timeout = 2 * time.Second
	return cfg
}

func (e *testEnv) controller(t testing.TB, configure ...func(*Builder)) *Controller {
	t.Helper()
	b := New().WithConfig(e.config()).WithTokenStore(e.tokens)
	for _, fn := range configure {
		fn(b)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// bootstrapped returns a settled controller.
func (e *testEnv) bootstrapped(t testing.TB, configure ...func(*Builder)) *Controller {
	t.Helper()
	c := e.controller(t, configure...)
	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return c
}

func (e *testEnv) storeToken(t *testing.T, email string) string {
	t.Helper()
	token, err := e.srv.TokenFor(email)
	if err != nil {
		t.Fatalf("token for %s: %v", email, err)
	}
	if err := e.tokens.Save(context.Background(), token); err != nil {
		t.Fatalf("save token: %v", err)
	}
	return token
}

func assertAnonymous(t *testing.T, snap session.Snapshot) {
	t.Helper()
	if snap.HasToken() || snap.Identity != nil || snap.Profile != nil {
		t.Fatalf("expected anonymous session, got %+v", snap)
	}
	if snap.Loading {
		t.Fatal("expected loading to be over")
	}
}

func TestSignInSignOutBootstrapIsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.bootstrapped(t)
	if _, err := c.SignIn(ctx, testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	next := env.controller(t)
	if err := next.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	assertAnonymous(t, next.Snapshot())
	if got := env.srv.Calls("/auth/me"); got != 0 {
		t.Fatalf("bootstrap without a stored token must not call /auth/me, got %d calls", got)
	}
}

func TestSignInRoleDrivesRouteGuard(t *testing.T) {
	tests := []struct {
		email     string
		role      session.Role
		dashboard route.Decision
		admin     route.Decision
	}{
		{
			email:     testUserEmail,
			role:      session.RoleUser,
			dashboard: route.Decision{Kind: route.Render},
			admin:     route.Decision{Kind: route.Redirect, Path: "/dashboard"},
		},
		{
			email:     testAdminEmail,
			role:      session.RoleAdmin,
			dashboard: route.Decision{Kind: route.Redirect, Path: "/admin"},
			admin:     route.Decision{Kind: route.Render},
		},
	}

	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			env := newTestEnv(t)
			c := env.bootstrapped(t)

			result, err := c.SignIn(context.Background(), tc.email, testPassword)
			if err != nil {
				t.Fatalf("sign in: %v", err)
			}
			if result.Profile.Role != tc.role {
				t.Fatalf("expected role %s in result, got %s", tc.role, result.Profile.Role)
			}

			snap := c.Snapshot()
			if snap.Profile == nil || snap.Profile.Role != tc.role {
				t.Fatalf("session role mismatch: %+v", snap.Profile)
			}
			if snap.Identity == nil || snap.Identity.ID != result.Profile.ID || snap.Identity.Email != tc.email {
				t.Fatalf("identity not derived from profile: %+v", snap.Identity)
			}
			if got := c.Decide("/dashboard"); got != tc.dashboard {
				t.Fatalf("/dashboard: got %v, want %v", got, tc.dashboard)
			}
			if got := c.Decide("/admin"); got != tc.admin {
				t.Fatalf("/admin: got %v, want %v", got, tc.admin)
			}
			if got := c.Decide("/live-maps"); got.Kind != route.Render {
				t.Fatalf("public view must render, got %v", got)
			}
		})
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.bootstrapped(t)

	if _, err := c.SignIn(ctx, testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("first sign out: %v", err)
	}
	once := c.Snapshot()
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("second sign out: %v", err)
	}
	twice := c.Snapshot()

	assertAnonymous(t, once)
	assertAnonymous(t, twice)
	if once.Generation != twice.Generation {
		t.Fatalf("second sign out changed the session: %d -> %d", once.Generation, twice.Generation)
	}
	if token, _ := env.tokens.Load(ctx); token != "" {
		t.Fatal("stored token must be removed")
	}
}

func TestBootstrapRestoresSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.storeToken(t, testAdminEmail)

	c := env.controller(t)
	if !c.Snapshot().Loading {
		t.Fatal("a new controller must start loading")
	}
	if got := c.Decide("/admin"); got.Kind != route.Wait {
		t.Fatalf("guard must wait while loading, got %v", got)
	}
	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	snap := c.Snapshot()
	if snap.Loading || snap.Token != token || !snap.Authenticated() || snap.Role() != session.RoleAdmin {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got := env.srv.LastAuthorization("/auth/me"); got != "Bearer "+token {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestBootstrapUnauthorizedClearsSession(t *testing.T) {
	env := newTestEnv(t)
	if err := env.tokens.Save(context.Background(), "expired-or-forged"); err != nil {
		t.Fatalf("save: %v", err)
	}
	c := env.controller(t)

	err := c.Bootstrap(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected informational ErrUnauthorized, got %v", err)
	}
	assertAnonymous(t, c.Snapshot())
	if token, _ := env.tokens.Load(context.Background()); token != "" {
		t.Fatal("rejected token must be removed from storage")
	}
}

func TestBootstrapForbiddenClearsSession(t *testing.T) {
	env := newTestEnv(t)
	env.storeToken(t, testUserEmail)
	env.srv.FailNext("/auth/me", http.StatusForbidden)
	c := env.controller(t)

	if err := c.Bootstrap(context.Background()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	assertAnonymous(t, c.Snapshot())
}

func TestBootstrapNetworkErrorPreservesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.storeToken(t, testUserEmail)
	arrived, release := env.srv.Hold("/auth/me")
	defer release()

	c := env.controller(t, func(b *Builder) {
		cfg := env.config()
		cfg.HTTP.Timeout = 50 * time.Millisecond
		b.WithConfig(cfg)
	})

	err := c.Bootstrap(context.Background())
	<-arrived
	if !errors.Is(err, ErrNetworkError) {
		t.Fatalf("expected ErrNetworkError, got %v", err)
	}

	snap := c.Snapshot()
	if snap.Loading {
		t.Fatal("loading must end on a network error")
	}
	if snap.Token != token {
		t.Fatal("token must be preserved on a transient failure")
	}
	if snap.Identity != nil || snap.Profile != nil {
		t.Fatalf("identity must stay absent, got %+v", snap)
	}
	if stored, _ := env.tokens.Load(context.Background()); stored != token {
		t.Fatal("stored token must be preserved")
	}
	if got := c.MetricsSnapshot().Counters[MetricHydrateRetained]; got != 1 {
		t.Fatalf("expected one retained hydration, got %d", got)
	}
}

func TestBootstrapServerErrorPreservesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.storeToken(t, testUserEmail)
	env.srv.FailNext("/auth/me", http.StatusInternalServerError)
	c := env.controller(t)

	if err := c.Bootstrap(context.Background()); !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Loading || snap.Token != token || snap.Authenticated() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// A later refresh recovers the profile.
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !c.Snapshot().Authenticated() {
		t.Fatal("refresh must hydrate the profile")
	}
}

func TestBootstrapAfterSignInKeepsSessionOnServerError(t *testing.T) {
	env := newTestEnv(t)
	c := env.bootstrapped(t)
	ctx := context.Background()
	if _, err := c.SignIn(ctx, testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	env.srv.FailNext("/auth/me", http.StatusServiceUnavailable)
	if err := c.Bootstrap(ctx); !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
	if !c.Snapshot().Authenticated() {
		t.Fatalf("a transient failure must keep the signed-in profile, got %+v", c.Snapshot())
	}
	if d := c.Decide("/dashboard"); d.Kind != route.Render {
		t.Fatalf("dashboard after a failed re-bootstrap: %v", d)
	}
}

func TestSessionSubscriberMayCallController(t *testing.T) {
	env := newTestEnv(t)
	c := env.bootstrapped(t)
	ctx := context.Background()

	var once sync.Once
	refreshed := make(chan error, 1)
	cancel := c.Session().Subscribe(func(s session.Snapshot) {
		if !s.Authenticated() {
			return
		}
		once.Do(func() { refreshed <- c.Refresh(ctx) })
	})
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.SignIn(ctx, testUserEmail, testPassword)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sign in: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("sign-in blocked by a subscriber calling Refresh")
	}
	if err := <-refreshed; err != nil {
		t.Fatalf("refresh from subscriber: %v", err)
	}
	if !c.Snapshot().Authenticated() {
		t.Fatal("expected an authenticated session")
	}
}

func TestBootstrapDiscardsHydrationAfterConcurrent401(t *testing.T) {
	env := newTestEnv(t)
	env.storeToken(t, testUserEmail)
	arrived, release := env.srv.Hold("/auth/me")
	defer release()

	c := env.controller(t)
	done := make(chan error, 1)
	go func() { done <- c.Bootstrap(context.Background()) }()
	<-arrived

	// Another view's call is rejected while /auth/me is still in flight.
	env.srv.FailNext("/impact-logs/my-logs", http.StatusUnauthorized)
	if _, err := c.Logs().Mine(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if c.Snapshot().HasToken() {
		t.Fatal("401 must clear the session")
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	assertAnonymous(t, c.Snapshot())
	if got := c.MetricsSnapshot().Counters[MetricHydrateStaleDiscarded]; got != 1 {
		t.Fatalf("expected one stale discard, got %d", got)
	}
}

func TestSignInFailuresLeaveSessionUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.bootstrapped(t)
	if _, err := c.SignIn(ctx, testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	before := c.Snapshot()

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{name: "wrong password", email: testUserEmail, password: "nope-nope", want: ErrInvalidCredentials},
		{name: "unknown account", email: "nobody@example.com", password: testPassword, want: ErrInvalidCredentials},
		{name: "invalid email", email: "not-an-email", password: testPassword, want: ErrValidation},
		{name: "empty password", email: testUserEmail, password: "", want: ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := c.SignIn(ctx, tc.email, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if result != nil {
				t.Fatal("failed sign in must not return a result")
			}
			after := c.Snapshot()
			if after.Token != before.Token || after.Generation != before.Generation {
				t.Fatalf("session changed on failure: %+v -> %+v", before, after)
			}
		})
	}
}

func TestSignInValidationSkipsNetwork(t *testing.T) {
	env := newTestEnv(t)
	c := env.bootstrapped(t)

	if _, err := c.SignIn(context.Background(), "", "pw"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var validationErr *ValidationError
	if _, err := c.SignUp(context.Background(), testUserEmail, "123", "A"); !errors.As(err, &validationErr) || validationErr.Field != "password" {
		t.Fatalf("expected password validation error, got %v", err)
	}
	if env.srv.Calls("/auth/login") != 0 || env.srv.Calls("/auth/signup") != 0 {
		t.Fatal("invalid input must not reach the backend")
	}
	if got := c.MetricsSnapshot().Counters[MetricValidationRejected]; got != 2 {
		t.Fatalf("expected 2 validation rejections, got %d", got)
	}
}

func TestSignUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.bootstrapped(t)

	result, err := c.SignUp(ctx, "new@example.com", "secret1", "  Nila  ")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if result.Profile.Role != session.RoleUser || result.Profile.Name != "Nila" {
		t.Fatalf("unexpected profile %+v", result.Profile)
	}
	if c.Snapshot().Token != result.Token {
		t.Fatal("sign up must sign the account in")
	}

	if _, err := c.SignUp(ctx, testUserEmail, "secret1", "Again"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if c.Snapshot().Token != result.Token {
		t.Fatal("failed sign up must keep the current session")
	}
}

func TestSignInRejectsUnknownRole(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.SetRole(testUserEmail, "superuser"); err != nil {
		t.Fatalf("set role: %v", err)
	}
	c := env.bootstrapped(t)

	if _, err := c.SignIn(context.Background(), testUserEmail, testPassword); !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError for unknown role, got %v", err)
	}
	assertAnonymous(t, c.Snapshot())
}

func TestUnauthorizedEmitsInvalidation(t *testing.T) {
	tests := []struct {
		view     string
		redirect string
	}{
		{view: "/dashboard", redirect: "/login"},
		{view: "/live-maps", redirect: "/login"},
		{view: "/community-activity", redirect: "/login"},
		{view: "/signup", redirect: ""},
		{view: "", redirect: "/login"},
	}

	for _, tc := range tests {
		t.Run("view="+tc.view, func(t *testing.T) {
			env := newTestEnv(t)
			c := env.bootstrapped(t)
			if _, err := c.SignIn(context.Background(), testUserEmail, testPassword); err != nil {
				t.Fatalf("sign in: %v", err)
			}

			var (
				mu  sync.Mutex
				got []Invalidation
			)
			cancel := c.OnInvalidated(func(inv Invalidation) {
				mu.Lock()
				got = append(got, inv)
				mu.Unlock()
			})
			defer cancel()

			env.srv.FailNext("/impact-logs/my-logs", http.StatusUnauthorized)
			ctx := WithCurrentPath(context.Background(), tc.view)
			if _, err := c.Logs().Mine(ctx); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(got) != 1 {
				t.Fatalf("expected one invalidation, got %d", len(got))
			}
			inv := got[0]
			if inv.RedirectTo != tc.redirect || inv.View != tc.view || inv.Reason != ReasonUnauthorized {
				t.Fatalf("unexpected invalidation %+v", inv)
			}
			if inv.Request != "/impact-logs/my-logs" || inv.Method != http.MethodGet {
				t.Fatalf("invalidation must name the rejected request, got %+v", inv)
			}
			assertAnonymous(t, c.Snapshot())
		})
	}
}

func TestInvalidationsChannel(t *testing.T) {
	env := newTestEnv(t)
	c := env.bootstrapped(t)
	if _, err := c.SignIn(context.Background(), testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := c.Invalidations(ctx, 1)

	env.srv.FailNext("/impact-logs", http.StatusUnauthorized)
	_, _ = c.Logs().Create(WithCurrentPath(context.Background(), "/dashboard"), validReport())

	select {
	case inv := <-events:
		if !inv.Redirects() {
			t.Fatalf("expected a redirect, got %+v", inv)
		}
	case <-time.After(time.Second):
		t.Fatal("no invalidation delivered")
	}

	cancel()
	for range events {
	}
}

func TestLoginUnauthorizedDoesNotInvalidate(t *testing.T) {
	env := newTestEnv(t)
	c := env.bootstrapped(t)
	if _, err := c.SignIn(context.Background(), testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	invalidated := false
	defer c.OnInvalidated(func(Invalidation) { invalidated = true })()

	if _, err := c.SignIn(context.Background(), testAdminEmail, "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if invalidated || !c.Snapshot().Authenticated() {
		t.Fatal("rejected credentials must not touch the current session")
	}
}

func TestRefreshWithoutTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.bootstrapped(t)

	if err := c.Refresh(context.Background()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden without a bearer, got %v", err)
	}
	assertAnonymous(t, c.Snapshot())
}

func TestAuditEvents(t *testing.T) {
	env := newTestEnv(t)
	sink := NewChannelSink(16)
	c := env.bootstrapped(t, func(b *Builder) { b.WithAuditSink(sink) })

	ctx := WithCurrentPath(context.Background(), "/login")
	if _, err := c.SignIn(ctx, testUserEmail, "wrong-password"); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := c.SignIn(ctx, testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []struct {
		event   string
		success bool
		code    string
	}{
		{auditEventSignInFailure, false, string(auditErrInvalidCredentials)},
		{auditEventSignInSuccess, true, ""},
		{auditEventSignOut, true, ""},
	}
	for _, w := range want {
		select {
		case ev := <-sink.Events():
			if ev.EventType != w.event || ev.Success != w.success || ev.Error != w.code {
				t.Fatalf("expected %s/%v/%q, got %+v", w.event, w.success, w.code, ev)
			}
			if ev.Email != testUserEmail || ev.View != "/login" {
				t.Fatalf("event missing context: %+v", ev)
			}
		default:
			t.Fatalf("missing %s event", w.event)
		}
	}
}

func TestMetricsCountFlows(t *testing.T) {
	env := newTestEnv(t)
	c := env.bootstrapped(t)
	ctx := context.Background()

	if _, err := c.SignIn(ctx, testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	_, _ = c.SignIn(ctx, testUserEmail, "wrong-password")
	_ = c.SignOut(ctx)

	snap := c.MetricsSnapshot()
	checks := map[MetricID]uint64{
		MetricHydrateSkipped: 1,
		MetricSignInSuccess:  1,
		MetricSignInFailure:  1,
		MetricSignOut:        1,
		MetricRequestFailure: 1,
	}
	for id, want := range checks {
		if got := snap.Counters[id]; got != want {
			t.Fatalf("metric %d: got %d, want %d", id, got, want)
		}
	}
	var observed uint64
	for _, n := range snap.Histograms[MetricRequestLatency] {
		observed += n
	}
	if observed != 2 {
		t.Fatalf("expected 2 latency observations, got %d", observed)
	}
}

func TestClosedControllerIsNotReady(t *testing.T) {
	env := newTestEnv(t)
	c := env.bootstrapped(t)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.SignIn(context.Background(), testUserEmail, testPassword); !errors.Is(err, ErrControllerNotReady) {
		t.Fatalf("expected ErrControllerNotReady, got %v", err)
	}
	if _, err := c.Logs().PublicFeed(context.Background()); !errors.Is(err, ErrControllerNotReady) {
		t.Fatalf("expected ErrControllerNotReady, got %v", err)
	}

	var nilController *Controller
	if err := nilController.Bootstrap(context.Background()); !errors.Is(err, ErrControllerNotReady) {
		t.Fatalf("nil controller: %v", err)
	}
}

func TestLogoutPathIsNotified(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config()
	cfg.API.LogoutPath = "/auth/logout"

	c := env.bootstrapped(t, func(b *Builder) { b.WithConfig(cfg) })
	if _, err := c.SignIn(context.Background(), testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	// The fake backend has no logout route; the 404 is ignored.
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if hits := env.srv.Calls("/auth/logout"); hits != 1 {
		t.Fatalf("expected one logout notification, got %d", hits)
	}
	assertAnonymous(t, c.Snapshot())
}
