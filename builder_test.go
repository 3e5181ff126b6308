package impactlog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/impactlog/impactlog/route"
	"github.com/impactlog/impactlog/session"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestBuilderBuildOnce(t *testing.T) {
	env := newTestEnv(t)
	b := New().WithConfig(env.config())
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer c.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("a builder must not build twice")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.Timeout = 0
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected Build to validate the config")
	}
}

func TestBuilderStartsLoading(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller(t)
	if !c.Snapshot().Loading {
		t.Fatal("a fresh controller must be loading until Bootstrap")
	}
	if d := c.Decide("/dashboard"); d.Kind != route.Wait {
		t.Fatalf("expected Wait before bootstrap, got %v", d)
	}
}

func TestBuilderRedisBackendFromConfig(t *testing.T) {
	env := newTestEnv(t)
	mr, _ := newTestRedis(t)

	cfg := env.config()
	cfg.Session.Backend = "redis"
	cfg.Session.RedisAddr = mr.Addr()
	cfg.Session.RedisKey = "portal:token"

	c, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ctx := context.Background()
	if err := c.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	result, err := c.SignIn(ctx, testUserEmail, testPassword)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	stored, err := mr.Get("portal:token")
	if err != nil || stored != result.Token {
		t.Fatalf("token not persisted in redis: %q %v", stored, err)
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if mr.Exists("portal:token") {
		t.Fatal("sign out must delete the redis key")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBuilderWithRedisSharesLogin(t *testing.T) {
	env := newTestEnv(t)
	_, rdb := newTestRedis(t)
	cfg := env.config()
	cfg.Session.Backend = "redis"
	cfg.Session.RedisAddr = "unused:0"

	build := func() *Controller {
		c, err := New().WithConfig(cfg).WithRedis(rdb).Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	ctx := context.Background()

	first := build()
	if err := first.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := first.SignIn(ctx, testAdminEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	_ = first.Close()

	second := build()
	if err := second.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if second.Snapshot().Role() != session.RoleAdmin {
		t.Fatalf("second process must restore the shared login, got %+v", second.Snapshot())
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("a supplied client must stay open after Close: %v", err)
	}
}

func TestBuilderFileBackend(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "session")
	cfg := env.config()
	cfg.Session.Backend = "file"
	cfg.Session.FilePath = path

	c, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	if err := c.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	result, err := c.SignIn(ctx, testUserEmail, testPassword)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), result.Token) {
		t.Fatalf("token file not written: %v", err)
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("token file must be removed on sign out, got %v", err)
	}
}

func TestBuilderRenamedRoutes(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config()
	cfg.Routes.AdminHome = "/console"
	cfg.Routes.Login = "/signin"

	c, err := New().WithConfig(cfg).WithTokenStore(session.NewMemoryTokenStore()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	if err := c.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	if d := c.Decide("/console"); d.Kind != route.Redirect || d.Path != "/signin" {
		t.Fatalf("anonymous on admin home: %v", d)
	}
	if !c.Routes().IsPublic("/signin") {
		t.Fatal("renamed login view must stay public")
	}
	if _, ok := c.Routes().Lookup("/admin"); ok {
		t.Fatal("the old admin path must be gone")
	}

	if _, err := c.SignIn(ctx, testUserEmail, testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if d := c.Decide("/console"); d.Kind != route.Redirect || d.Path != "/dashboard" {
		t.Fatalf("reporter on admin home: %v", d)
	}
}

func TestBuilderWithRouteTable(t *testing.T) {
	env := newTestEnv(t)
	table, err := route.NewTable(route.DefaultPaths, "/", []route.Entry{
		{Path: "/login", Public: true},
		{Path: "/reports", Required: session.RoleUser},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	c := env.bootstrapped(t, func(b *Builder) { b.WithRouteTable(table) })
	if d := c.Decide("/dashboard"); d.Kind != route.Redirect || d.Path != "/" {
		t.Fatalf("paths outside a custom table go to the fallback, got %v", d)
	}
	if d := c.Decide("/reports"); d.Kind != route.Redirect || d.Path != "/login" {
		t.Fatalf("anonymous on /reports: %v", d)
	}
}
