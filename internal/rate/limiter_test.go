package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func TestLimiterBudget(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, Config{MaxAttempts: 3, Window: time.Minute, Prefix: "test"})

	for i := 0; i < 2; i++ {
		if err := l.Check(ctx, "k"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.Fail(ctx, "k"); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
	}
	if err := l.Fail(ctx, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third failure should exhaust the budget, got %v", err)
	}
	if err := l.Check(ctx, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Check(ctx, "other"); err != nil {
		t.Fatalf("keys are independent: %v", err)
	}

	if !mr.Exists("test:k") {
		t.Fatal("expected prefixed key")
	}
	if ttl := mr.TTL("test:k"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL %s", ttl)
	}
}

func TestLimiterWindowExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, Config{MaxAttempts: 1, Window: time.Minute})

	_ = l.Fail(ctx, "k")
	if err := l.Check(ctx, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if err := l.Check(ctx, "k"); err != nil {
		t.Fatalf("window should have expired: %v", err)
	}
}

func TestLimiterReset(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{MaxAttempts: 5, Window: time.Minute})

	_ = l.Fail(ctx, "k")
	_ = l.Fail(ctx, "k")
	if n, err := l.Attempts(ctx, "k"); err != nil || n != 2 {
		t.Fatalf("Attempts = %d, %v", n, err)
	}
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := l.Attempts(ctx, "k"); n != 0 {
		t.Fatalf("Attempts after reset = %d", n)
	}
}

func TestLimiterRedisDown(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, Config{MaxAttempts: 1, Window: time.Minute})
	mr.Close()

	if err := l.Check(ctx, "k"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if err := l.Fail(ctx, "k"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
