package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	// MaxAttempts is the number of failures a key may record per window.
	MaxAttempts int
	// Window is the fixed window length, started by the first failure.
	Window time.Duration
	// Prefix namespaces the Redis keys.
	Prefix string
}

// Limiter counts failed attempts per key in Redis. Several clients sharing
// one Redis share the budget.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Check returns ErrRateLimited when key has used its budget in the current
// window. It does not count as an attempt.
func (l *Limiter) Check(ctx context.Context, key string) error {
	count, err := l.Attempts(ctx, key)
	if err != nil {
		return err
	}
	if count >= l.config.MaxAttempts {
		return ErrRateLimited
	}
	return nil
}

// Fail records a failed attempt. It returns ErrRateLimited when this
// failure used up the budget.
func (l *Limiter) Fail(ctx context.Context, key string) error {
	count, err := l.incrementWithTTL(ctx, l.redisKey(key), l.config.Window)
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter for key, typically after a success.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the failures recorded for key in the current window.
func (l *Limiter) Attempts(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, l.redisKey(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) redisKey(key string) string {
	return l.config.Prefix + ":" + key
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
