package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenStore keeps the durable slot in a single Redis key. Useful when
// several client processes on different hosts share one login (kiosk or
// field-tablet deployments).
type RedisTokenStore struct {
	redis redis.UniversalClient
	key   string
	ttl   time.Duration
}

// NewRedisTokenStore creates a store on key. ttl bounds how long a saved
// token survives without being rewritten; zero keeps it until deleted.
func NewRedisTokenStore(client redis.UniversalClient, key string, ttl time.Duration) *RedisTokenStore {
	if key == "" {
		key = "impactlog:session:token"
	}
	return &RedisTokenStore{
		redis: client,
		key:   key,
		ttl:   ttl,
	}
}

// Key returns the Redis key holding the token.
func (r *RedisTokenStore) Key() string {
	return r.key
}

func (r *RedisTokenStore) Load(ctx context.Context) (string, error) {
	token, err := r.redis.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return token, nil
}

func (r *RedisTokenStore) Save(ctx context.Context, token string) error {
	if err := r.redis.Set(ctx, r.key, token, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (r *RedisTokenStore) Delete(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
