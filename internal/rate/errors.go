package rate

import "errors"

var (
	// ErrRateLimited means the key has no attempts left in this window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any Redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
