package impactlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/impactlog/impactlog/internal/rate"
)

// throttleKey keys the sign-in counter by a digest so Redis never holds
// the address itself.
func throttleKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// admitSignIn refuses the attempt once the address has no budget left. An
// unreachable Redis admits it.
func (c *Controller) admitSignIn(ctx context.Context, email string) error {
	if c.throttle == nil {
		return nil
	}
	err := c.throttle.Check(ctx, throttleKey(email))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	default:
		c.logger.Warn("sign-in throttle unavailable", "error", err)
		return nil
	}
}

// settleSignIn counts rejected credentials and clears the counter on
// success. Transport and server failures are not the caller's guess and
// are not counted.
func (c *Controller) settleSignIn(ctx context.Context, email string, outcome error) {
	if c.throttle == nil {
		return
	}
	key := throttleKey(email)

	var err error
	switch {
	case outcome == nil:
		err = c.throttle.Reset(ctx, key)
	case errors.Is(outcome, ErrInvalidCredentials), errors.Is(outcome, ErrAccountNotFound):
		if err = c.throttle.Fail(ctx, key); errors.Is(err, rate.ErrRateLimited) {
			c.logger.Info("sign-in budget exhausted")
			err = nil
		}
	}
	if err != nil {
		c.logger.Warn("sign-in throttle not updated", "error", err)
	}
}
