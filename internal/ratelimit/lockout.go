package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig tunes the per-account failure counter. The window TTL starts
// at the first failure and doubles as the lockout cooldown: once the counter
// reaches Threshold the account stays locked until the window expires.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
}

// Lockout counts consecutive failed logins per account identifier,
// independent of client IP. A success before the threshold resets the
// counter to zero.
type Lockout struct {
	redis  redis.UniversalClient
	prefix string
	config LockoutConfig
}

func NewLockout(rdb redis.UniversalClient, prefix string, cfg LockoutConfig) *Lockout {
	if prefix == "" {
		prefix = "auth"
	}
	return &Lockout{redis: rdb, prefix: prefix, config: cfg}
}

// Threshold reports the configured failure threshold, zero when the layer
// is disabled.
func (l *Lockout) Threshold() int {
	if !l.config.Enabled {
		return 0
	}
	return l.config.Threshold
}

func (l *Lockout) key(identifier string) string {
	return l.prefix + ":lo:" + identifier
}

// Locked reports whether the identifier has crossed the failure threshold,
// and if so how long until the lock expires.
func (l *Lockout) Locked(ctx context.Context, identifier string) (bool, time.Duration, error) {
	if !l.config.Enabled || identifier == "" {
		return false, 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < int64(l.config.Threshold) {
		return false, 0, nil
	}

	ttl, err := l.redis.PTTL(ctx, l.key(identifier)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, nil
}

// RecordFailure increments the failure counter and returns the new count.
// The window TTL is set on the first failure only.
func (l *Lockout) RecordFailure(ctx context.Context, identifier string) (int64, error) {
	if !l.config.Enabled || identifier == "" {
		return 0, nil
	}

	key := l.key(identifier)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 && l.config.Window > 0 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

// Reset clears the failure counter after a successful login.
func (l *Lockout) Reset(ctx context.Context, identifier string) error {
	if !l.config.Enabled || identifier == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// FailureCount returns the current counter value; missing keys read as zero
// so the lockout layer never reveals account existence.
func (l *Lockout) FailureCount(ctx context.Context, identifier string) (int64, error) {
	if !l.config.Enabled || identifier == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}
