// Package ratelimit provides the three throttle layers in front of the auth
// flows: a coarse per-IP request limiter, a tighter limiter for the auth
// endpoints, and a per-account failure counter that drives progressive delay
// and hard lockout. All counters live in Redis with fixed windows so the
// limits hold across server instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Limiter caps requests per key within a fixed window. One instance per
// policy (general traffic, auth traffic); keys are typically client IPs.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	max    int64
	window time.Duration
}

func NewLimiter(rdb redis.UniversalClient, prefix string, max int, window time.Duration) *Limiter {
	return &Limiter{redis: rdb, prefix: prefix, max: int64(max), window: window}
}

func (l *Limiter) key(k string) string {
	return l.prefix + ":" + k
}

// Allow counts the request and rejects it once the window budget is spent.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	count, err := l.incrementWithTTL(ctx, l.key(key), l.window)
	if err != nil {
		return err
	}
	if count > l.max {
		return ErrRateLimited
	}
	return nil
}

// RetryAfter reports how long until the window for key resets. Zero when the
// key has no window running.
func (l *Limiter) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
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
