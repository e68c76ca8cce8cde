// Package csrf implements the server side of the double-submit-cookie
// defense: an opaque random token stored in Redis per client key and echoed
// back by the browser in a readable cookie plus a request header. The
// protection rests on the attacker page being unable to read or set our
// cookies, so a weak client key (IP behind NAT or proxies) is an accepted
// limitation rather than a bug.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenInvalid covers missing, expired, and mismatched tokens alike;
	// callers must not distinguish them to the client.
	ErrTokenInvalid = errors.New("csrf token invalid")

	ErrRedisUnavailable = errors.New("redis unavailable")
)

const tokenBytes = 32

// Guard issues and validates per-client CSRF tokens with a shared TTL.
type Guard struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewGuard(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Guard {
	if prefix == "" {
		prefix = "auth"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Guard{redis: rdb, prefix: prefix, ttl: ttl}
}

func (g *Guard) TTL() time.Duration {
	return g.ttl
}

func (g *Guard) key(clientKey string) string {
	return g.prefix + ":csrf:" + clientKey
}

// Issue returns the client's current token, minting one only when none
// exists. Idempotent issuance keeps in-flight forms valid across page loads;
// concurrent issuers converge on whichever token lands first.
func (g *Guard) Issue(ctx context.Context, clientKey string) (string, error) {
	key := g.key(clientKey)

	for attempt := 0; attempt < 3; attempt++ {
		existing, err := g.redis.Get(ctx, key).Result()
		if err == nil && existing != "" {
			return existing, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		token, err := newToken()
		if err != nil {
			return "", err
		}

		ok, err := g.redis.SetNX(ctx, key, token, g.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if ok {
			return token, nil
		}
		// Lost the race; loop back and read the winner's token.
	}

	return "", fmt.Errorf("%w: csrf issuance did not converge", ErrRedisUnavailable)
}

// Validate compares the supplied token against the stored one in constant
// time. Missing or expired entries fail closed; only transport-level Redis
// failures surface as ErrRedisUnavailable.
func (g *Guard) Validate(ctx context.Context, clientKey, supplied string) error {
	if supplied == "" {
		return ErrTokenInvalid
	}

	stored, err := g.redis.Get(ctx, g.key(clientKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) != 1 {
		return ErrTokenInvalid
	}
	return nil
}

func newToken() (string, error) {
	var raw [tokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}
