// Package session persists refresh sessions in Redis: one record per live
// refresh token, a per-user index for listing and bulk revocation, and an
// atomic compare-and-swap rotation that makes token reuse detectable.
package session

import "errors"

var (
	// ErrRefreshHashMismatch marks a presented refresh secret that does not
	// match the live one: the token was already rotated away. The store has
	// destroyed the session by the time this is returned.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

	ErrRedisUnavailable = errors.New("redis unavailable")
	ErrNotFound         = errors.New("session not found")
	ErrExpired          = errors.New("session expired")
	ErrCorrupt          = errors.New("session record corrupt")
)

// Session is one refresh-token session. IP and UserAgent are captured at
// issuance for the active-sessions listing; RefreshHash is the SHA-256 of
// the current refresh secret.
type Session struct {
	SessionID   string
	UserID      int64
	RefreshHash [32]byte
	IP          string
	UserAgent   string
	CreatedAt   int64
	ExpiresAt   int64
}
