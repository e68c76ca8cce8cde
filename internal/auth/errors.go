package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is the uniform answer to a failed password
	// login: unknown email, wrong password, and disabled password credential
	// all read the same to the client.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailUnverified rejects an OAuth email-match merge when the
	// provider does not vouch for the address.
	ErrEmailUnverified = errors.New("oauth email not verified by provider")

	// ErrProviderDisabled marks a provider with no configured client id.
	ErrProviderDisabled = errors.New("oauth provider not configured")
)

// LockedError reports a tripped account lockout and how long until the
// window expires.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}
