// Package oauth verifies provider-issued OpenID Connect ID tokens for
// Google and Microsoft sign-in. Verification is local: signature against
// the provider's JWKS, issuer, audience, and expiry. No authorization-code
// exchange happens here; callers hand us the ID token itself.
package oauth

import (
	"context"
	"errors"
)

var (
	// ErrTokenInvalid covers every verification failure the caller can do
	// nothing about: bad signature, wrong audience or issuer, expiry.
	ErrTokenInvalid = errors.New("oauth token invalid")

	// ErrProviderUnavailable marks JWKS fetch failures so callers can
	// answer with a transient error instead of rejecting the credential.
	ErrProviderUnavailable = errors.New("oauth provider unavailable")
)

// Claims is the subset of ID-token claims the auth flows consume.
// EmailVerified reports whether the provider itself vouches for the email;
// account merging is gated on it.
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Verifier checks one provider's ID tokens.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (*Claims, error)
}
