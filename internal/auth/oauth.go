package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/identity"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/oauth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/obs"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

// OAuthLogin signs a user in with a provider-issued ID token, resolving by
// provider subject first. An email match against an existing account merges
// the credentials only when the provider vouches for the email; an
// unverified match is an explicit rejection, never a silent merge. With no
// matching account at all, one is created.
func (s *Service) OAuthLogin(ctx context.Context, provider identity.Provider, rawIDToken string, meta token.ClientMeta) (*Result, error) {
	v, err := s.verifier(provider)
	if err != nil {
		return nil, err
	}
	claims, err := v.Verify(ctx, rawIDToken)
	if err != nil {
		obs.OAuthLogins.WithLabelValues(string(provider), "rejected").Inc()
		return nil, err
	}

	user, err := s.users.GetByProviderSubject(ctx, provider, claims.Subject)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrNotFound):
		user, err = s.resolveUnlinkedOAuth(ctx, provider, claims)
		if err != nil {
			obs.OAuthLogins.WithLabelValues(string(provider), "rejected").Inc()
			return nil, err
		}
	default:
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	obs.OAuthLogins.WithLabelValues(string(provider), "success").Inc()
	s.log.Info("oauth login",
		zap.String("provider", string(provider)),
		zap.Int64("user_id", user.ID),
		zap.String("ip", meta.IP))
	return &Result{User: user, Pair: pair}, nil
}

// resolveUnlinkedOAuth handles a verified provider identity with no linked
// account: merge into an email-matching account (verified email only) or
// create a fresh one.
func (s *Service) resolveUnlinkedOAuth(ctx context.Context, provider identity.Provider, claims *oauth.Claims) (*identity.User, error) {
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: token carries no email", oauth.ErrTokenInvalid)
	}
	email := identity.NormalizeEmail(claims.Email)

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if !claims.EmailVerified {
			s.log.Warn("oauth merge refused on unverified email",
				zap.String("provider", string(provider)),
				zap.Int64("user_id", existing.ID))
			return nil, ErrEmailUnverified
		}
		if err := s.users.LinkProvider(ctx, existing.ID, provider, claims.Subject); err != nil {
			return nil, err
		}
		s.log.Info("oauth credential merged",
			zap.String("provider", string(provider)),
			zap.Int64("user_id", existing.ID))
		return s.users.GetByID(ctx, existing.ID)

	case errors.Is(err, identity.ErrNotFound):
		u := &identity.User{
			Email: email,
			Name:  claims.Name,
			Role:  identity.RoleForEmail(email, s.config.AdminEmails),
		}
		switch provider {
		case identity.ProviderGoogle:
			u.GoogleSub = claims.Subject
		case identity.ProviderMicrosoft:
			u.MicrosoftSub = claims.Subject
		}
		return s.users.Create(ctx, u)

	default:
		return nil, err
	}
}

// Connect links a provider identity to the already-authenticated account.
// Linking the same subject twice is an idempotent success; a subject owned
// by another account is a conflict.
func (s *Service) Connect(ctx context.Context, userID int64, provider identity.Provider, rawIDToken string) (*identity.User, error) {
	v, err := s.verifier(provider)
	if err != nil {
		return nil, err
	}
	claims, err := v.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	if err := s.users.LinkProvider(ctx, userID, provider, claims.Subject); err != nil {
		return nil, err
	}
	s.log.Info("oauth credential linked",
		zap.String("provider", string(provider)),
		zap.Int64("user_id", userID))
	return s.users.GetByID(ctx, userID)
}

// Disconnect removes a linked provider identity. The store refuses to strand
// the account without any credential (identity.ErrLastCredential).
func (s *Service) Disconnect(ctx context.Context, userID int64, provider identity.Provider) (*identity.User, error) {
	if err := s.users.UnlinkProvider(ctx, userID, provider); err != nil {
		return nil, err
	}
	s.log.Info("oauth credential unlinked",
		zap.String("provider", string(provider)),
		zap.Int64("user_id", userID))
	return s.users.GetByID(ctx, userID)
}
