package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/identity"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/obs"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

type LoginInput struct {
	Email    string
	Password string
}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// Result is a completed authentication: the identity plus the token pair the
// HTTP layer turns into cookies.
type Result struct {
	User *identity.User
	Pair *token.Pair
}

// Login verifies a password credential. Unknown emails, wrong passwords, and
// accounts without a password all produce the same ErrInvalidCredentials
// after the same Argon2 work and the same progressive delay; only the hard
// lockout is allowed to answer differently.
func (s *Service) Login(ctx context.Context, in LoginInput, meta token.ClientMeta) (*Result, error) {
	if err := validateLogin(in); err != nil {
		return nil, err
	}
	email := identity.NormalizeEmail(in.Email)

	if err := s.checkLockout(ctx, email); err != nil {
		var locked *LockedError
		if errors.As(err, &locked) {
			obs.LoginAttempts.WithLabelValues("locked").Inc()
		}
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Burn the same hashing cost as a real verification.
			_, _ = s.hasher.Verify(in.Password, s.decoyHash)
			obs.LoginAttempts.WithLabelValues("failure").Inc()
			return nil, s.recordLoginFailure(ctx, email)
		}
		return nil, err
	}

	hash := user.PasswordHash
	if hash == "" {
		hash = s.decoyHash
	}
	ok, err := s.hasher.Verify(in.Password, hash)
	if err != nil || !ok || !user.HasPassword() {
		obs.LoginAttempts.WithLabelValues("failure").Inc()
		s.log.Info("login failed", zap.Int64("user_id", user.ID), zap.String("ip", meta.IP))
		return nil, s.recordLoginFailure(ctx, email)
	}

	if err := s.lockout.Reset(ctx, email); err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	obs.LoginAttempts.WithLabelValues("success").Inc()
	s.log.Info("login succeeded", zap.Int64("user_id", user.ID), zap.String("ip", meta.IP))
	return &Result{User: user, Pair: pair}, nil
}

// Register creates a password identity and signs it in. Duplicate emails
// surface identity.ErrEmailTaken.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta token.ClientMeta) (*Result, error) {
	if err := validateRegister(in); err != nil {
		return nil, err
	}
	email := identity.NormalizeEmail(in.Email)

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, &identity.User{
		Email:        email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         identity.RoleForEmail(email, s.config.AdminEmails),
	})
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	obs.Registrations.Inc()
	s.log.Info("account registered", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	return &Result{User: user, Pair: pair}, nil
}
