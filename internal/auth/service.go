// Package auth is the orchestrator binding the token service, credential
// store, lockout counters, and OAuth verifiers into the login, registration,
// refresh, logout, and account-linking flows.
package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/identity"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/oauth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/obs"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/password"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/ratelimit"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

// Config carries the orchestrator policy knobs.
type Config struct {
	// AdminEmails promotes matching accounts to the admin role at creation.
	AdminEmails []string

	// Delay maps consecutive login failures to injected latency.
	Delay ratelimit.DelayPolicy
}

// Service drives the auth flows. All dependencies are set at construction;
// the service itself holds no mutable state.
type Service struct {
	users     identity.Store
	tokens    *token.Service
	hasher    *password.Hasher
	lockout   *ratelimit.Lockout
	verifiers map[identity.Provider]oauth.Verifier
	config    Config
	log       *zap.Logger

	// decoyHash absorbs the Argon2 cost for unknown emails so a login
	// against a missing account takes as long as one against a real account.
	decoyHash string
}

func NewService(
	users identity.Store,
	tokens *token.Service,
	hasher *password.Hasher,
	lockout *ratelimit.Lockout,
	verifiers map[identity.Provider]oauth.Verifier,
	cfg Config,
	log *zap.Logger,
) (*Service, error) {
	if users == nil || tokens == nil || hasher == nil || lockout == nil {
		return nil, errors.New("auth service is missing a required dependency")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if verifiers == nil {
		verifiers = map[identity.Provider]oauth.Verifier{}
	}

	decoy, err := hasher.Hash("decoy-password-for-timing-equalization")
	if err != nil {
		return nil, err
	}

	return &Service{
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		lockout:   lockout,
		verifiers: verifiers,
		config:    cfg,
		log:       log,
		decoyHash: decoy,
	}, nil
}

func (s *Service) verifier(p identity.Provider) (oauth.Verifier, error) {
	v, ok := s.verifiers[p]
	if !ok || v == nil {
		return nil, ErrProviderDisabled
	}
	return v, nil
}

// checkLockout answers with a LockedError when the identifier has crossed
// the failure threshold. Store errors propagate; an unreachable counter is
// a dependency failure, never an implicit pass or an implicit lock.
func (s *Service) checkLockout(ctx context.Context, identifier string) error {
	locked, retryAfter, err := s.lockout.Locked(ctx, identifier)
	if err != nil {
		return err
	}
	if locked {
		return &LockedError{RetryAfter: retryAfter}
	}
	return nil
}

// recordLoginFailure counts the failure, injects the progressive delay, and
// returns the uniform credentials error. The delay is latency on the failing
// response, not a distinct signal.
func (s *Service) recordLoginFailure(ctx context.Context, identifier string) error {
	count, err := s.lockout.RecordFailure(ctx, identifier)
	if err != nil {
		return err
	}
	if count == int64(s.lockout.Threshold()) {
		obs.LockoutsTripped.Inc()
		s.log.Warn("account lockout tripped", zap.Int64("failures", count))
	}

	if err := ratelimit.Sleep(ctx, s.config.Delay.Delay(count)); err != nil {
		return err
	}
	return ErrInvalidCredentials
}
