package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/identity"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/obs"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

// SessionInfo is one live refresh session as shown to its owner.
type SessionInfo struct {
	ID        string    `json:"id"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"current"`
}

// Refresh rotates the presented refresh token. A reuse detection is logged
// and counted here; the caller still answers with a plain 401.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta token.ClientMeta) (*Result, error) {
	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrRefreshReused) {
			obs.RefreshReuse.Inc()
			s.log.Warn("refresh token reuse detected, session family revoked",
				zap.String("ip", meta.IP))
		}
		return nil, err
	}

	obs.RefreshRotations.Inc()
	return &Result{Pair: pair}, nil
}

// Logout revokes the current session, or every session when all is set.
func (s *Service) Logout(ctx context.Context, userID int64, sessionID string, all bool) error {
	if all {
		if err := s.tokens.RevokeAll(ctx, userID); err != nil {
			return err
		}
		s.log.Info("signed out everywhere", zap.Int64("user_id", userID))
		return nil
	}
	return s.tokens.Revoke(ctx, sessionID)
}

// Sessions lists the caller's live sessions, marking the one backing the
// current request.
func (s *Service) Sessions(ctx context.Context, userID int64, currentSessionID string) ([]SessionInfo, error) {
	live, err := s.tokens.Sessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(live))
	for _, sess := range live {
		infos = append(infos, SessionInfo{
			ID:        sess.SessionID,
			IP:        sess.IP,
			UserAgent: sess.UserAgent,
			CreatedAt: time.Unix(sess.CreatedAt, 0).UTC(),
			ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
			Current:   sess.SessionID == currentSessionID,
		})
	}
	return infos, nil
}

// RevokeSession revokes one of the caller's own sessions.
func (s *Service) RevokeSession(ctx context.Context, userID int64, sessionID string) error {
	return s.tokens.RevokeOwned(ctx, userID, sessionID)
}

// Me returns the caller's identity record.
func (s *Service) Me(ctx context.Context, userID int64) (*identity.User, error) {
	return s.users.GetByID(ctx, userID)
}
