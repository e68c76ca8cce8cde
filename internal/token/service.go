package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/session"
)

var (
	// ErrRefreshInvalid covers malformed, unknown, and expired refresh
	// tokens. Callers answer all three identically.
	ErrRefreshInvalid = errors.New("refresh token invalid")

	// ErrRefreshReused signals that a presented token was already rotated
	// away. The session family is destroyed before this error is returned.
	ErrRefreshReused = errors.New("refresh token reused")

	// ErrSessionNotOwned is returned when revoking a session that belongs
	// to a different user.
	ErrSessionNotOwned = errors.New("session not owned by caller")
)

// Pair is one issued credential set. Refresh is the only copy of the raw
// refresh secret; it is never persisted.
type Pair struct {
	Access     string
	Refresh    string
	SessionID  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ClientMeta is recorded on the session at creation for the sessions list.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Verification is the result of checking an access token. Invalid tokens
// produce the zero value; no error and no reason is exposed.
type Verification struct {
	Valid     bool
	UserID    int64
	SessionID string
}

// Service issues and verifies access/refresh pairs on top of the JWT
// manager and the Redis session store.
type Service struct {
	manager    *Manager
	sessions   *session.Store
	refreshTTL time.Duration
}

func NewService(manager *Manager, sessions *session.Store, refreshTTL time.Duration) (*Service, error) {
	if manager == nil || sessions == nil {
		return nil, errors.New("token service requires a manager and a session store")
	}
	if refreshTTL <= 0 {
		return nil, errors.New("invalid refresh TTL configuration")
	}
	return &Service{manager: manager, sessions: sessions, refreshTTL: refreshTTL}, nil
}

func (s *Service) AccessTTL() time.Duration  { return s.manager.AccessTTL() }
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssuePair creates a session record and mints the matching token pair.
// Nothing is persisted if any step fails.
func (s *Service) IssuePair(ctx context.Context, userID int64, meta ClientMeta) (*Pair, error) {
	sid, err := NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	sessionID := sid.String()
	access, err := s.manager.CreateAccess(strconv.FormatInt(userID, 10), sessionID)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	now := time.Now()
	sess := &session.Session{
		SessionID:   sessionID,
		UserID:      userID,
		RefreshHash: HashRefreshSecret(secret),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(s.refreshTTL).Unix(),
	}
	if err := s.sessions.Save(ctx, sess, s.refreshTTL); err != nil {
		return nil, err
	}

	refresh, err := EncodeRefreshToken(sessionID, secret)
	if err != nil {
		return nil, err
	}

	return &Pair{
		Access:     access,
		Refresh:    refresh,
		SessionID:  sessionID,
		AccessTTL:  s.manager.AccessTTL(),
		RefreshTTL: s.refreshTTL,
	}, nil
}

// VerifyAccess checks an access token and reports the outcome as a value.
// Every failure mode collapses into the invalid zero result; callers never
// learn whether the token was malformed, forged, or expired.
func (s *Service) VerifyAccess(tokenStr string) Verification {
	claims, err := s.manager.ParseAccess(tokenStr)
	if err != nil {
		return Verification{}
	}
	userID, err := strconv.ParseInt(claims.UID, 10, 64)
	if err != nil || claims.SID == "" {
		return Verification{}
	}
	return Verification{Valid: true, UserID: userID, SessionID: claims.SID}
}

// Refresh rotates the presented refresh token and mints a fresh pair bound
// to the same session. Reuse of an already-rotated token destroys the
// session family and returns ErrRefreshReused; the remaining TTL carries
// over on success, so a session never outlives its original horizon.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	sessionID, secret, err := DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshInvalid, err)
	}

	nextSecret, err := NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	updated, err := s.sessions.RotateRefreshHash(ctx, sessionID,
		HashRefreshSecret(secret), HashRefreshSecret(nextSecret))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			// Best effort; the reuse signal must not be lost to a
			// metrics write failure.
			_ = s.sessions.TrackReplayAnomaly(ctx, sessionID, 0)
			return nil, ErrRefreshReused
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
			return nil, ErrRefreshInvalid
		default:
			return nil, err
		}
	}

	access, err := s.manager.CreateAccess(strconv.FormatInt(updated.UserID, 10), sessionID)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	refresh, err := EncodeRefreshToken(sessionID, nextSecret)
	if err != nil {
		return nil, err
	}

	return &Pair{
		Access:     access,
		Refresh:    refresh,
		SessionID:  sessionID,
		AccessTTL:  s.manager.AccessTTL(),
		RefreshTTL: time.Until(time.Unix(updated.ExpiresAt, 0)),
	}, nil
}

// Revoke destroys one session. Revoking an absent session is a no-op.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// RevokeOwned destroys sessionID only when it belongs to userID.
func (s *Service) RevokeOwned(ctx context.Context, userID int64, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return err
	}
	if sess.UserID != userID {
		return ErrSessionNotOwned
	}
	return s.sessions.Delete(ctx, sessionID)
}

// RevokeAll signs the user out everywhere.
func (s *Service) RevokeAll(ctx context.Context, userID int64) error {
	return s.sessions.DeleteAllForUser(ctx, userID)
}

// Sessions lists the user's live sessions.
func (s *Service) Sessions(ctx context.Context, userID int64) ([]*session.Session, error) {
	return s.sessions.List(ctx, userID)
}
