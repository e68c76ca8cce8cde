package token

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/session"
)

func newServiceTest(t *testing.T) (*Service, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	manager, err := NewManager(ManagerConfig{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authcore-test",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	svc, err := NewService(manager, session.NewStore(rdb, "auth"), time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	return svc, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testMeta() ClientMeta {
	return ClientMeta{IP: "198.51.100.7", UserAgent: "test-agent/1.0"}
}

func TestIssueVerifyRoundtrip(t *testing.T) {
	svc, _, done := newServiceTest(t)
	defer done()
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, 42, testMeta())
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	if pair.Access == "" || pair.Refresh == "" || pair.SessionID == "" {
		t.Fatal("issued pair has empty fields")
	}

	v := svc.VerifyAccess(pair.Access)
	if !v.Valid {
		t.Fatal("freshly issued access token failed verification")
	}
	if v.UserID != 42 {
		t.Fatalf("expected user id 42, got %d", v.UserID)
	}
	if v.SessionID != pair.SessionID {
		t.Fatalf("expected session id %q, got %q", pair.SessionID, v.SessionID)
	}

	sessions, err := svc.Sessions(ctx, 42)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != pair.SessionID {
		t.Fatalf("expected one session %q, got %v", pair.SessionID, sessions)
	}
}

func TestVerifyAccessInvalidInputs(t *testing.T) {
	svc, _, done := newServiceTest(t)
	defer done()

	forged, err := NewManager(ManagerConfig{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("another-secret-another-secret-xx"),
		Issuer:        "authcore-test",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	forgedToken, err := forged.CreateAccess("42", "sid")
	if err != nil {
		t.Fatalf("mint forged token: %v", err)
	}

	for name, tok := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"wrong secret": forgedToken,
	} {
		if v := svc.VerifyAccess(tok); v.Valid {
			t.Errorf("%s token verified as valid", name)
		}
	}
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	svc, _, done := newServiceTest(t)
	defer done()
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, 7, testMeta())
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	rotated, err := svc.Refresh(ctx, pair.Refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.SessionID != pair.SessionID {
		t.Fatalf("rotation changed session id: %q -> %q", pair.SessionID, rotated.SessionID)
	}
	if rotated.Refresh == pair.Refresh {
		t.Fatal("rotation returned the same refresh token")
	}
	if rotated.RefreshTTL <= 0 || rotated.RefreshTTL > time.Hour {
		t.Fatalf("rotated refresh TTL out of range: %v", rotated.RefreshTTL)
	}

	// Replaying the pre-rotation token must kill the whole family.
	if _, err := svc.Refresh(ctx, pair.Refresh); !errors.Is(err, ErrRefreshReused) {
		t.Fatalf("expected ErrRefreshReused, got %v", err)
	}
	if _, err := svc.Refresh(ctx, rotated.Refresh); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("winner token should be dead after reuse, got %v", err)
	}

	sessions, err := svc.Sessions(ctx, 7)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions after family revocation, got %d", len(sessions))
	}
}

func TestRefreshInvalidTokens(t *testing.T) {
	svc, _, done := newServiceTest(t)
	defer done()
	ctx := context.Background()

	for name, tok := range map[string]string{
		"empty":     "",
		"not b64":   "!!!!",
		"too short": "YWJj",
		"unknown":   strings.Repeat("A", 64),
	} {
		if _, err := svc.Refresh(ctx, tok); !errors.Is(err, ErrRefreshInvalid) {
			t.Errorf("%s: expected ErrRefreshInvalid, got %v", name, err)
		}
	}
}

func TestRefreshExpiredSession(t *testing.T) {
	svc, mr, done := newServiceTest(t)
	defer done()
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, 9, testMeta())
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := svc.Refresh(ctx, pair.Refresh); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid after expiry, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	svc, _, done := newServiceTest(t)
	defer done()
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, 11, testMeta())
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, pair.Refresh)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, reuses int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRefreshReused), errors.Is(err, ErrRefreshInvalid):
			reuses++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning refresh, got %d", wins)
	}
	if reuses != workers-1 {
		t.Fatalf("expected %d losing refreshes, got %d", workers-1, reuses)
	}
}

func TestRevokeOwned(t *testing.T) {
	svc, _, done := newServiceTest(t)
	defer done()
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, 21, testMeta())
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	if err := svc.RevokeOwned(ctx, 99, pair.SessionID); !errors.Is(err, ErrSessionNotOwned) {
		t.Fatalf("expected ErrSessionNotOwned, got %v", err)
	}
	if err := svc.RevokeOwned(ctx, 21, pair.SessionID); err != nil {
		t.Fatalf("owner revoke: %v", err)
	}
	if err := svc.RevokeOwned(ctx, 21, pair.SessionID); err != nil {
		t.Fatalf("revoking an absent session should be a no-op, got %v", err)
	}

	if _, err := svc.Refresh(ctx, pair.Refresh); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("refresh after revoke should fail, got %v", err)
	}
}

func TestRevokeAll(t *testing.T) {
	svc, _, done := newServiceTest(t)
	defer done()
	ctx := context.Background()

	first, err := svc.IssuePair(ctx, 33, testMeta())
	if err != nil {
		t.Fatalf("issue first pair: %v", err)
	}
	second, err := svc.IssuePair(ctx, 33, testMeta())
	if err != nil {
		t.Fatalf("issue second pair: %v", err)
	}

	if err := svc.RevokeAll(ctx, 33); err != nil {
		t.Fatalf("revoke all: %v", err)
	}

	sessions, err := svc.Sessions(ctx, 33)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}

	for _, p := range []*Pair{first, second} {
		if _, err := svc.Refresh(ctx, p.Refresh); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("refresh after revoke-all should fail, got %v", err)
		}
	}
}
