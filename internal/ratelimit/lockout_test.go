package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLockoutThreshold(t *testing.T) {
	rdb, _, done := newRedisTest(t)
	defer done()
	ctx := context.Background()

	lockout := NewLockout(rdb, "auth", LockoutConfig{
		Enabled:   true,
		Threshold: 5,
		Window:    15 * time.Minute,
	})

	for i := 1; i <= 4; i++ {
		count, err := lockout.RecordFailure(ctx, "a@x.com")
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		if count != int64(i) {
			t.Fatalf("expected count %d, got %d", i, count)
		}

		locked, _, err := lockout.Locked(ctx, "a@x.com")
		if err != nil {
			t.Fatalf("locked check %d: %v", i, err)
		}
		if locked {
			t.Fatalf("should not be locked at %d failures", i)
		}
	}

	if _, err := lockout.RecordFailure(ctx, "a@x.com"); err != nil {
		t.Fatalf("record 5th failure: %v", err)
	}

	locked, retry, err := lockout.Locked(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("locked check: %v", err)
	}
	if !locked {
		t.Fatal("expected lock at threshold")
	}
	if retry <= 0 || retry > 15*time.Minute {
		t.Fatalf("unexpected retry hint %v", retry)
	}
}

func TestLockoutResetOnSuccess(t *testing.T) {
	rdb, _, done := newRedisTest(t)
	defer done()
	ctx := context.Background()

	lockout := NewLockout(rdb, "auth", LockoutConfig{
		Enabled:   true,
		Threshold: 3,
		Window:    15 * time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := lockout.RecordFailure(ctx, "a@x.com"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	if err := lockout.Reset(ctx, "a@x.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	count, err := lockout.FailureCount(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("failure count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected counter reset to 0, got %d", count)
	}
}

func TestLockoutWindowExpires(t *testing.T) {
	rdb, mr, done := newRedisTest(t)
	defer done()
	ctx := context.Background()

	lockout := NewLockout(rdb, "auth", LockoutConfig{
		Enabled:   true,
		Threshold: 2,
		Window:    time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := lockout.RecordFailure(ctx, "a@x.com"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	locked, _, err := lockout.Locked(ctx, "a@x.com")
	if err != nil || !locked {
		t.Fatalf("expected locked, got locked=%v err=%v", locked, err)
	}

	mr.FastForward(2 * time.Minute)

	locked, _, err = lockout.Locked(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("locked check after window: %v", err)
	}
	if locked {
		t.Fatal("expected lock released after window expiry")
	}
}

func TestLockoutDisabled(t *testing.T) {
	rdb, _, done := newRedisTest(t)
	defer done()
	ctx := context.Background()

	lockout := NewLockout(rdb, "auth", LockoutConfig{Enabled: false, Threshold: 1, Window: time.Minute})

	if _, err := lockout.RecordFailure(ctx, "a@x.com"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	locked, _, err := lockout.Locked(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("locked: %v", err)
	}
	if locked {
		t.Fatal("disabled lockout must never lock")
	}
}
