package session

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	now := time.Now()
	sess := &Session{
		UserID:      9007199254740993, // beyond float64 integer precision
		RefreshHash: [32]byte{1, 2, 3, 4},
		IP:          "2001:db8::1",
		UserAgent:   "Mozilla/5.0 (test)",
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(24 * time.Hour).Unix(),
	}

	data, err := Encode(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.UserID != sess.UserID {
		t.Fatalf("user id: want %d, got %d", sess.UserID, got.UserID)
	}
	if got.RefreshHash != sess.RefreshHash {
		t.Fatal("refresh hash mismatch")
	}
	if got.IP != sess.IP || got.UserAgent != sess.UserAgent {
		t.Fatalf("metadata mismatch: %q %q", got.IP, got.UserAgent)
	}
	if got.CreatedAt != sess.CreatedAt || got.ExpiresAt != sess.ExpiresAt {
		t.Fatal("timestamp mismatch")
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	sess := &Session{UserID: 1, ExpiresAt: time.Now().Unix()}
	data, err := Encode(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	data[0] = 99
	if _, err := Decode(data); err == nil {
		t.Fatal("expected unknown version to fail")
	}
}

// FuzzDecode exercises the binary decoder with arbitrary inputs: no panics,
// graceful errors for malformed data.
func FuzzDecode(f *testing.F) {
	sess := &Session{
		UserID:      42,
		RefreshHash: [32]byte{0xAA},
		IP:          "203.0.113.10",
		UserAgent:   "fuzz-agent",
		CreatedAt:   1700000000,
		ExpiresAt:   1700003600,
	}
	encoded, err := Encode(sess)
	if err == nil {
		f.Add(encoded)
		if len(encoded) > 10 {
			f.Add(encoded[:10])
		}
		if len(encoded) > 40 {
			f.Add(encoded[:40])
		}
	}
	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{1})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		if s == nil {
			t.Fatal("nil session with nil error")
		}
	})
}
