package token

import (
	"strings"
	"testing"
)

func TestRefreshTokenRoundtrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("new session id: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("new refresh secret: %v", err)
	}

	tok, err := EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	gotSID, gotSecret, err := DecodeRefreshToken(tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotSID != sid.String() {
		t.Errorf("session id mismatch: %q vs %q", gotSID, sid.String())
	}
	if gotSecret != secret {
		t.Error("secret mismatch after roundtrip")
	}
}

func TestDecodeRefreshTokenRejects(t *testing.T) {
	for name, input := range map[string]string{
		"empty":        "",
		"bad base64":   "!!!not-base64!!!",
		"too short":    "dG9vLXNob3J0",
		"wrong size":   strings.Repeat("A", 32),
		"with padding": "aGVsbG8=",
	} {
		if _, _, err := DecodeRefreshToken(input); err == nil {
			t.Errorf("%s: expected decode error", name)
		}
	}
}

func TestParseSessionID(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("new session id: %v", err)
	}

	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != sid {
		t.Error("session id changed across parse")
	}

	if _, err := ParseSessionID("AAAA"); err == nil {
		t.Error("expected wrong-size session id to be rejected")
	}
	if _, err := ParseSessionID("///"); err == nil {
		t.Error("expected invalid base64 to be rejected")
	}
}

// FuzzDecodeRefreshToken checks that arbitrary input never panics and that
// anything that decodes also re-encodes to the same values.
func FuzzDecodeRefreshToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("!!!not-base64!!!")
	f.Add(strings.Repeat("A", 64))

	if sid, err := NewSessionID(); err == nil {
		if secret, err := NewRefreshSecret(); err == nil {
			if tok, err := EncodeRefreshToken(sid.String(), secret); err == nil {
				f.Add(tok)
			}
		}
	}

	f.Fuzz(func(t *testing.T, input string) {
		sessionID, secret, err := DecodeRefreshToken(input)
		if err != nil {
			return
		}

		reEncoded, err := EncodeRefreshToken(sessionID, secret)
		if err != nil {
			return
		}
		sid2, secret2, err := DecodeRefreshToken(reEncoded)
		if err != nil {
			t.Fatalf("roundtrip decode failed: %v", err)
		}
		if sid2 != sessionID || secret2 != secret {
			t.Error("roundtrip mismatch")
		}
	})
}
