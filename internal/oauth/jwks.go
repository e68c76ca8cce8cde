package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	jwksMaxBody = 1 << 20

	// A kid miss triggers a refetch at most this often, so a stream of
	// garbage tokens cannot turn us into a JWKS-hammering client.
	jwksMinRefetch = time.Minute
)

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// keySet caches a provider's RSA verification keys by kid, refetching when
// the cache ages out or an unknown kid shows up.
type keySet struct {
	url    string
	client *http.Client
	ttl    time.Duration

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	attemptedAt time.Time
}

func newKeySet(url string, httpTimeout, cacheTTL time.Duration) *keySet {
	return &keySet{
		url:    url,
		client: &http.Client{Timeout: httpTimeout},
		ttl:    cacheTTL,
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// key returns the RSA public key for kid, fetching or refreshing the JWKS
// as needed. Fetch failures wrap ErrProviderUnavailable; an absent kid on a
// fresh key set wraps ErrTokenInvalid.
func (ks *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	pk, ok := ks.keys[kid]
	fresh := time.Since(ks.fetchedAt) < ks.ttl
	ks.mu.RUnlock()
	if ok && fresh {
		return pk, nil
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if pk, ok := ks.keys[kid]; ok && time.Since(ks.fetchedAt) < ks.ttl {
		return pk, nil
	}
	if time.Since(ks.attemptedAt) < jwksMinRefetch {
		if pk, ok := ks.keys[kid]; ok {
			return pk, nil
		}
		return nil, fmt.Errorf("%w: unknown key id %q", ErrTokenInvalid, kid)
	}

	ks.attemptedAt = time.Now()
	keys, err := ks.fetch(ctx)
	if err != nil {
		// A stale cached key beats failing the request outright.
		if pk, ok := ks.keys[kid]; ok {
			return pk, nil
		}
		return nil, err
	}
	ks.keys = keys
	ks.fetchedAt = time.Now()

	pk, ok = ks.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id %q", ErrTokenInvalid, kid)
	}
	return pk, nil
}

func (ks *keySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build jwks request: %v", ErrProviderUnavailable, err)
	}

	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch jwks: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: jwks endpoint returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, jwksMaxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read jwks body: %v", ErrProviderUnavailable, err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode jwks: %v", ErrProviderUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pk, err := parseRSAKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pk
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: jwks contained no usable RSA keys", ErrProviderUnavailable)
	}
	return keys, nil
}

func parseRSAKey(k jwksKey) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 || len(eb) > 8 {
		return nil, fmt.Errorf("jwk key material out of range")
	}

	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("jwk exponent out of range")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: e,
	}, nil
}
