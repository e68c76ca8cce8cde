package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultLeeway      = time.Minute
	defaultHTTPTimeout = 5 * time.Second
	defaultCacheTTL    = time.Hour

	googleJWKSURL    = "https://www.googleapis.com/oauth2/v3/certs"
	microsoftJWKSURL = "https://login.microsoftonline.com/common/discovery/v2.0/keys"

	microsoftIssuerPrefix = "https://login.microsoftonline.com/"
	microsoftIssuerSuffix = "/v2.0"
)

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// Config parameterizes one provider verifier. Audience is the OAuth client
// ID and is required; everything else falls back to provider defaults.
type Config struct {
	Audience    string
	Issuers     []string
	JWKSURL     string
	Leeway      time.Duration
	HTTPTimeout time.Duration
	CacheTTL    time.Duration
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email             string   `json:"email"`
	EmailVerified     flexBool `json:"email_verified"`
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	XmsEdov           flexBool `json:"xms_edov"`
}

// flexBool tolerates the providers' habit of sending booleans as strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// IDTokenVerifier validates RS256 ID tokens against a cached provider JWKS.
type IDTokenVerifier struct {
	parser    *jwt.Parser
	keys      *keySet
	issuerOK  func(string) bool
	mapClaims func(*idTokenClaims) *Claims
}

// NewGoogleVerifier verifies Google Identity Services ID tokens.
func NewGoogleVerifier(cfg Config) (*IDTokenVerifier, error) {
	return newVerifier(cfg, googleJWKSURL, exactIssuers(googleIssuers), mapGoogleClaims)
}

// NewMicrosoftVerifier verifies Microsoft identity platform v2.0 ID tokens.
// Without an explicit issuer list it accepts any tenant, which is what a
// multi-tenant app registration needs.
func NewMicrosoftVerifier(cfg Config) (*IDTokenVerifier, error) {
	return newVerifier(cfg, microsoftJWKSURL, anyMicrosoftTenant, mapMicrosoftClaims)
}

func newVerifier(cfg Config, jwksURL string, issuerOK func(string) bool, mapClaims func(*idTokenClaims) *Claims) (*IDTokenVerifier, error) {
	if cfg.Audience == "" {
		return nil, errors.New("oauth: audience (client id) is required")
	}

	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	httpTimeout := cfg.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = defaultHTTPTimeout
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if cfg.JWKSURL != "" {
		jwksURL = cfg.JWKSURL
	}
	if len(cfg.Issuers) > 0 {
		issuerOK = exactIssuers(cfg.Issuers)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(leeway),
	)

	return &IDTokenVerifier{
		parser:    parser,
		keys:      newKeySet(jwksURL, httpTimeout, cacheTTL),
		issuerOK:  issuerOK,
		mapClaims: mapClaims,
	}, nil
}

func (v *IDTokenVerifier) Verify(ctx context.Context, rawIDToken string) (*Claims, error) {
	if rawIDToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	claims := &idTokenClaims{}
	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token missing kid header", ErrTokenInvalid)
		}
		return v.keys.key(ctx, kid)
	}

	token, err := v.parser.ParseWithClaims(rawIDToken, claims, keyfunc)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if !v.issuerOK(claims.Issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrTokenInvalid, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token missing subject", ErrTokenInvalid)
	}
	return v.mapClaims(claims), nil
}

func exactIssuers(issuers []string) func(string) bool {
	set := make(map[string]struct{}, len(issuers))
	for _, iss := range issuers {
		set[iss] = struct{}{}
	}
	return func(iss string) bool {
		_, ok := set[iss]
		return ok
	}
}

func anyMicrosoftTenant(iss string) bool {
	rest, ok := strings.CutPrefix(iss, microsoftIssuerPrefix)
	if !ok {
		return false
	}
	tenant, ok := strings.CutSuffix(rest, microsoftIssuerSuffix)
	return ok && tenant != "" && !strings.Contains(tenant, "/")
}

func mapGoogleClaims(c *idTokenClaims) *Claims {
	return &Claims{
		Subject:       c.Subject,
		Email:         c.Email,
		EmailVerified: bool(c.EmailVerified),
		Name:          c.Name,
	}
}

func mapMicrosoftClaims(c *idTokenClaims) *Claims {
	email := c.Email
	if email == "" && strings.Contains(c.PreferredUsername, "@") {
		email = c.PreferredUsername
	}
	return &Claims{
		Subject: c.Subject,
		Email:   email,
		// Microsoft omits email_verified; xms_edov carries the domain
		// ownership signal when the app registration requests it.
		EmailVerified: bool(c.EmailVerified) || bool(c.XmsEdov),
		Name:          c.Name,
	}
}
