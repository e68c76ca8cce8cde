package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/auth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/csrf"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/identity"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/oauth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/password"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/ratelimit"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/session"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

type stubVerifier struct {
	claims map[string]*oauth.Claims
}

func (s *stubVerifier) Verify(_ context.Context, raw string) (*oauth.Claims, error) {
	c, ok := s.claims[raw]
	if !ok {
		return nil, oauth.ErrTokenInvalid
	}
	return c, nil
}

type apiTest struct {
	srv    *httptest.Server
	client *http.Client
	google *stubVerifier
}

func newAPITest(t *testing.T) *apiTest {
	return newAPITestWithLimits(t, 1000, 100)
}

func newAPITestWithLimits(t *testing.T, generalMax, authMax int) *apiTest {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	manager, err := token.NewManager(token.ManagerConfig{
		AccessTTL:     15 * time.Minute,
		SigningMethod: token.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authcore-test",
	})
	require.NoError(t, err)
	tokens, err := token.NewService(manager, session.NewStore(rdb, "auth"), time.Hour)
	require.NoError(t, err)

	hasher, err := password.NewHasher(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	require.NoError(t, err)

	lockout := ratelimit.NewLockout(rdb, "auth", ratelimit.LockoutConfig{
		Enabled:   true,
		Threshold: 5,
		Window:    15 * time.Minute,
	})
	google := &stubVerifier{claims: map[string]*oauth.Claims{}}

	svc, err := auth.NewService(identity.NewMemoryStore(), tokens, hasher, lockout,
		map[identity.Provider]oauth.Verifier{identity.ProviderGoogle: google},
		auth.Config{}, zap.NewNop())
	require.NoError(t, err)

	guard := csrf.NewGuard(rdb, "auth", time.Hour)
	general := ratelimit.NewLimiter(rdb, "auth:rl:gen", generalMax, time.Minute)
	authRL := ratelimit.NewLimiter(rdb, "auth:rl:auth", authMax, time.Minute)

	api := NewServer(svc, tokens, guard, general, authRL, CookieConfig{}, zap.NewNop())

	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &apiTest{
		srv:    srv,
		client: &http.Client{Jar: jar},
		google: google,
	}
}

func (a *apiTest) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func (a *apiTest) cookie(t *testing.T, name string) *http.Cookie {
	t.Helper()
	u, err := url.Parse(a.srv.URL)
	require.NoError(t, err)
	for _, ck := range a.client.Jar.Cookies(u) {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

// newClientSession logs the same account in from a second cookie jar,
// simulating another device.
func newClientSession(t *testing.T, a *apiTest, email, pass string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]string{
		"email": email, "password": pass,
	}))
	resp, err := client.Post(a.srv.URL+"/login", "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return client
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestRegisterLoginLockoutEndToEnd(t *testing.T) {
	api := newAPITest(t)

	resp, env := api.do(t, http.MethodPost, "/register",
		map[string]string{"email": "a@x.com", "password": "Str0ngPass1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, env.Success)
	require.NotNil(t, api.cookie(t, cookieAccess))
	require.NotNil(t, api.cookie(t, cookieRefresh))

	resp, _ = api.do(t, http.MethodPost, "/auth/logout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, api.cookie(t, cookieAccess), "logout must clear the access cookie")
	assert.Nil(t, api.cookie(t, cookieRefresh), "logout must clear the refresh cookie")

	for i := 0; i < 5; i++ {
		resp, env = api.do(t, http.MethodPost, "/login",
			map[string]string{"email": "a@x.com", "password": "WrongPass99"}, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d", i+1)
		require.Equal(t, codeUnauthorized, errCode(env))
	}

	resp, env = api.do(t, http.MethodPost, "/login",
		map[string]string{"email": "a@x.com", "password": "Str0ngPass1"}, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, codeAccountLocked, errCode(env))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestLoginValidationError(t *testing.T) {
	api := newAPITest(t)

	resp, env := api.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, codeValidation, errCode(env))
	assert.Contains(t, env.Error.Fields, "password")
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	api := newAPITest(t)

	resp, _ := api.do(t, http.MethodPost, "/register",
		map[string]string{"email": "a@x.com", "password": "Str0ngPass1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	oldRefresh := api.cookie(t, cookieRefresh).Value

	resp, env := api.do(t, http.MethodPost, "/auth/refresh", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)
	require.NotEqual(t, oldRefresh, api.cookie(t, cookieRefresh).Value)

	// Replay the rotated-away token: 401, family revoked, cookies cleared.
	req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/auth/refresh", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: cookieRefresh, Value: oldRefresh})
	replay, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer replay.Body.Close()
	require.Equal(t, http.StatusUnauthorized, replay.StatusCode)

	resp, env = api.do(t, http.MethodPost, "/auth/refresh", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeUnauthorized, errCode(env))
}

func TestRefreshWithoutCookie(t *testing.T) {
	api := newAPITest(t)

	resp, env := api.do(t, http.MethodPost, "/auth/refresh", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeUnauthorized, errCode(env))
}

func TestCSRFDoubleSubmit(t *testing.T) {
	api := newAPITest(t)

	resp, _ := api.do(t, http.MethodPost, "/register",
		map[string]string{"email": "a@x.com", "password": "Str0ngPass1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	env := envelope{}
	resp, env = api.do(t, http.MethodGet, "/auth/csrf", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := env.Data.(map[string]any)
	csrfToken := data["csrfToken"].(string)
	require.NotEmpty(t, csrfToken)
	require.NotNil(t, api.cookie(t, cookieCSRF))

	// Issuance is idempotent within the TTL.
	_, again := api.do(t, http.MethodGet, "/auth/csrf", nil, nil)
	assert.Equal(t, csrfToken, again.Data.(map[string]any)["csrfToken"])

	// State-changing request without the header fails closed.
	resp, env = api.do(t, http.MethodDelete, "/user/google/disconnect", nil, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, codeCSRFTokenInvalid, errCode(env))

	// Wrong token fails closed too.
	resp, env = api.do(t, http.MethodDelete, "/user/google/disconnect", nil,
		map[string]string{"X-CSRF-Token": "0000"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, codeCSRFTokenInvalid, errCode(env))

	// Correct token passes the guard; the flow then reports the real
	// conflict (google was never linked).
	resp, env = api.do(t, http.MethodDelete, "/user/google/disconnect", nil,
		map[string]string{"X-CSRF-Token": csrfToken})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, codeConflict, errCode(env))

	// GET never requires the token.
	resp, _ = api.do(t, http.MethodGet, "/auth/me", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnectDisconnectFlow(t *testing.T) {
	api := newAPITest(t)

	resp, _ := api.do(t, http.MethodPost, "/register",
		map[string]string{"email": "a@x.com", "password": "Str0ngPass1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	api.google.claims["tok-a"] = &oauth.Claims{Subject: "sub-a", Email: "a@x.com", EmailVerified: true}

	_, env := api.do(t, http.MethodGet, "/auth/csrf", nil, nil)
	csrfToken := env.Data.(map[string]any)["csrfToken"].(string)
	hdr := map[string]string{"X-CSRF-Token": csrfToken}

	resp, env = api.do(t, http.MethodPost, "/user/google/connect",
		map[string]string{"idToken": "tok-a"}, hdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := env.Data.(map[string]any)["user"].(map[string]any)
	assert.Contains(t, user["providers"], "google")

	resp, env = api.do(t, http.MethodDelete, "/user/google/disconnect", nil, hdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user = env.Data.(map[string]any)["user"].(map[string]any)
	assert.NotContains(t, user["providers"], "google")

	// With the password gone this would be the last credential; here the
	// password remains, so disconnecting again is just "not linked".
	resp, env = api.do(t, http.MethodDelete, "/user/google/disconnect", nil, hdr)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, codeConflict, errCode(env))
}

func TestDisconnectLastCredential(t *testing.T) {
	api := newAPITest(t)

	api.google.claims["tok-only"] = &oauth.Claims{
		Subject: "sub-only", Email: "only@x.com", EmailVerified: true,
	}
	resp, _ := api.do(t, http.MethodPost, "/auth/google/login",
		map[string]string{"idToken": "tok-only"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, env := api.do(t, http.MethodGet, "/auth/csrf", nil, nil)
	csrfToken := env.Data.(map[string]any)["csrfToken"].(string)

	resp, env = api.do(t, http.MethodDelete, "/user/google/disconnect", nil,
		map[string]string{"X-CSRF-Token": csrfToken})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, codeLastCredential, errCode(env))
}

func TestOAuthUnverifiedEmailConflict(t *testing.T) {
	api := newAPITest(t)

	resp, _ := api.do(t, http.MethodPost, "/register",
		map[string]string{"email": "a@x.com", "password": "Str0ngPass1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_, _ = api.do(t, http.MethodPost, "/auth/logout", nil, nil)

	api.google.claims["tok-u"] = &oauth.Claims{Subject: "sub-a", Email: "a@x.com", EmailVerified: false}
	resp, env := api.do(t, http.MethodPost, "/auth/google/login",
		map[string]string{"idToken": "tok-u"}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, codeEmailUnverified, errCode(env))
}

func TestSessionsListAndRevoke(t *testing.T) {
	api := newAPITest(t)

	resp, _ := api.do(t, http.MethodPost, "/register",
		map[string]string{"email": "a@x.com", "password": "Str0ngPass1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// A second session from another client.
	_ = newClientSession(t, api, "a@x.com", "Str0ngPass1")

	resp, env := api.do(t, http.MethodGet, "/auth/sessions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := env.Data.(map[string]any)["sessions"].([]any)
	require.Len(t, sessions, 2)

	var currentID, otherID string
	for _, s := range sessions {
		m := s.(map[string]any)
		if m["current"].(bool) {
			currentID = m["id"].(string)
		} else {
			otherID = m["id"].(string)
		}
	}
	require.NotEmpty(t, currentID)
	require.NotEmpty(t, otherID)

	_, cenv := api.do(t, http.MethodGet, "/auth/csrf", nil, nil)
	csrfToken := cenv.Data.(map[string]any)["csrfToken"].(string)

	resp, _ = api.do(t, http.MethodDelete, "/auth/sessions/"+otherID, nil,
		map[string]string{"X-CSRF-Token": csrfToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = api.do(t, http.MethodGet, "/auth/sessions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, env.Data.(map[string]any)["sessions"].([]any), 1)
}

func TestAuthRequired(t *testing.T) {
	api := newAPITest(t)

	for _, path := range []string{"/auth/me", "/auth/sessions"} {
		resp, env := api.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, codeUnauthorized, errCode(env))
	}

	resp, env := api.do(t, http.MethodPost, "/auth/logout", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeUnauthorized, errCode(env))
}

func TestAuthRateLimit(t *testing.T) {
	tight := newAPITestWithLimits(t, 1000, 3)
	for i := 0; i < 3; i++ {
		resp, _ := tight.do(t, http.MethodPost, "/login",
			map[string]string{"email": "a@x.com", "password": "x"}, nil)
		require.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode, "attempt %d", i+1)
	}
	resp, env := tight.do(t, http.MethodPost, "/login",
		map[string]string{"email": "a@x.com", "password": "x"}, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, codeRateLimited, errCode(env))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestHealthzBypassesMiddleware(t *testing.T) {
	tight := newAPITestWithLimits(t, 1, 1)

	for i := 0; i < 5; i++ {
		resp, err := tight.client.Get(tight.srv.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}
