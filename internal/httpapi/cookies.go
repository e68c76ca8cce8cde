package httpapi

import (
	"net/http"
	"time"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

const (
	cookieAccess  = "access"
	cookieRefresh = "refresh"
	cookieCSRF    = "csrf-token"
)

// CookieConfig switches the Secure attribute and domain between dev and
// production deployments. SameSite is always Lax.
type CookieConfig struct {
	Secure bool
	Domain string
}

func (c CookieConfig) base(name, value string, maxAge int, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func maxAgeSeconds(ttl time.Duration) int {
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// setAuthCookies binds a freshly issued pair to the browser. Both cookies
// are HttpOnly; scripts never see token material.
func (c CookieConfig) setAuthCookies(w http.ResponseWriter, pair *token.Pair) {
	http.SetCookie(w, c.base(cookieAccess, pair.Access, maxAgeSeconds(pair.AccessTTL), true))
	http.SetCookie(w, c.base(cookieRefresh, pair.Refresh, maxAgeSeconds(pair.RefreshTTL), true))
}

func (c CookieConfig) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, c.base(cookieAccess, "", -1, true))
	http.SetCookie(w, c.base(cookieRefresh, "", -1, true))
}

// setCSRFCookie is deliberately readable: the double-submit pattern needs
// the SPA to copy the value into the X-CSRF-Token header.
func (c CookieConfig) setCSRFCookie(w http.ResponseWriter, tok string, ttl time.Duration) {
	http.SetCookie(w, c.base(cookieCSRF, tok, maxAgeSeconds(ttl), false))
}

// cookieValue reads the named cookie only; tokens are never accepted from
// headers here, keeping the auth path distinct from the CSRF header.
func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
