package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/auth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/identity"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a bounded JSON body into dst. Malformed bodies are a
// validation failure, not a 500.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &auth.ValidationError{Fields: map[string]string{
			"body": "malformed JSON body",
		}}
	}
	return nil
}

type userSummary struct {
	ID        int64    `json:"id"`
	Email     string   `json:"email"`
	Name      string   `json:"name,omitempty"`
	Role      string   `json:"role"`
	Providers []string `json:"providers"`
}

func summarize(u *identity.User) userSummary {
	providers := make([]string, 0, 2)
	for _, p := range u.LinkedProviders() {
		providers = append(providers, string(p))
	}
	return userSummary{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		Providers: providers,
	}
}

func (s *Server) meta(r *http.Request) token.ClientMeta {
	return token.ClientMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	res, err := s.auth.Register(r.Context(), auth.RegisterInput(in), s.meta(r))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	s.cookies.setAuthCookies(w, res.Pair)
	respondData(w, http.StatusCreated, map[string]any{"user": summarize(res.User)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	res, err := s.auth.Login(r.Context(), auth.LoginInput(in), s.meta(r))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	s.cookies.setAuthCookies(w, res.Pair)
	respondData(w, http.StatusOK, map[string]any{"user": summarize(res.User)})
}

func providerFromRequest(r *http.Request) (identity.Provider, error) {
	return identity.ParseProvider(mux.Vars(r)["provider"])
}

func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider, err := providerFromRequest(r)
	if err != nil {
		s.respondFailure(w, r, auth.ErrProviderDisabled)
		return
	}

	var in struct {
		IDToken string `json:"idToken"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	res, err := s.auth.OAuthLogin(r.Context(), provider, in.IDToken, s.meta(r))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	s.cookies.setAuthCookies(w, res.Pair)
	respondData(w, http.StatusOK, map[string]any{"user": summarize(res.User)})
}

// handleRefresh rotates the refresh cookie into a fresh pair. Invalid or
// reused tokens clear both cookies so the browser stops replaying them; a
// backing-store outage leaves the cookies alone.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := cookieValue(r, cookieRefresh)
	if raw == "" {
		respondError(w, http.StatusUnauthorized, errorBody{
			Code:    codeUnauthorized,
			Message: "invalid credentials",
		})
		return
	}

	res, err := s.auth.Refresh(r.Context(), raw, s.meta(r))
	if err != nil {
		if !isDependencyError(err) {
			s.cookies.clearAuthCookies(w)
		}
		s.respondFailure(w, r, err)
		return
	}

	s.cookies.setAuthCookies(w, res.Pair)
	respondData(w, http.StatusOK, map[string]any{"refreshed": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	var in struct {
		All bool `json:"all"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			s.respondFailure(w, r, err)
			return
		}
	}

	if err := s.auth.Logout(r.Context(), p.UserID, p.SessionID, in.All); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	s.cookies.clearAuthCookies(w)
	respondData(w, http.StatusOK, map[string]any{"loggedOut": true})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	provider, err := providerFromRequest(r)
	if err != nil {
		s.respondFailure(w, r, auth.ErrProviderDisabled)
		return
	}
	p, _ := principalFromContext(r.Context())

	var in struct {
		IDToken string `json:"idToken"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	user, err := s.auth.Connect(r.Context(), p.UserID, provider, in.IDToken)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"user": summarize(user)})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	provider, err := providerFromRequest(r)
	if err != nil {
		s.respondFailure(w, r, auth.ErrProviderDisabled)
		return
	}
	p, _ := principalFromContext(r.Context())

	user, err := s.auth.Disconnect(r.Context(), p.UserID, provider)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"user": summarize(user)})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	sessions, err := s.auth.Sessions(r.Context(), p.UserID, p.SessionID)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	if err := s.auth.RevokeSession(r.Context(), p.UserID, mux.Vars(r)["id"]); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"revoked": true})
}

// handleCSRF issues (or echoes) the caller's CSRF token and refreshes the
// readable cookie. Idempotent within the token TTL.
func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	tok, err := s.csrf.Issue(r.Context(), clientIP(r))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	s.cookies.setCSRFCookie(w, tok, s.csrf.TTL())
	respondData(w, http.StatusOK, map[string]any{"csrfToken": tok})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	user, err := s.auth.Me(r.Context(), p.UserID)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"user": summarize(user)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
