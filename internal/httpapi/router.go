// Package httpapi exposes the auth flows over HTTP: gorilla/mux routes, the
// middleware chain (request logging, rate limiting, CSRF, cookie-based
// authentication), and the JSON response envelope.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/auth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/csrf"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/ratelimit"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

// Server holds the wired dependencies behind the HTTP surface.
type Server struct {
	auth    *auth.Service
	tokens  *token.Service
	csrf    *csrf.Guard
	general *ratelimit.Limiter
	authRL  *ratelimit.Limiter
	cookies CookieConfig
	log     *zap.Logger
}

func NewServer(
	authSvc *auth.Service,
	tokens *token.Service,
	guard *csrf.Guard,
	general, authRL *ratelimit.Limiter,
	cookies CookieConfig,
	log *zap.Logger,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		auth:    authSvc,
		tokens:  tokens,
		csrf:    guard,
		general: general,
		authRL:  authRL,
		cookies: cookies,
		log:     log,
	}
}

// Router builds the route table. Ordering per request: request log → general
// limiter → authenticate; the auth limiter wraps only the credential
// endpoints, and the CSRF guard wraps only authenticated state-changing
// routes (login/register/OAuth-login carry no session to protect).
func (s *Server) Router() *mux.Router {
	root := mux.NewRouter()

	// Liveness stays outside the middleware chain: no log spam, no rate
	// budget spent by the orchestrator's probes.
	root.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	r := root.PathPrefix("/").Subrouter()
	r.Use(s.requestLog)
	r.Use(s.limit(s.general, "general"))
	r.Use(s.authenticate)

	authLimited := s.limit(s.authRL, "auth")
	csrfGuarded := func(h http.HandlerFunc) http.Handler {
		return s.requireAuth(s.csrfProtect(h))
	}

	r.Handle("/register", authLimited(http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	r.Handle("/login", authLimited(http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)
	r.Handle("/auth/{provider:google|microsoft}/login",
		authLimited(http.HandlerFunc(s.handleOAuthLogin))).Methods(http.MethodPost)

	r.Handle("/auth/refresh", authLimited(http.HandlerFunc(s.handleRefresh))).Methods(http.MethodPost)
	r.Handle("/auth/logout", s.requireAuth(http.HandlerFunc(s.handleLogout))).Methods(http.MethodPost)

	r.HandleFunc("/auth/csrf", s.handleCSRF).Methods(http.MethodGet)
	r.Handle("/auth/me", s.requireAuth(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)

	r.Handle("/auth/sessions", s.requireAuth(http.HandlerFunc(s.handleSessions))).Methods(http.MethodGet)
	r.Handle("/auth/sessions/{id}", csrfGuarded(s.handleRevokeSession)).Methods(http.MethodDelete)

	r.Handle("/user/{provider:google|microsoft}/connect",
		csrfGuarded(s.handleConnect)).Methods(http.MethodPost)
	r.Handle("/user/{provider:google|microsoft}/disconnect",
		csrfGuarded(s.handleDisconnect)).Methods(http.MethodDelete)

	return root
}
