package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/obs"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/ratelimit"
)

type principal struct {
	UserID    int64
	SessionID string
}

type principalContextKey struct{}

func principalFromContext(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(principal)
	return p, ok
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// transport address. Behind shared NAT or a spoofable proxy header this is a
// weak identifier; the CSRF guard tolerates that by design.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requestLog stamps a request id and logs one line per request.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		s.log.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", clientIP(r)))
	})
}

// limit enforces one fixed-window limiter keyed by client IP. layer names
// the metric label.
func (s *Server) limit(limiter *ratelimit.Limiter, layer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if err := limiter.Allow(r.Context(), ip); err != nil {
				if errors.Is(err, ratelimit.ErrRateLimited) {
					obs.RateLimitHits.WithLabelValues(layer).Inc()
					if retry, rerr := limiter.RetryAfter(r.Context(), ip); rerr == nil && retry > 0 {
						w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retry)))
					}
				}
				s.respondFailure(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// csrfProtect validates the double-submit token on state-changing verbs.
// Safe verbs pass through; the initial-authentication routes are simply
// never wrapped with this middleware (no session exists to protect yet).
func (s *Server) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		supplied := r.Header.Get("X-CSRF-Token")
		if supplied == "" {
			supplied = r.PostFormValue("csrf_token")
		}

		if err := s.csrf.Validate(r.Context(), clientIP(r), supplied); err != nil {
			if !isDependencyError(err) {
				obs.CSRFRejects.Inc()
			}
			s.respondFailure(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the access cookie into a request principal. An
// absent or invalid token leaves the request anonymous; requireAuth decides
// whether that matters.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := cookieValue(r, cookieAccess); raw != "" {
			if v := s.tokens.VerifyAccess(raw); v.Valid {
				ctx := context.WithValue(r.Context(), principalContextKey{},
					principal{UserID: v.UserID, SessionID: v.SessionID})
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := principalFromContext(r.Context()); !ok {
			respondError(w, http.StatusUnauthorized, errorBody{
				Code:    codeUnauthorized,
				Message: "authentication required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole guards admin-only surfaces. None ship today; the session list
// endpoints are owner-scoped instead.
func (s *Server) requireRole(role string, lookup func(context.Context, int64) (string, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, errorBody{
					Code:    codeUnauthorized,
					Message: "authentication required",
				})
				return
			}
			have, err := lookup(r.Context(), p.UserID)
			if err != nil {
				s.respondFailure(w, r, err)
				return
			}
			if have != role {
				respondError(w, http.StatusForbidden, errorBody{
					Code:    codeForbidden,
					Message: "forbidden",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
