package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/auth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/csrf"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/identity"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/oauth"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/ratelimit"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/session"
	"github.com/myzone-mvbican/AI-Readiness-sub003/internal/token"
)

// Stable machine-readable error codes; clients branch on these, never on
// message prose.
const (
	codeValidation       = "VALIDATION_ERROR"
	codeUnauthorized     = "UNAUTHORIZED"
	codeForbidden        = "FORBIDDEN"
	codeConflict         = "CONFLICT"
	codeLastCredential   = "LAST_CREDENTIAL"
	codeEmailUnverified  = "OAUTH_EMAIL_UNVERIFIED"
	codeCSRFTokenInvalid = "CSRF_TOKEN_INVALID"
	codeRateLimited      = "RATE_LIMITED"
	codeAccountLocked    = "ACCOUNT_LOCKED"
	codeDependency       = "DEPENDENCY_ERROR"
	codeNotFound         = "NOT_FOUND"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

func respondData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &body})
}

// respondFailure maps a flow error onto the response taxonomy. Credential
// and token failures collapse into one generic 401; anything unrecognized is
// a dependency failure reported generically and logged with detail.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *auth.ValidationError
		locked     *auth.LockedError
	)

	switch {
	case errors.As(err, &validation):
		respondError(w, http.StatusBadRequest, errorBody{
			Code:    codeValidation,
			Message: "request validation failed",
			Fields:  validation.Fields,
		})

	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(locked.RetryAfter)))
		respondError(w, http.StatusTooManyRequests, errorBody{
			Code:    codeAccountLocked,
			Message: "too many attempts, try again later",
		})

	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, oauth.ErrTokenInvalid),
		errors.Is(err, token.ErrRefreshInvalid),
		errors.Is(err, token.ErrRefreshReused):
		respondError(w, http.StatusUnauthorized, errorBody{
			Code:    codeUnauthorized,
			Message: "invalid credentials",
		})

	case errors.Is(err, auth.ErrEmailUnverified):
		respondError(w, http.StatusConflict, errorBody{
			Code:    codeEmailUnverified,
			Message: "the provider has not verified this email address",
		})

	case errors.Is(err, identity.ErrLastCredential):
		respondError(w, http.StatusConflict, errorBody{
			Code:    codeLastCredential,
			Message: "cannot remove the only remaining sign-in method",
		})

	case errors.Is(err, identity.ErrEmailTaken),
		errors.Is(err, identity.ErrSubjectTaken),
		errors.Is(err, identity.ErrAlreadyLinked),
		errors.Is(err, identity.ErrNotLinked):
		respondError(w, http.StatusConflict, errorBody{
			Code:    codeConflict,
			Message: conflictMessage(err),
		})

	case errors.Is(err, token.ErrSessionNotOwned):
		respondError(w, http.StatusForbidden, errorBody{
			Code:    codeForbidden,
			Message: "forbidden",
		})

	case errors.Is(err, csrf.ErrTokenInvalid):
		respondError(w, http.StatusForbidden, errorBody{
			Code:    codeCSRFTokenInvalid,
			Message: "missing or invalid CSRF token",
		})

	case errors.Is(err, ratelimit.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, errorBody{
			Code:    codeRateLimited,
			Message: "rate limit exceeded",
		})

	case errors.Is(err, auth.ErrProviderDisabled):
		respondError(w, http.StatusNotFound, errorBody{
			Code:    codeNotFound,
			Message: "unknown or disabled provider",
		})

	default:
		s.log.Error("request failed on a dependency",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, errorBody{
			Code:    codeDependency,
			Message: "temporary server error",
		})
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, identity.ErrEmailTaken):
		return "email is already registered"
	case errors.Is(err, identity.ErrSubjectTaken):
		return "this provider identity is linked to another account"
	case errors.Is(err, identity.ErrAlreadyLinked):
		return "a different identity for this provider is already linked"
	case errors.Is(err, identity.ErrNotLinked):
		return "this provider is not linked"
	default:
		return "conflict"
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 || secs == 0 {
		secs++
	}
	return secs
}

// isDependencyError reports whether err is a backing-store outage rather
// than a request-level failure.
func isDependencyError(err error) bool {
	return errors.Is(err, session.ErrRedisUnavailable) ||
		errors.Is(err, ratelimit.ErrRedisUnavailable) ||
		errors.Is(err, csrf.ErrRedisUnavailable) ||
		errors.Is(err, identity.ErrUnavailable)
}
