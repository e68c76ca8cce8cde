package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts password logins by outcome: success, failure,
	// locked.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "login_attempts_total",
		Help:      "Password login attempts by outcome.",
	}, []string{"outcome"})

	Registrations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "registrations_total",
		Help:      "Accounts created via password registration.",
	})

	OAuthLogins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "oauth_logins_total",
		Help:      "OAuth logins by provider and outcome.",
	}, []string{"provider", "outcome"})

	LockoutsTripped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "lockouts_tripped_total",
		Help:      "Accounts that crossed the lockout threshold.",
	})

	RefreshRotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "refresh_rotations_total",
		Help:      "Successful refresh token rotations.",
	})

	// RefreshReuse counts presentations of already-rotated refresh tokens.
	// Each one destroyed a session family.
	RefreshReuse = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "refresh_reuse_total",
		Help:      "Rotated refresh tokens presented again (treated as theft).",
	})

	CSRFRejects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "csrf_rejects_total",
		Help:      "State-changing requests rejected by the CSRF guard.",
	})

	RateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "rate_limit_hits_total",
		Help:      "Requests rejected by a rate-limit layer.",
	}, []string{"layer"})
)
