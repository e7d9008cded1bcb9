package httpapi

import (
	"net/http"
	"time"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/metrics"
	"github.com/jordigilh/medlearn-core/pkg/ratelimit"
)

// handlers closes over Dependencies so every endpoint method has access to
// the services it needs without a package-level global.
type handlers struct {
	deps Dependencies
}

type rateLimitClass string

const (
	authenticatedClass rateLimitClass = "authenticated"
	adminClass         rateLimitClass = "admin"
)

func (h *handlers) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, err := authFromHeaders(r)
		if err != nil {
			writeError(w, r, h.deps.Log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withRequestContext(r.Context(), rc)))
	})
}

func (h *handlers) requireAdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := requireAdmin(r.Context()); err != nil {
			writeError(w, r, h.deps.Log, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware keys the limiter on {class, actor} so one learner's
// own request burst never starves another's quota within the same window.
// The policy's limit is re-read from Dependencies.RateLimit on every
// request so a hot-reloaded config.yaml takes effect immediately.
func (h *handlers) rateLimitMiddleware(class rateLimitClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.deps.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			policy := ratelimit.Policy{Window: time.Minute, FailOpen: true}
			if h.deps.RateLimit != nil {
				live := h.deps.RateLimit()
				if class == adminClass {
					policy = ratelimit.Policy{Limit: live.AdminRPM, Window: time.Minute, FailOpen: false}
				} else {
					policy = ratelimit.Policy{Limit: live.AuthenticatedRPM, Window: time.Minute, FailOpen: true}
				}
			}
			actor := actorFromContext(r.Context())
			key := string(class) + ":" + actor
			decision, err := h.deps.Limiter.Check(r.Context(), key, policy)
			if err != nil {
				metrics.RecordRateLimitRejection(decision.Degraded)
				writeError(w, r, h.deps.Log, apperrors.Wrap(err, apperrors.ErrorTypeRateLimit, "rate limited"))
				return
			}
			if !decision.Allowed {
				metrics.RecordRateLimitRejection(decision.Degraded)
				writeError(w, r, h.deps.Log, apperrors.New(apperrors.ErrorTypeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
