// Package httpapi wires the chi router, middleware chain, and handlers that
// expose the Session State Machine, Runtime Control Plane, and analytics
// read-models over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/jordigilh/medlearn-core/internal/config"
	"github.com/jordigilh/medlearn-core/pkg/audit"
	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/ratelimit"
	"github.com/jordigilh/medlearn-core/pkg/runtimectl"
	"github.com/jordigilh/medlearn-core/pkg/session"
)

// Analytics is the narrow read surface the analytics handlers need out of
// pkg/store/postgres.AnalyticsRepository, kept as a local interface so this
// package depends on a contract rather than the concrete postgres driver.
type Analytics interface {
	MasteryByLearner(ctx context.Context, learnerID uuid.UUID) ([]models.MasteryRecord, error)
	ThemesForBlock(ctx context.Context, block string) ([]string, error)
	MasteryForThemes(ctx context.Context, learnerID uuid.UUID, themes []string) ([]models.MasteryRecord, error)
}

// Dependencies bundles every collaborator the router needs to construct
// handlers. It is assembled once in cmd/learning-api's main and passed to
// NewRouter.
type Dependencies struct {
	Sessions  *session.Service
	Runtime   *runtimectl.Service
	Analytics Analytics
	Limiter   *ratelimit.Limiter
	Audit     audit.Sink
	Log       logr.Logger
	// RateLimit returns the live rate-limit policy inputs. It is consulted
	// on every request rather than once at router construction, so a
	// config.Watch reload takes effect without a restart.
	RateLimit func() config.RateLimitConfig
	CORS      config.CORSConfig
}

// NewRouter builds the full chi.Router: standard request-scoped middleware,
// CORS, rate limiting, auth-context extraction, and every route this core
// exposes.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Learner-Id", "X-Learner-Role", "X-Actor"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handlers{deps: deps}

	r.Get("/healthz", h.healthz)

	r.Route("/sessions", func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Use(h.rateLimitMiddleware(authenticatedClass))
		r.Post("/", h.createSession)
		r.Get("/{sessionID}", h.getSession)
		r.Post("/{sessionID}/answer", h.submitAnswer)
		r.Post("/{sessionID}/submit", h.submitSession)
		r.Get("/{sessionID}/review", h.reviewSession)
	})

	r.Route("/analytics", func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Use(h.rateLimitMiddleware(authenticatedClass))
		r.Get("/overview", h.analyticsOverview)
		r.Get("/blocks/{blockID}", h.analyticsBlock)
		r.Get("/themes/{themeID}", h.analyticsTheme)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Use(h.requireAdminMiddleware)
		r.Use(h.rateLimitMiddleware(adminClass))
		r.Get("/runtime", h.runtimeStatus)
		r.Post("/runtime/switch-profile", h.switchProfile)
		r.Post("/runtime/freeze", h.setFreeze)
		r.Post("/runtime/unfreeze", h.clearFreeze)
		r.Post("/runtime/approvals", h.requestApproval)
		r.Get("/runtime/approvals", h.listApprovals)
		r.Post("/runtime/approvals/{requestID}/approve", h.approveRequest)
		r.Post("/runtime/approvals/{requestID}/reject", h.rejectRequest)
	})

	return r
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.V(1).Info("request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
