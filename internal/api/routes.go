package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hyperengineering/ledgersync/internal/identity"
	"github.com/hyperengineering/ledgersync/internal/ratelimit"
)

// RouterOptions carries the collaborators the middleware chain needs.
type RouterOptions struct {
	Auth           identity.Authenticator
	Limiter        *ratelimit.Limiter
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(EchoRequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Public routes
	r.Get("/health", h.Health)
	r.Get("/metrics", h.Metrics)

	// Protected routes: authenticate first, then rate limit by user
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.Auth))
		if opts.Limiter != nil {
			r.Use(RateLimitMiddleware(opts.Limiter))
		}
		r.Get("/likes", h.GetLikes)
		r.Post("/likes", h.PostLikes)
	})

	return r
}
