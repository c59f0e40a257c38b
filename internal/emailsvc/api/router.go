package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/odiseo-io/email-service/internal/emailsvc/config"
)

// NewRouter wires the three endpoints behind the shared cross-cutting
// middleware. Health is deliberately mounted outside the auth/rate-limit
// group: it must succeed regardless of API key or budget state so an
// orchestrator's liveness probe is never itself rate-limited.
func NewRouter(h *Handler, cfg config.APIConfig, limiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/health", h.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(cfg.Key))
		r.Use(limiter.Middleware)

		r.Post("/emails", h.HandleEnqueue)
		r.Get("/queue/status", h.HandleStatus)
	})

	return r
}
