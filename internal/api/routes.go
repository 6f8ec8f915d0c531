package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all routes. /health and /metrics are public; every
// /api route and /shutdown require the bearer token.
func SetupRoutes(h *Handlers, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Health check (no auth required)
	if deps.Health != nil {
		r.Get("/health", deps.Health.HandleHealth)
		r.Get("/health/ready", deps.Health.HandleReadiness)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	requireToken := h.auth.RequireToken

	r.With(requireToken).Post("/shutdown", h.Shutdown)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireToken)

		r.Route("/emails", func(r chi.Router) {
			r.Post("/send", h.SendEmails)
			r.Post("/compare", h.CompareRecipients)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.ListHistory)
			r.Get("/stats", h.HistoryStats)
			r.Get("/{id}", h.GetCampaign)
		})

		r.Get("/config", h.GetConfig)
		r.Put("/config", h.UpdateConfig)

		if h.drafts != nil {
			r.Route("/drafts", func(r chi.Router) {
				r.Get("/", h.ListDrafts)
				r.Post("/", h.CreateDraft)
				r.Get("/{id}", h.GetDraft)
				r.Put("/{id}", h.UpdateDraft)
				r.Delete("/{id}", h.DeleteDraft)
			})
		}

		r.Route("/files", func(r chi.Router) {
			r.Get("/", h.ListFiles)
			r.Post("/upload", h.UploadFile)
		})
	})

	return r
}
