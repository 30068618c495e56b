/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the treasurer dashboard

ROUTE GROUPS:
  /healthz                        Liveness
  /api/scheduler                  Scheduler status
  /api/generation/runs            Generation history
  /api/{population}/members/*     Member directory
  /api/{population}/contributions/* Contributions, payments, generation

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/scheduler", h.GetScheduler)
		r.Get("/generation/runs", h.ListGenerationRuns)

		r.Route("/{population}", func(r chi.Router) {
			r.Use(h.PopulationCtx)

			// Member routes
			r.Route("/members", func(r chi.Router) {
				r.Get("/", h.ListMembers)
				r.Post("/", h.CreateMember)
				r.Get("/{id}", h.GetMember)
				r.Post("/{id}/activate", h.ActivateMember)
				r.Post("/{id}/deactivate", h.DeactivateMember)
			})

			// Contribution routes
			r.Route("/contributions", func(r chi.Router) {
				r.Get("/", h.ListContributions)
				r.Get("/summary", h.GetSummary)
				r.Post("/generate", h.GenerateContributions)
				r.Post("/{id}/payments", h.RecordPayment)
				r.Post("/{id}/penalties", h.ApplyPenalty)
			})
		})
	})

	return r
}
