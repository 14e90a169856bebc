/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: Structured request logging (zap)
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/statistics                         Known statistic catalog
  /api/guilds/{guild}/stats/{stat}/*      Counters, ranks, scoreboard, purge
  /api/guilds/{guild}/goals/*             Monthly goals
  /api/admin/goals/rollover               Manual goal rollover
  /api/scenarios/*                        Demo data (only with a Resetter)

SECURITY NOTE:
  No authentication middleware. The server is meant to sit behind the
  bot process on a private network; updater/deleter ids are trusted.

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

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SubjectHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/statistics", h.ListStatistics)

		r.Route("/guilds/{guild}", func(r chi.Router) {
			// Counter routes
			r.Route("/stats/{stat}", func(r chi.Router) {
				r.Get("/count", h.GetCount)
				r.Post("/adjustments", h.CreateAdjustment)
				r.Get("/scoreboard", h.GetScoreboard)
				r.Get("/events", h.ListEvents)
				r.Post("/purge", h.Purge)
				r.Post("/prune", h.Prune)

				r.Route("/subjects/{subject}", func(r chi.Router) {
					r.Get("/", h.GetAggregate)
					r.Get("/rank", h.GetRank)
					r.Get("/audit", h.GetAudit)
				})
			})

			// Goal routes
			r.Route("/goals", func(r chi.Router) {
				r.Get("/", h.ListGoals)
				r.Get("/summary", h.GetGoalSummary)
				r.Post("/clear", h.ClearGoals)
				r.Get("/{shortname}", h.GetGoal)
				r.Put("/{shortname}", h.SetGoal)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/goals/rollover", h.TriggerGoalRollover)
		})
	})

	return r
}
