/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:       Request logging
  2. Recoverer:    Panic recovery (500 instead of crash)
  3. RequestID:    Unique ID per request for tracing
  4. CORS:         Cross-origin requests for frontend
  5. Authenticate: JWT bearer token, loads the caller (API group only)

ROUTE GROUPS:
  /api/auth/*           Login and password changes
  /api/users/*          User management, claim history, settlement
  /api/claims/*         Claim submission and review
  /api/reports/*        Aggregate reporting
  /metrics              Prometheus scrape endpoint
  /api/health           Liveness probe

Users logged in with a temporary password can only call the
change-password endpoint until they set their own. Everything else in
the authenticated group sits behind RequireFreshPassword.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authentication middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Unauthenticated endpoints
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/auth/login", h.Login)

	// Authenticated API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate)

		// Reachable with a temporary password
		r.Post("/auth/change-password", h.ChangePassword)

		r.Group(func(r chi.Router) {
			r.Use(RequireFreshPassword)

			// User routes
			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsers)
				r.Post("/", h.CreateUser)
				r.Get("/{id}", h.GetUser)
				r.Put("/{id}", h.UpdateUser)
				r.Post("/{id}/reset-password", h.ResetPassword)
				r.Get("/{id}/claims", h.UserClaims)
				r.Post("/{id}/settle", h.Settle)
			})

			// Claim routes
			r.Route("/claims", func(r chi.Router) {
				r.Post("/", h.CreateClaim)
				r.Get("/pending", h.PendingClaims)
				r.Get("/{id}", h.GetClaim)
				r.Post("/{id}/approve", h.ApproveClaim)
				r.Post("/{id}/reject", h.RejectClaim)
				r.Delete("/{id}", h.DeleteClaim)
			})

			// Report routes
			r.Route("/reports", func(r chi.Router) {
				r.Get("/summary", h.ReportSummary)
			})
		})
	})

	return r
}
