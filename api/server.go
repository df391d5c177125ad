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
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/users/*        User records, resolution, progress
  /api/targets/*      Quota distribution and target management
  /api/deals/*        Deal records, calculation, stage webhook
  /api/commissions/*  Listing and the approval workflow
  /api/rules/*        Commission rule definitions
  /api/reports/*      Mixed-granularity quota reporting
  /api/companies/*    Plan flags

SECURITY NOTE:
  No authentication middleware. The actor headers (X-Actor-Id,
  X-Company-Id, X-Actor-Role) are trusted; an upstream gateway must set
  them.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/commission-engine/commission"
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-Id", "X-Company-Id", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/targets", h.ListUserTargets)
			r.Delete("/{id}/targets", h.DeactivateUserTargets)
			r.Get("/{id}/active-target", h.GetActiveTarget)
			r.Get("/{id}/progress", h.GetProgress)
			r.Post("/{id}/targets/backfill-names", h.BackfillTargetNames)
		})

		// Target routes
		r.Route("/targets", func(r chi.Router) {
			r.Post("/", h.DistributeTarget)
			r.Post("/batch", h.DistributeBatch)
			r.Post("/resolve-conflict", h.ResolveConflict)
			r.Get("/{id}", h.GetTarget)
			r.Post("/{id}/deactivate", h.DeactivateTarget)
		})

		// Deal routes
		r.Route("/deals", func(r chi.Router) {
			r.Post("/", h.CreateDeal)
			r.Get("/{id}", h.GetDeal)
			r.Post("/{id}/calculate", h.CalculateCommission)
			r.Post("/{id}/stage", h.DealStageChanged)
		})

		// Commission routes
		r.Route("/commissions", func(r chi.Router) {
			r.Get("/", h.ListCommissions)
			r.Get("/{id}", h.GetCommission)
			r.Get("/{id}/history", h.GetCommissionHistory)
			r.Post("/{id}/review", h.Transition(commission.ActionReview))
			r.Post("/{id}/approve", h.Transition(commission.ActionApprove))
			r.Post("/{id}/adjust-approve", h.Transition(commission.ActionAdjustAndApprove))
			r.Post("/{id}/reject", h.Transition(commission.ActionReject))
			r.Post("/{id}/request-change", h.Transition(commission.ActionRequestChange))
			r.Post("/{id}/pay", h.Transition(commission.ActionPay))
		})

		// Rule routes
		r.Route("/rules", func(r chi.Router) {
			r.Post("/", h.CreateRule)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/quota", h.QuotaReport)
		})

		// Company routes
		r.Route("/companies", func(r chi.Router) {
			r.Put("/{id}/plan", h.SetCompanyPlan)
		})
	})

	return r
}
