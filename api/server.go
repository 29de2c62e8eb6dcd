/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend
  5. Auth:       Bearer token identity on every /api route

ROUTE GROUPS:
  /health               Liveness (no auth)
  /api/items/*          Inventory
  /api/requests/*       Borrow request lifecycle
  /api/history          Loan records
  /api/profiles/*       Accounts and sign-up review
  /api/payments/*       Fine payment requests
  /api/notifications/*  In-app notifications
  /api/analytics        Staff dashboard
  /api/admin/*          Warnings and inventory repair

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Identity middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
			r.Put("/{id}", h.UpdateItem)
			r.Delete("/{id}", h.DeleteItem)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/borrow", h.StartLoan)
			r.Post("/{id}/return", h.MarkReturned)
		})

		r.Get("/history", h.ListHistory)

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/me", h.GetMyProfile)
			r.Put("/me", h.RegisterMyProfile)
			r.Get("/pending", h.ListPendingProfiles)
			r.Get("/fines", h.ListProfilesWithFines)
			r.Post("/{id}/approve", h.ApproveUser)
			r.Post("/{id}/reject", h.RejectUser)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.SubmitPayment)
			r.Post("/{id}/approve", h.ApprovePayment)
			r.Post("/{id}/reject", h.RejectPayment)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Post("/{id}/read", h.MarkNotificationRead)
		})

		r.Get("/analytics", h.GetAnalytics)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/warnings", h.ListWarnings)
			r.Post("/reconcile", h.Reconcile)
		})
	})

	return r
}
