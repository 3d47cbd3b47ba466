/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. AccessLog:  Structured request logging (zerolog), request-scoped logger
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/control/*            Stateless evaluation, stats
  /api/thresholds           Policy in effect
  /api/purchase-requests/*  Purchase requests and their validation
  /api/purchase-orders/*    Purchase orders
  /api/invoices/*           Invoices, controls, reports
  /api/scenarios/*          Demo scenarios
  /healthz                  Liveness + database ping

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/invoice-control/logging"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.AccessLog(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/control", func(r chi.Router) {
			r.Post("/evaluate", h.EvaluateControl)
			r.Get("/stats", h.GetControlStats)
		})
		r.Get("/thresholds", h.GetThresholds)

		r.Route("/purchase-requests", func(r chi.Router) {
			r.Get("/", h.ListPurchaseRequests)
			r.Post("/", h.CreatePurchaseRequest)
			r.Get("/{id}", h.GetPurchaseRequest)
			r.Put("/{id}", h.UpdatePurchaseRequest)
			r.Post("/{id}/validate", h.ValidatePurchaseRequest)
		})

		r.Route("/purchase-orders", func(r chi.Router) {
			r.Get("/", h.ListPurchaseOrders)
			r.Post("/", h.CreatePurchaseOrder)
			r.Get("/{id}", h.GetPurchaseOrder)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/control", h.ControlInvoice)
			r.Get("/{id}/control", h.GetLatestControl)
			r.Get("/{id}/control/report.xlsx", h.GetControlReport)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
