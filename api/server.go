/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

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
  4. CORS:       Cross-origin requests for the mobile/web frontend
  5. SiteScope:  Reads X-Site-ID / X-User-Role headers into the
                 settlement scope; requests without a site are rejected
                 by the services with ErrNoSiteSelected.

ROUTE GROUPS:
  /api/accounts/*         Accounts and ledger history
  /api/vendors/*          Vendors and their credit notes
  /api/credit-notes/*     Credit note issue and inspection
  /api/payments/*         Settlement, allocations, deletion
  /api/deliveries/*       Delivery receivables
  /api/service-bookings/* Service booking receivables
  /api/refunds/*          Vendor refunds

SECURITY NOTE:
  Role enforcement happens in the settlement services from the scope;
  there is no authentication layer here. Put this behind a gateway that
  authenticates and sets the scope headers.

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

	"github.com/sitewise/expense-engine/settlement"
)

// SiteScope lifts the X-Site-ID and X-User-Role headers into the
// settlement scope on the request context. It does not reject requests
// itself: operations that need a site fail with ErrNoSiteSelected and
// map to 400. A missing role header gets the read-only accountant
// role; the gateway must assert elevated roles explicitly.
func SiteScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siteID := r.Header.Get("X-Site-ID")
		role := settlement.Role(r.Header.Get("X-User-Role"))
		if role == "" {
			role = settlement.RoleAccountant
		}
		if siteID != "" {
			ctx := settlement.WithScope(r.Context(), settlement.Scope{SiteID: siteID, Role: role})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Site-ID", "X-User-Role"},
		AllowCredentials: true,
	}))
	r.Use(SiteScope)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/entries", h.GetAccountEntries)
			r.Post("/{id}/refresh", h.RefreshAccountBalance)
		})

		// Vendor routes
		r.Route("/vendors", func(r chi.Router) {
			r.Get("/", h.ListVendors)
			r.Post("/", h.CreateVendor)
			r.Get("/{id}", h.GetVendor)
			r.Get("/{id}/credit-notes", h.ListVendorCreditNotes)
		})

		// Credit note routes
		r.Route("/credit-notes", func(r chi.Router) {
			r.Post("/", h.CreateCreditNote)
			r.Get("/{id}", h.GetCreditNote)
			r.Get("/{id}/usages", h.GetCreditNoteUsages)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.Settle)
			r.Get("/{id}", h.GetPayment)
			r.Get("/{id}/allocations", h.GetPaymentAllocations)
			r.Put("/{id}/allocations", h.UpdatePaymentAllocations)
			r.Delete("/{id}", h.DeletePayment)
		})

		// Receivable routes
		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", h.ListDeliveries)
			r.Post("/", h.CreateDelivery)
			r.Get("/{id}", h.GetDelivery)
		})
		r.Route("/service-bookings", func(r chi.Router) {
			r.Get("/", h.ListServiceBookings)
			r.Post("/", h.CreateServiceBooking)
			r.Get("/{id}", h.GetServiceBooking)
		})

		// Refund routes
		r.Route("/refunds", func(r chi.Router) {
			r.Get("/", h.ListRefunds)
			r.Post("/", h.CreateRefund)
			r.Delete("/{id}", h.DeleteRefund)
		})
	})

	return r
}
