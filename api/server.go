/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address behind the load balancer
  3. RequestLogger: One zap line per request
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Cross-origin requests for the agency frontend
  6. RateLimit:     Token bucket per agency
  7. RequireAgency: X-Agency-ID on every /api route

ROUTE GROUPS:
  /health                 Liveness, no agency scope
  /api/applications/*     Deposits created from applications
  /api/holding-deposits/* Deposit lifecycle
  /api/bedrooms/*         Reservation lookup
  /api/tenancies/*        Schedule generation
  /api/schedules/*        Lines, breakdowns, payments
  /api/payments/*         Single payment removal
  /api/proration          Stateless calculator
  /api/admin/*            Maintenance jobs
  /api/scenarios/*        Demo data

SECURITY NOTE:
  Authentication is done by the gateway, which sets X-Agency-ID and
  X-User-ID. This service trusts those headers.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Custom middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tune the middleware stack.
type RouterOptions struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderAgencyID, HeaderUserID},
		AllowCredentials: true,
	}))
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(opts.RateLimitPerMinute, h.Logger))
		r.Use(RequireAgency)

		r.Route("/applications/{id}", func(r chi.Router) {
			r.Post("/holding-deposits", h.CreateHoldingDeposit)
			r.Post("/approve", h.ApproveApplication)
		})

		r.Route("/holding-deposits/{id}", func(r chi.Router) {
			r.Get("/", h.GetDeposit)
			r.Post("/payment", h.RecordDepositPayment)
			r.Delete("/payment", h.UndoDepositPayment)
			r.Post("/status", h.SetDepositStatus)
			r.Post("/apply", h.ApplyDeposit)
		})

		r.Get("/bedrooms/{id}/reservation", h.GetBedroomReservation)

		r.Route("/tenancies/{id}/schedule", func(r chi.Router) {
			r.Post("/", h.GenerateSchedule)
			r.Get("/", h.ListSchedule)
		})

		r.Route("/schedules/{id}", func(r chi.Router) {
			r.Get("/", h.GetScheduleLine)
			r.Get("/breakdown", h.GetBreakdown)
			r.Post("/payments", h.RecordPayment)
			r.Delete("/payments", h.RevertPayments)
		})

		r.Delete("/payments/{id}", h.DeletePayment)
		r.Post("/proration", h.Prorate)

		// Admin routes
		r.Route("/admin/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobRuns)
			r.Post("/{name}", h.RunJob)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
