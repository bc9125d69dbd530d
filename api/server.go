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
  4. CORS:       Cross-origin requests for tooling

ROUTE GROUPS:
  /api/accounts/*      Chart of accounts
  /api/transactions/*  Posting, history, voids
  /api/periods/*       Period lock lifecycle
  /api/statements/*    Trial balance and statements
  /api/schedules/*     Revenue recognition
  /api/audit/*         Audit trail and chain verification
  /api/scenarios/*     Demo scenarios

IDEMPOTENT WRITES:
  Money-moving POSTs are wired with registerFinancialRoute, which requires
  a natural-key extractor and channels the call through the write gateway.
  See handlers.go.

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/ledger-engine/ledger"
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Chart of accounts
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
		})

		// Transactions
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)

			h.registerFinancialRoute(r, "/", "transaction.post",
				func(req *http.Request, body []byte) (string, error) {
					return naturalKeyFromBody(body)
				},
				h.postTransaction,
			)

			// Voids key on the target transaction id: voiding the same
			// transaction twice replays the first reversal.
			h.registerFinancialRoute(r, "/{id}/void", "transaction.void",
				func(req *http.Request, body []byte) (string, error) {
					return chi.URLParam(req, "id"), nil
				},
				h.voidTransaction,
			)
		})

		// Accounting periods
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/{id}/soft-close", h.TransitionPeriod(h.Periods.SoftClose))
			r.Post("/{id}/lock", h.TransitionPeriod(h.Periods.Lock))
			r.Post("/{id}/reopen", h.TransitionPeriod(h.Periods.Reopen))
		})

		// Statements
		r.Route("/statements", func(r chi.Router) {
			r.Get("/", h.GetStatements)
			r.Get("/trial-balance", h.GetTrialBalance)
			r.Post("/trial-balance/verify", h.VerifyTrialBalance)
		})

		// Revenue recognition
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Get("/{id}", h.GetSchedule)
			r.Post("/{id}/run", h.RunSchedule)
			r.Post("/{id}/events/{eventID}/complete", h.CompleteMilestone)

			h.registerFinancialRoute(r, "/", "schedule.create",
				func(req *http.Request, body []byte) (string, error) {
					return sourceIDFromBody(body)
				},
				h.createSchedule,
			)

			// Supersession keys on the schedule being replaced.
			h.registerFinancialRoute(r, "/{id}/supersede", "schedule.supersede",
				func(req *http.Request, body []byte) (string, error) {
					return chi.URLParam(req, "id"), nil
				},
				h.supersedeSchedule,
			)
		})

		// Audit trail
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.ListAuditEvents)
			r.Get("/verify", h.VerifyAuditChain)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// naturalKeyFromBody extracts the mandatory natural_key from a posting body.
func naturalKeyFromBody(body []byte) (string, error) {
	var probe struct {
		NaturalKey string `json:"natural_key"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", fmt.Errorf("invalid body: %w", err)
	}
	if probe.NaturalKey == "" {
		return "", fmt.Errorf("natural_key is required: %w", ledger.ErrInvalidLine)
	}
	return probe.NaturalKey, nil
}

// sourceIDFromBody extracts the mandatory source_id from a schedule body.
func sourceIDFromBody(body []byte) (string, error) {
	var probe struct {
		SourceID string `json:"source_id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", fmt.Errorf("invalid body: %w", err)
	}
	if probe.SourceID == "" {
		return "", fmt.Errorf("source_id is required")
	}
	return probe.SourceID, nil
}
