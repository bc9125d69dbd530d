/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the posting engine, period lifecycle, statements, recognition
  and audit trail via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts               List chart of accounts
    POST   /api/accounts               Create/update account
    GET    /api/accounts/{id}          Get account

  Transactions:
    POST   /api/transactions           Post a balanced transaction (idempotent)
    GET    /api/transactions           List posted transactions
    GET    /api/transactions/{id}      Get a transaction with lines
    POST   /api/transactions/{id}/void Reverse a posted transaction (idempotent)

  Periods:
    GET    /api/periods                    List periods with lock state
    POST   /api/periods/{id}/soft-close    OPEN -> SOFT_CLOSED
    POST   /api/periods/{id}/lock          -> HARD_LOCKED (terminal)
    POST   /api/periods/{id}/reopen        SOFT_CLOSED -> OPEN

  Statements:
    GET    /api/statements/trial-balance   Replay-derived trial balance
    POST   /api/statements/trial-balance/verify  Re-replay and compare hashes
    GET    /api/statements                 Income/balance/cash-flow bundle

  Recognition:
    POST   /api/schedules                        Create schedule (idempotent)
    GET    /api/schedules                        List schedules
    GET    /api/schedules/{id}                   Get schedule
    POST   /api/schedules/{id}/run               Run recognition
    POST   /api/schedules/{id}/supersede         Replace schedule
    POST   /api/schedules/{id}/events/{eventID}/complete  Complete milestone

  Audit:
    GET    /api/audit                  Tenant's audit events
    GET    /api/audit/verify           Verify the hash chain

TENANCY:
  Every request carries X-Tenant-ID. Writes also carry X-Actor-ID for the
  audit trail.

IDEMPOTENT WRITES:
  Financial mutations are registered through registerFinancialRoute, which
  REQUIRES a natural-key extractor and routes execution through the write
  gateway. A route that moves money cannot be wired up without one; the
  server panics at registration, not at request time.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Policy rejections (period locks) and idempotency conflicts
  - 500: Internal errors, integrity violations

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/recognition"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// FullStore is everything the API needs from persistence. Satisfied by
// store/sqlite.Store; tests compose the in-memory implementations.
type FullStore interface {
	ledger.TxStore
	ledger.AuditLog
	ledger.IdempotencyStore
	recognition.ScheduleStore

	// Reset wipes all data; used by demo scenario loading only.
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       FullStore
	Ledger      ledger.Ledger
	Periods     *ledger.PeriodManager
	Gateway     *ledger.Gateway
	Statements  *ledger.StatementBuilder
	Recognition *recognition.Engine
	Log         *logrus.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the domain services over one store.
func NewHandler(store FullStore, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	gw := ledger.NewGateway(store)
	lgr := ledger.NewLedger(store)
	return &Handler{
		Store:       store,
		Ledger:      lgr,
		Periods:     ledger.NewPeriodManager(store),
		Gateway:     gw,
		Statements:  ledger.NewStatementBuilder(store, store),
		Recognition: recognition.NewEngine(store, lgr, gw, store),
		Log:         log,
	}
}

// =============================================================================
// IDEMPOTENT ROUTE REGISTRATION
// =============================================================================

// naturalKeyFunc extracts the logical-intent key from a request. It must be
// deterministic for retries of the same request.
type naturalKeyFunc func(r *http.Request, body []byte) (string, error)

// financialOp executes the mutation; its return value is marshalled and
// stored as the canonical result, replayed verbatim to retries.
type financialOp func(ctx context.Context, tenantID ledger.TenantID, actor string, r *http.Request, body []byte) (any, error)

// registerFinancialRoute wires a money-moving POST through the write
// gateway. keyFn is mandatory: registering a financial route without a
// natural-key extractor is a programming error and panics immediately,
// so a non-idempotent money route can never reach production traffic.
func (h *Handler) registerFinancialRoute(r chi.Router, pattern, operation string, keyFn naturalKeyFunc, op financialOp) {
	if keyFn == nil {
		panic(fmt.Sprintf("financial route %s %s registered without a natural-key extractor", operation, pattern))
	}

	r.Post(pattern, func(w http.ResponseWriter, req *http.Request) {
		tenantID, actor, ok := h.identity(w, req)
		if !ok {
			return
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "failed to read request body", err)
			return
		}

		naturalKey, err := keyFn(req, body)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "missing natural key", err)
			return
		}

		result, err := h.Gateway.Do(req.Context(), operation, tenantID, naturalKey, func(ctx context.Context) (string, error) {
			out, err := op(ctx, tenantID, actor, req, body)
			if err != nil {
				return "", err
			}
			encoded, err := json.Marshal(out)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		})
		if err != nil {
			h.writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(result))
	})
}

// identity pulls tenant and actor from headers; tenant is mandatory.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (ledger.TenantID, string, bool) {
	tenant := r.Header.Get("X-Tenant-ID")
	if tenant == "" {
		h.writeError(w, http.StatusBadRequest, "X-Tenant-ID header required", nil)
		return "", "", false
	}
	return ledger.TenantID(tenant), r.Header.Get("X-Actor-ID"), true
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the tenant's chart of accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	accounts, err := h.Store.ListAccounts(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates or updates an account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" || req.Code == "" || req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "id, code and name are required", nil)
		return
	}
	if !ledger.ValidAccountType(ledger.AccountType(req.Type)) {
		h.writeError(w, http.StatusBadRequest, "invalid account type", nil)
		return
	}

	account := ledger.Account{
		ID:       ledger.AccountID(req.ID),
		TenantID: tenantID,
		Code:     req.Code,
		Name:     req.Name,
		Type:     ledger.AccountType(req.Type),
		ParentID: ledger.AccountID(req.ParentID),
		Active:   true,
	}
	if err := h.Store.SaveAccount(r.Context(), account); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to save account", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	account, err := h.Store.GetAccount(r.Context(), tenantID, ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get account", err)
		return
	}
	if account == nil {
		h.writeError(w, http.StatusNotFound, "account not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toAccountDTO(*account))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// postTransaction is the financialOp behind POST /api/transactions.
func (h *Handler) postTransaction(ctx context.Context, tenantID ledger.TenantID, actor string, _ *http.Request, body []byte) (any, error) {
	var req PostTransactionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", ledger.ErrInvalidLine)
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date (use YYYY-MM-DD): %w", ledger.ErrInvalidLine)
	}

	lines := make([]ledger.Line, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = ledger.Line{AccountID: ledger.AccountID(l.AccountID), Memo: l.Memo}
		if l.Debit != "" {
			d, err := decimal.NewFromString(l.Debit)
			if err != nil {
				return nil, fmt.Errorf("invalid debit amount %q: %w", l.Debit, ledger.ErrInvalidLine)
			}
			lines[i].Debit = d
		}
		if l.Credit != "" {
			c, err := decimal.NewFromString(l.Credit)
			if err != nil {
				return nil, fmt.Errorf("invalid credit amount %q: %w", l.Credit, ledger.ErrInvalidLine)
			}
			lines[i].Credit = c
		}
	}

	txType := ledger.TransactionType(req.Type)
	if txType == "" {
		txType = ledger.TxJournal
	}

	txID, err := h.Ledger.Post(ctx, ledger.Transaction{
		TenantID:       tenantID,
		Type:           txType,
		Date:           date,
		Description:    req.Description,
		IdempotencyKey: ledger.Key("transaction.post", tenantID, req.NaturalKey),
		Lines:          lines,
		CreatedBy:      actor,
	})
	if err != nil {
		return nil, err
	}
	return PostTransactionResponse{TransactionID: string(txID)}, nil
}

// voidTransaction is the financialOp behind POST /api/transactions/{id}/void.
func (h *Handler) voidTransaction(ctx context.Context, tenantID ledger.TenantID, actor string, r *http.Request, body []byte) (any, error) {
	var req VoidRequest
	if len(body) > 0 {
		json.Unmarshal(body, &req)
	}
	reversalID, err := h.Ledger.Void(ctx, tenantID, ledger.TransactionID(chi.URLParam(r, "id")), actor, req.Reason)
	if err != nil {
		return nil, err
	}
	return VoidResponse{ReversalID: string(reversalID)}, nil
}

// ListTransactions returns the tenant's posted transactions in sequence order.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	txs, err := h.Ledger.Transactions(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransaction returns a transaction with its lines.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	tx, err := h.Store.GetTransaction(r.Context(), tenantID, ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get transaction", err)
		return
	}
	if tx == nil {
		h.writeError(w, http.StatusNotFound, "transaction not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// ListPeriods returns the tenant's periods with lock states.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	periods, err := h.Store.ListPeriods(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list periods", err)
		return
	}
	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// TransitionPeriod handles soft-close/lock/reopen on one period.
func (h *Handler) TransitionPeriod(transition func(context.Context, ledger.TenantID, ledger.PeriodID, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actor, ok := h.identity(w, r)
		if !ok {
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			h.writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}

		periodID := ledger.PeriodID(chi.URLParam(r, "id"))

		// Allow locking a period nothing was posted to yet.
		if start, err := time.Parse("2006-01", string(periodID)); err == nil {
			if _, err := h.Store.EnsurePeriod(r.Context(), ledger.PeriodFor(tenantID, start)); err != nil {
				h.writeError(w, http.StatusInternalServerError, "failed to ensure period", err)
				return
			}
		}

		if err := transition(r.Context(), tenantID, periodID, req.Reason, actor); err != nil {
			h.writeDomainError(w, err)
			return
		}

		period, err := h.Store.GetPeriod(r.Context(), tenantID, periodID)
		if err != nil || period == nil {
			h.writeError(w, http.StatusInternalServerError, "failed to read period after transition", err)
			return
		}
		h.writeJSON(w, http.StatusOK, toPeriodDTO(*period))
	}
}

// =============================================================================
// STATEMENT HANDLERS
// =============================================================================

// statementRange parses ?start=YYYY-MM-DD&end=YYYY-MM-DD, defaulting to the
// current calendar month.
func statementRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	period := ledger.PeriodFor("", now)
	start, end := period.Start, period.End

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return start, end, fmt.Errorf("invalid start date: %w", err)
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return start, end, fmt.Errorf("invalid end date: %w", err)
		}
		// Inclusive through end of day.
		end = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return start, end, nil
}

// GetTrialBalance builds the trial balance over the requested range.
func (h *Handler) GetTrialBalance(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	start, end, err := statementRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid date range", err)
		return
	}

	tb, err := h.Statements.BuildTrialBalance(r.Context(), tenantID, start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tb)
}

// VerifyTrialBalance re-replays a previously published trial balance and
// compares integrity hashes. A mismatch is a 500: the books are suspect.
func (h *Handler) VerifyTrialBalance(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.identity(w, r); !ok {
		return
	}

	var published ledger.TrialBalance
	if err := json.NewDecoder(r.Body).Decode(&published); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trial balance body", err)
		return
	}

	if err := h.Statements.VerifyTrialBalance(r.Context(), &published); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// GetStatements builds the income statement, balance sheet and cash flow
// from one consistent snapshot.
func (h *Handler) GetStatements(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	start, end, err := statementRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid date range", err)
		return
	}

	statements, err := h.Statements.BuildStatements(r.Context(), tenantID, start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statements)
}

// =============================================================================
// RECOGNITION HANDLERS
// =============================================================================

// createSchedule is the financialOp behind POST /api/schedules.
func (h *Handler) createSchedule(ctx context.Context, tenantID ledger.TenantID, actor string, _ *http.Request, body []byte) (any, error) {
	in, err := parseScheduleInput(tenantID, actor, body)
	if err != nil {
		return nil, err
	}
	sched, err := h.Recognition.CreateSchedule(ctx, *in)
	if err != nil {
		return nil, err
	}
	return CreateScheduleResponse{ScheduleID: sched.ID}, nil
}

func parseScheduleInput(tenantID ledger.TenantID, actor string, body []byte) (*recognition.CreateScheduleInput, error) {
	var req CreateScheduleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", recognition.ErrInvalidSchedule)
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		return nil, fmt.Errorf("invalid total %q: %w", req.Total, recognition.ErrInvalidSchedule)
	}

	in := recognition.CreateScheduleInput{
		TenantID:        tenantID,
		SourceID:        req.SourceID,
		Total:           total,
		Method:          recognition.Method(req.Method),
		DeferredAccount: ledger.AccountID(req.DeferredAccount),
		RevenueAccount:  ledger.AccountID(req.RevenueAccount),
		Months:          req.Months,
		Actor:           actor,
	}

	if req.Start != "" {
		start, err := time.Parse("2006-01-02", req.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid start date: %w", recognition.ErrInvalidSchedule)
		}
		in.Start = start
	}

	for _, ms := range req.Milestones {
		due, err := time.Parse("2006-01-02", ms.Due)
		if err != nil {
			return nil, fmt.Errorf("milestone %q: invalid due date: %w", ms.Name, recognition.ErrInvalidSchedule)
		}
		amount, err := decimal.NewFromString(ms.Amount)
		if err != nil {
			return nil, fmt.Errorf("milestone %q: invalid amount: %w", ms.Name, recognition.ErrInvalidSchedule)
		}
		in.Milestones = append(in.Milestones, recognition.MilestoneInput{Name: ms.Name, Due: due, Amount: amount})
	}
	return &in, nil
}

// ListSchedules returns the tenant's recognition schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	schedules, err := h.Store.ListSchedules(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list schedules", err)
		return
	}
	dtos := make([]ScheduleDTO, len(schedules))
	for i, s := range schedules {
		dtos[i] = toScheduleDTO(s)
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// GetSchedule returns one schedule with its event states.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	sched, err := h.Store.GetSchedule(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get schedule", err)
		return
	}
	if sched == nil {
		h.writeError(w, http.StatusNotFound, "schedule not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toScheduleDTO(*sched))
}

// RunSchedule triggers a recognition run. The run is idempotent per event
// (each event posts through the gateway with its own key), so the run route
// itself does not need a gateway wrapper.
func (h *Handler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		t, err := time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid as_of date", err)
			return
		}
		asOf = t
	}

	result, err := h.Recognition.Run(r.Context(), tenantID, chi.URLParam(r, "id"), asOf)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRunResultDTO(result))
}

// CompleteMilestone marks a milestone event complete.
func (h *Handler) CompleteMilestone(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	err := h.Recognition.CompleteMilestone(r.Context(), tenantID, chi.URLParam(r, "id"), chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"completed": true})
}

// supersedeSchedule is the financialOp behind POST /api/schedules/{id}/supersede.
func (h *Handler) supersedeSchedule(ctx context.Context, tenantID ledger.TenantID, actor string, r *http.Request, body []byte) (any, error) {
	in, err := parseScheduleInput(tenantID, actor, body)
	if err != nil {
		return nil, err
	}
	replacement, err := h.Recognition.Supersede(ctx, tenantID, chi.URLParam(r, "id"), *in)
	if err != nil {
		return nil, err
	}
	return CreateScheduleResponse{ScheduleID: replacement.ID}, nil
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAuditEvents returns the tenant's audit events in chain order.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	events, err := h.Store.Events(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list audit events", err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

// VerifyAuditChain recomputes every hash in the whole chain (all tenants;
// the chain is a single arena) and reports the first divergence.
func (h *Handler) VerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.Events(r.Context(), "")
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load audit chain", err)
		return
	}

	idx, err := ledger.VerifyChain(events)
	if err != nil {
		h.writeJSON(w, http.StatusOK, VerifyChainResponse{
			Intact:       false,
			DivergentIdx: idx,
			Detail:       err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, VerifyChainResponse{Intact: true})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.WithError(err).Error("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
		h.Log.WithError(err).WithField("status", status).Warn(msg)
	}
	h.writeJSON(w, status, resp)
}

// writeDomainError maps domain error classes to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "not found", err)
	case ledger.IsClientError(err) || errors.Is(err, recognition.ErrInvalidSchedule) ||
		errors.Is(err, recognition.ErrAllocationMismatch) || errors.Is(err, recognition.ErrEventNotFound):
		h.writeError(w, http.StatusBadRequest, "invalid request", err)
	case ledger.IsPolicyError(err) || errors.Is(err, recognition.ErrScheduleSuperseded):
		h.writeError(w, http.StatusConflict, "rejected by policy", err)
	case ledger.IsRetryable(err):
		h.writeError(w, http.StatusConflict, "concurrent request in flight", err)
	case errors.Is(err, ledger.ErrReplayIntegrity):
		h.writeError(w, http.StatusInternalServerError, "integrity violation", err)
	default:
		h.writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
