/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates a chart of accounts,
	posted transactions, and recognition schedules that demonstrate
	specific features.

AVAILABLE SCENARIOS:

	saas-annual-contract: $12,000 annual contract, straight-line recognition
	milestone-project:    Fixed-fee project recognized on milestones
	month-end-close:      Operating month posted and soft-closed

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the chart of accounts
 3. Post transactions through the ledger (periods appear as a side effect)
 4. Create recognition schedules and optionally run them
 5. Optionally transition periods

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "saas-annual-contract"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring, writeJSON/writeError
  - recognition/engine.go: Schedule creation and runs
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/recognition"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// scenarioTenant is the tenant all demo data is loaded under.
const scenarioTenant = ledger.TenantID("demo")

const scenarioActor = "scenario-loader"

var scenarios = []ScenarioDTO{
	{
		ID:          "saas-annual-contract",
		Name:        "SaaS Annual Contract",
		Description: "$12,000 invoiced and paid up front, revenue recognized straight-line over 12 months",
		Category:    "recognition",
	},
	{
		ID:          "milestone-project",
		Name:        "Milestone Project",
		Description: "$50,000 fixed-fee project recognized as milestones complete",
		Category:    "recognition",
	},
	{
		ID:          "month-end-close",
		Name:        "Month-End Close",
		Description: "An operating month posted, trial-balanced, and soft-closed",
		Category:    "close",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		h.writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			h.writeJSON(w, http.StatusOK, s)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}
	h.currentScenario = "" // Clear current scenario on reset

	var err error
	switch req.ScenarioID {
	case "saas-annual-contract":
		err = h.loadAnnualContractScenario(ctx)
	case "milestone-project":
		err = h.loadMilestoneProjectScenario(ctx)
	case "month-end-close":
		err = h.loadMonthEndCloseScenario(ctx)
	default:
		h.writeError(w, http.StatusBadRequest, "unknown scenario", nil)
		return
	}

	if err != nil {
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

// Account IDs shared by all scenarios.
const (
	acctCash       = ledger.AccountID("cash")
	acctReceivable = ledger.AccountID("accounts-receivable")
	acctDeferred   = ledger.AccountID("deferred-revenue")
	acctPayable    = ledger.AccountID("accounts-payable")
	acctEquity     = ledger.AccountID("retained-earnings")
	acctRevenue    = ledger.AccountID("revenue")
	acctPayroll    = ledger.AccountID("payroll-expense")
	acctRent       = ledger.AccountID("rent-expense")
)

func (h *Handler) seedChartOfAccounts(ctx context.Context) error {
	accounts := []ledger.Account{
		{ID: acctCash, Code: "1000", Name: "Cash", Type: ledger.AccountAsset},
		{ID: acctReceivable, Code: "1100", Name: "Accounts Receivable", Type: ledger.AccountAsset},
		{ID: acctPayable, Code: "2000", Name: "Accounts Payable", Type: ledger.AccountLiability},
		{ID: acctDeferred, Code: "2100", Name: "Deferred Revenue", Type: ledger.AccountLiability},
		{ID: acctEquity, Code: "3000", Name: "Retained Earnings", Type: ledger.AccountEquity},
		{ID: acctRevenue, Code: "4000", Name: "Revenue", Type: ledger.AccountRevenue},
		{ID: acctPayroll, Code: "5000", Name: "Payroll Expense", Type: ledger.AccountExpense},
		{ID: acctRent, Code: "5100", Name: "Rent Expense", Type: ledger.AccountExpense},
	}
	for _, a := range accounts {
		a.TenantID = scenarioTenant
		a.Active = true
		if err := h.Store.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// post is a scenario convenience wrapper around Ledger.Post. Each posting
// carries its own natural key so a scenario is internally idempotent.
func (h *Handler) post(ctx context.Context, naturalKey string, txType ledger.TransactionType, date time.Time, description string, lines []ledger.Line) (ledger.TransactionID, error) {
	return h.Ledger.Post(ctx, ledger.Transaction{
		TenantID:       scenarioTenant,
		Type:           txType,
		Date:           date,
		Description:    description,
		IdempotencyKey: ledger.Key("transaction.post", scenarioTenant, naturalKey),
		Lines:          lines,
		CreatedBy:      scenarioActor,
	})
}

func debit(account ledger.AccountID, amount string) ledger.Line {
	return ledger.Line{AccountID: account, Debit: decimal.RequireFromString(amount)}
}

func credit(account ledger.AccountID, amount string) ledger.Line {
	return ledger.Line{AccountID: account, Credit: decimal.RequireFromString(amount)}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadAnnualContractScenario invoices and collects a $12,000 annual
// contract in January, defers the revenue, and recognizes it monthly.
// Running recognition today shows every elapsed month recognized and the
// remainder still deferred.
func (h *Handler) loadAnnualContractScenario(ctx context.Context) error {
	if err := h.seedChartOfAccounts(ctx); err != nil {
		return err
	}

	year := time.Now().UTC().Year()
	jan5 := time.Date(year, time.January, 5, 0, 0, 0, 0, time.UTC)

	// Invoice the customer: A/R up, revenue deferred.
	if _, err := h.post(ctx, "contract-acme/invoice", ledger.TxInvoice, jan5,
		"ACME annual subscription invoice",
		[]ledger.Line{
			debit(acctReceivable, "12000.00"),
			credit(acctDeferred, "12000.00"),
		}); err != nil {
		return err
	}

	// Customer pays in full.
	if _, err := h.post(ctx, "contract-acme/payment", ledger.TxPayment, jan5.AddDate(0, 0, 10),
		"ACME annual subscription payment",
		[]ledger.Line{
			debit(acctCash, "12000.00"),
			credit(acctReceivable, "12000.00"),
		}); err != nil {
		return err
	}

	// Recognize $1,000/month over the year.
	sched, err := h.Recognition.CreateSchedule(ctx, recognition.CreateScheduleInput{
		TenantID:        scenarioTenant,
		SourceID:        "contract-acme",
		Total:           decimal.RequireFromString("12000.00"),
		Method:          recognition.StraightLine,
		DeferredAccount: acctDeferred,
		RevenueAccount:  acctRevenue,
		Start:           jan5,
		Months:          12,
		Actor:           scenarioActor,
	})
	if err != nil {
		return err
	}

	_, err = h.Recognition.Run(ctx, scenarioTenant, sched.ID, time.Now().UTC())
	return err
}

// loadMilestoneProjectScenario collects a $50,000 fixed fee up front and
// recognizes it milestone by milestone. The first milestone is completed
// and recognized; the rest remain deferred until someone completes them.
func (h *Handler) loadMilestoneProjectScenario(ctx context.Context) error {
	if err := h.seedChartOfAccounts(ctx); err != nil {
		return err
	}

	year := time.Now().UTC().Year()
	kickoff := time.Date(year, time.February, 1, 0, 0, 0, 0, time.UTC)

	if _, err := h.post(ctx, "project-globex/payment", ledger.TxPayment, kickoff,
		"Globex implementation, fixed fee collected at kickoff",
		[]ledger.Line{
			debit(acctCash, "50000.00"),
			credit(acctDeferred, "50000.00"),
		}); err != nil {
		return err
	}

	sched, err := h.Recognition.CreateSchedule(ctx, recognition.CreateScheduleInput{
		TenantID:        scenarioTenant,
		SourceID:        "project-globex",
		Total:           decimal.RequireFromString("50000.00"),
		Method:          recognition.Milestone,
		DeferredAccount: acctDeferred,
		RevenueAccount:  acctRevenue,
		Actor:           scenarioActor,
		Milestones: []recognition.MilestoneInput{
			{Name: "Design signed off", Due: kickoff.AddDate(0, 1, 0), Amount: decimal.RequireFromString("10000.00")},
			{Name: "Build delivered", Due: kickoff.AddDate(0, 3, 0), Amount: decimal.RequireFromString("25000.00")},
			{Name: "Launch accepted", Due: kickoff.AddDate(0, 5, 0), Amount: decimal.RequireFromString("15000.00")},
		},
	})
	if err != nil {
		return err
	}

	// First milestone is done; recognition only touches completed milestones.
	if err := h.Recognition.CompleteMilestone(ctx, scenarioTenant, sched.ID, sched.Events[0].ID); err != nil {
		return err
	}

	_, err = h.Recognition.Run(ctx, scenarioTenant, sched.ID, time.Now().UTC())
	return err
}

// loadMonthEndCloseScenario posts an ordinary operating month and
// soft-closes it, leaving the current month open. Reopen and hard-lock
// can then be demonstrated from the period endpoints.
func (h *Handler) loadMonthEndCloseScenario(ctx context.Context) error {
	if err := h.seedChartOfAccounts(ctx); err != nil {
		return err
	}

	// Prior month, so the close is plausible.
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)

	postings := []struct {
		key, desc string
		txType    ledger.TransactionType
		day       int
		lines     []ledger.Line
	}{
		{"close-demo/sales-week-1", "Week 1 sales, collected", ledger.TxPayment, 7,
			[]ledger.Line{debit(acctCash, "8200.00"), credit(acctRevenue, "8200.00")}},
		{"close-demo/sales-week-3", "Week 3 sales, on account", ledger.TxInvoice, 21,
			[]ledger.Line{debit(acctReceivable, "5400.00"), credit(acctRevenue, "5400.00")}},
		{"close-demo/rent", "Office rent", ledger.TxBill, 1,
			[]ledger.Line{debit(acctRent, "3000.00"), credit(acctPayable, "3000.00")}},
		{"close-demo/payroll", "Monthly payroll", ledger.TxExpense, 28,
			[]ledger.Line{debit(acctPayroll, "6500.00"), credit(acctCash, "6500.00")}},
	}
	for _, p := range postings {
		if _, err := h.post(ctx, p.key, p.txType, monthStart.AddDate(0, 0, p.day-1), p.desc, p.lines); err != nil {
			return err
		}
	}

	periodID := ledger.PeriodFor(scenarioTenant, monthStart).ID
	return h.Periods.SoftClose(ctx, scenarioTenant, periodID, "month-end close demo", scenarioActor)
}
