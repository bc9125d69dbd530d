/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

AMOUNTS:
  Monetary amounts cross the wire as decimal strings ("1000.00"), never
  floats, so nothing is lost between client and ledger.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/recognition"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccountRequest creates or updates a chart-of-accounts node.
type CreateAccountRequest struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
}

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
	Active   bool   `json:"active"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// LineDTO is one debit or credit. Exactly one of debit/credit is set.
type LineDTO struct {
	AccountID string `json:"account_id"`
	Debit     string `json:"debit,omitempty"`
	Credit    string `json:"credit,omitempty"`
	Memo      string `json:"memo,omitempty"`
}

// PostTransactionRequest posts a balanced transaction. NaturalKey is the
// caller's stable identifier for this logical write (an external payment
// reference, an order id); retries with the same key replay the original
// outcome instead of posting twice.
type PostTransactionRequest struct {
	NaturalKey  string    `json:"natural_key"`
	Type        string    `json:"type"`
	Date        string    `json:"date"` // YYYY-MM-DD
	Description string    `json:"description,omitempty"`
	Lines       []LineDTO `json:"lines"`
}

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID          string    `json:"id"`
	PeriodID    string    `json:"period_id"`
	Type        string    `json:"type"`
	Date        string    `json:"date"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Seq         int64     `json:"seq"`
	Lines       []LineDTO `json:"lines"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   string    `json:"created_at,omitempty"`
}

// PostTransactionResponse carries the canonical outcome of a posting.
// Replays of the same natural key return the identical body.
type PostTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
}

// VoidRequest reverses a posted transaction.
type VoidRequest struct {
	Reason string `json:"reason"`
}

type VoidResponse struct {
	ReversalID string `json:"reversal_id"`
}

// =============================================================================
// PERIODS
// =============================================================================

// PeriodDTO represents an accounting period with its lock state.
type PeriodDTO struct {
	ID    string `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
	State string `json:"state"`
}

// TransitionRequest carries the mandatory reason for a period transition.
type TransitionRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// RECOGNITION
// =============================================================================

type MilestoneDTO struct {
	Name   string `json:"name"`
	Due    string `json:"due"` // YYYY-MM-DD
	Amount string `json:"amount"`
}

// CreateScheduleRequest creates a recognition schedule. SourceID doubles as
// the natural key: creating a schedule for the same source twice replays
// the first outcome.
type CreateScheduleRequest struct {
	SourceID        string `json:"source_id"`
	Total           string `json:"total"`
	Method          string `json:"method"` // straight_line | milestone
	DeferredAccount string `json:"deferred_account"`
	RevenueAccount  string `json:"revenue_account"`

	// Straight-line
	Start  string `json:"start,omitempty"` // YYYY-MM-DD
	Months int    `json:"months,omitempty"`

	// Milestone
	Milestones []MilestoneDTO `json:"milestones,omitempty"`
}

type CreateScheduleResponse struct {
	ScheduleID string `json:"schedule_id"`
}

type EventDTO struct {
	ID            string `json:"id"`
	Due           string `json:"due"`
	Amount        string `json:"amount"`
	Milestone     string `json:"milestone,omitempty"`
	Completed     bool   `json:"completed,omitempty"`
	Recognized    bool   `json:"recognized"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type ScheduleDTO struct {
	ID              string     `json:"id"`
	SourceID        string     `json:"source_id"`
	Total           string     `json:"total"`
	Method          string     `json:"method"`
	DeferredAccount string     `json:"deferred_account"`
	RevenueAccount  string     `json:"revenue_account"`
	Events          []EventDTO `json:"events"`
	Superseded      bool       `json:"superseded,omitempty"`
	SupersededBy    string     `json:"superseded_by,omitempty"`
}

// RunRequest triggers a recognition run.
type RunRequest struct {
	AsOf string `json:"as_of,omitempty"` // YYYY-MM-DD; defaults to today
}

type RunResultDTO struct {
	ScheduleID        string          `json:"schedule_id"`
	AsOf              string          `json:"as_of"`
	Posted            []string        `json:"posted"`
	AlreadyRecognized int             `json:"already_recognized"`
	Failures          []RunFailureDTO `json:"failures,omitempty"`
}

// RunFailureDTO reports one event that could not be recognized (e.g. its
// period is hard-locked). Failures are surfaced, never silently skipped.
type RunFailureDTO struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

// =============================================================================
// AUDIT / ERRORS
// =============================================================================

// VerifyChainResponse reports the audit chain verification outcome.
type VerifyChainResponse struct {
	Intact       bool   `json:"intact"`
	DivergentIdx int64  `json:"divergent_index,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:       string(a.ID),
		Code:     a.Code,
		Name:     a.Name,
		Type:     string(a.Type),
		ParentID: string(a.ParentID),
		Active:   a.Active,
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	lines := make([]LineDTO, len(tx.Lines))
	for i, l := range tx.Lines {
		lines[i] = LineDTO{
			AccountID: string(l.AccountID),
			Memo:      l.Memo,
		}
		if l.Debit.IsPositive() {
			lines[i].Debit = l.Debit.String()
		}
		if l.Credit.IsPositive() {
			lines[i].Credit = l.Credit.String()
		}
	}
	return TransactionDTO{
		ID:          string(tx.ID),
		PeriodID:    string(tx.PeriodID),
		Type:        string(tx.Type),
		Date:        tx.Date.Format("2006-01-02"),
		Description: tx.Description,
		Status:      string(tx.Status),
		ReferenceID: tx.ReferenceID,
		Seq:         tx.Seq,
		Lines:       lines,
		CreatedBy:   tx.CreatedBy,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toPeriodDTO(p ledger.AccountingPeriod) PeriodDTO {
	return PeriodDTO{
		ID:    string(p.ID),
		Start: p.Start.Format("2006-01-02"),
		End:   p.End.Format("2006-01-02"),
		State: string(p.State),
	}
}

func toScheduleDTO(s recognition.Schedule) ScheduleDTO {
	events := make([]EventDTO, len(s.Events))
	for i, ev := range s.Events {
		events[i] = EventDTO{
			ID:            ev.ID,
			Due:           ev.Due.Format("2006-01-02"),
			Amount:        ev.Amount.String(),
			Milestone:     ev.Milestone,
			Completed:     ev.Completed,
			Recognized:    ev.Recognized,
			TransactionID: string(ev.TransactionID),
		}
	}
	return ScheduleDTO{
		ID:              s.ID,
		SourceID:        s.SourceID,
		Total:           s.Total.String(),
		Method:          string(s.Method),
		DeferredAccount: string(s.DeferredAccount),
		RevenueAccount:  string(s.RevenueAccount),
		Events:          events,
		Superseded:      s.Superseded,
		SupersededBy:    s.SupersededBy,
	}
}

func toRunResultDTO(res *recognition.RunResult) RunResultDTO {
	posted := make([]string, len(res.Posted))
	for i, id := range res.Posted {
		posted[i] = string(id)
	}
	out := RunResultDTO{
		ScheduleID:        res.ScheduleID,
		AsOf:              res.AsOf.Format("2006-01-02"),
		Posted:            posted,
		AlreadyRecognized: res.AlreadyRecognized,
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, RunFailureDTO{EventID: f.EventID, Error: f.Err.Error()})
	}
	return out
}
