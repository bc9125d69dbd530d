/*
engine.go - Revenue recognition engine

PURPOSE:
  CreateSchedule builds the recognition plan; Run posts every due,
  unrecognized event through the idempotent write gateway.

IDEMPOTENCY:
  Run is idempotent per (scheduleID, eventID): the gateway key is derived
  from exactly those identifiers, so each event posts at most once no
  matter how many times or how concurrently recognition runs. Re-running
  for an already-recognized event is a no-op, not an error.

PERIOD LOCKS:
  Recognition postings go through the same posting entrypoint as
  everything else. An event whose date falls in a HARD_LOCKED period
  fails and is reported in the run result - never silently skipped,
  never deferred to a different period.

SEE ALSO:
  - schedule.go: Schedule/Event types and amount splitting
  - ledger/ledger.go: The posting entrypoint recognition flows through
*/
package recognition

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// OpRecognitionPost is the gateway operation name for recognition postings.
const OpRecognitionPost = "recognition.post"

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Schedules ScheduleStore
	Ledger    ledger.Ledger
	Gateway   *ledger.Gateway
	Audit     ledger.AuditLog // optional; runs and schedule changes are audited when set
}

func NewEngine(schedules ScheduleStore, lg ledger.Ledger, gw *ledger.Gateway, audit ledger.AuditLog) *Engine {
	return &Engine{Schedules: schedules, Ledger: lg, Gateway: gw, Audit: audit}
}

// =============================================================================
// SCHEDULE CREATION
// =============================================================================

type CreateScheduleInput struct {
	TenantID ledger.TenantID
	SourceID string
	Total    decimal.Decimal
	Method   Method

	DeferredAccount ledger.AccountID
	RevenueAccount  ledger.AccountID

	// Straight-line: recognize monthly for Months, starting in Start's month.
	Start  time.Time
	Months int

	// Milestone: caller-supplied allocations.
	Milestones []MilestoneInput

	Actor string
}

type MilestoneInput struct {
	Name   string
	Due    time.Time
	Amount decimal.Decimal
}

// CreateSchedule validates the input and persists the plan. Event amounts
// always sum exactly to the total.
func (e *Engine) CreateSchedule(ctx context.Context, in CreateScheduleInput) (*Schedule, error) {
	if !in.Total.IsPositive() {
		return nil, fmt.Errorf("total must be positive: %w", ErrInvalidSchedule)
	}
	if in.DeferredAccount == "" || in.RevenueAccount == "" {
		return nil, fmt.Errorf("deferred and revenue accounts required: %w", ErrInvalidSchedule)
	}

	sched := Schedule{
		ID:              uuid.NewString(),
		TenantID:        in.TenantID,
		SourceID:        in.SourceID,
		Total:           in.Total,
		Method:          in.Method,
		DeferredAccount: in.DeferredAccount,
		RevenueAccount:  in.RevenueAccount,
		CreatedBy:       in.Actor,
		CreatedAt:       time.Now().UTC(),
	}

	switch in.Method {
	case StraightLine:
		if in.Months < 1 {
			return nil, fmt.Errorf("straight-line needs at least one month: %w", ErrInvalidSchedule)
		}
		amounts := splitStraightLine(in.Total, in.Months)
		for i, amount := range amounts {
			sched.Events = append(sched.Events, Event{
				ID:     "event-" + strconv.Itoa(i+1),
				Due:    endOfMonth(in.Start.AddDate(0, i, 0)),
				Amount: amount,
			})
		}

	case Milestone:
		if len(in.Milestones) == 0 {
			return nil, fmt.Errorf("milestone schedule needs milestones: %w", ErrInvalidSchedule)
		}
		allocated := decimal.Zero
		for i, ms := range in.Milestones {
			if !ms.Amount.IsPositive() {
				return nil, fmt.Errorf("milestone %q amount must be positive: %w", ms.Name, ErrInvalidSchedule)
			}
			allocated = allocated.Add(ms.Amount)
			sched.Events = append(sched.Events, Event{
				ID:        "event-" + strconv.Itoa(i+1),
				Due:       ms.Due,
				Amount:    ms.Amount,
				Milestone: ms.Name,
			})
		}
		if !allocated.Equal(in.Total) {
			return nil, fmt.Errorf("allocated %s of %s: %w", allocated, in.Total, ErrAllocationMismatch)
		}

	default:
		return nil, fmt.Errorf("unknown method %q: %w", in.Method, ErrInvalidSchedule)
	}

	if err := e.Schedules.SaveSchedule(ctx, sched); err != nil {
		return nil, err
	}
	e.auditEvent(ctx, in.TenantID, sched.ID, ledger.AuditScheduleCreated, map[string]string{
		"schedule": sched.ID,
		"source":   in.SourceID,
		"method":   string(in.Method),
		"total":    in.Total.String(),
		"events":   strconv.Itoa(len(sched.Events)),
		"actor":    in.Actor,
	})
	return &sched, nil
}

// Supersede replaces a schedule: the old one is marked superseded (never
// deleted) and a fresh schedule is created from in.
func (e *Engine) Supersede(ctx context.Context, tenantID ledger.TenantID, scheduleID string, in CreateScheduleInput) (*Schedule, error) {
	old, err := e.Schedules.GetSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ledger.ErrScheduleNotFound
	}
	if old.Superseded {
		return nil, ErrScheduleSuperseded
	}

	replacement, err := e.CreateSchedule(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := e.Schedules.MarkSuperseded(ctx, tenantID, scheduleID, replacement.ID); err != nil {
		return nil, err
	}
	e.auditEvent(ctx, tenantID, scheduleID, ledger.AuditScheduleSuperseded, map[string]string{
		"schedule":    scheduleID,
		"replacement": replacement.ID,
		"actor":       in.Actor,
	})
	return replacement, nil
}

// CompleteMilestone sets a milestone event's completion flag, making it
// eligible for recognition on the next run.
func (e *Engine) CompleteMilestone(ctx context.Context, tenantID ledger.TenantID, scheduleID, eventID string) error {
	return e.Schedules.MarkCompleted(ctx, tenantID, scheduleID, eventID)
}

// =============================================================================
// RECOGNITION RUNS
// =============================================================================

// RunResult reports what one recognition run did. Failures are reported,
// not swallowed: a locked period shows up here with the posting error.
type RunResult struct {
	ScheduleID string
	AsOf       time.Time

	Posted            []ledger.TransactionID
	AlreadyRecognized int
	Failures          []EventFailure
}

type EventFailure struct {
	EventID string
	Err     error
}

// Run posts every unrecognized event due on or before asOf. Idempotent
// per event: concurrent runs for the same schedule serialize on the
// gateway's per-event keys.
func (e *Engine) Run(ctx context.Context, tenantID ledger.TenantID, scheduleID string, asOf time.Time) (*RunResult, error) {
	sched, err := e.Schedules.GetSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, ledger.ErrScheduleNotFound
	}
	if sched.Superseded {
		return nil, ErrScheduleSuperseded
	}

	result := &RunResult{ScheduleID: scheduleID, AsOf: asOf}

	for _, ev := range sched.Events {
		if ev.Recognized {
			result.AlreadyRecognized++
			continue
		}
		if ev.Due.After(asOf) {
			continue
		}
		if sched.Method == Milestone && !ev.Completed {
			continue
		}

		txID, err := e.recognizeEvent(ctx, sched, ev)
		if err != nil {
			result.Failures = append(result.Failures, EventFailure{EventID: ev.ID, Err: err})
			continue
		}
		result.Posted = append(result.Posted, txID)
	}

	e.auditEvent(ctx, tenantID, scheduleID, ledger.AuditRecognitionRun, map[string]string{
		"schedule":           scheduleID,
		"as_of":              asOf.UTC().Format("2006-01-02"),
		"posted":             strconv.Itoa(len(result.Posted)),
		"already_recognized": strconv.Itoa(result.AlreadyRecognized),
		"failures":           strconv.Itoa(len(result.Failures)),
	})
	return result, nil
}

// recognizeEvent posts one event through the gateway. The natural key is
// (scheduleID, eventID); the ledger-level idempotency key on the posted
// transaction is the same derived key, a second line of defense.
func (e *Engine) recognizeEvent(ctx context.Context, sched *Schedule, ev Event) (ledger.TransactionID, error) {
	naturalKey := sched.ID + "/" + ev.ID

	result, err := e.Gateway.Do(ctx, OpRecognitionPost, sched.TenantID, naturalKey, func(ctx context.Context) (string, error) {
		txID, err := e.Ledger.Post(ctx, ledger.Transaction{
			TenantID:       sched.TenantID,
			Type:           ledger.TxJournal,
			Date:           ev.Due,
			Description:    fmt.Sprintf("revenue recognition %s %s", sched.SourceID, ev.ID),
			ReferenceID:    naturalKey,
			IdempotencyKey: ledger.Key(OpRecognitionPost, sched.TenantID, naturalKey),
			Lines: []ledger.Line{
				{AccountID: sched.DeferredAccount, Debit: ev.Amount},
				{AccountID: sched.RevenueAccount, Credit: ev.Amount},
			},
		})
		if err != nil {
			return "", err
		}
		if err := e.Schedules.MarkRecognized(ctx, sched.TenantID, sched.ID, ev.ID, txID); err != nil {
			return "", err
		}
		return string(txID), nil
	})
	if err != nil {
		return "", err
	}

	// A replayed result may race a crash between posting and marking; the
	// mark is idempotent, so settle it here unconditionally.
	txID := ledger.TransactionID(result)
	if err := e.Schedules.MarkRecognized(ctx, sched.TenantID, sched.ID, ev.ID, txID); err != nil {
		return "", err
	}
	return txID, nil
}

func (e *Engine) auditEvent(ctx context.Context, tenantID ledger.TenantID, correlationID string, typ ledger.AuditEventType, payload map[string]string) {
	if e.Audit == nil {
		return
	}
	_, _ = e.Audit.AppendEvent(ctx, ledger.AuditEvent{
		TenantID:      tenantID,
		CorrelationID: correlationID,
		Type:          typ,
		Payload:       payload,
	})
}
