/*
Package recognition converts deferred revenue into recognized revenue.

PURPOSE:
  Generates recognition schedules (straight-line, milestone) and, on each
  recognition run, issues postings through the idempotent write gateway.
  The engine owns schedules; it never writes ledger lines directly.

KEY CONCEPTS IN THIS FILE (schedule.go):
  - Schedule: the plan for one revenue source, with an ordered set of Events
  - Event: one recognition point (date, amount, recognized flag)
  - ScheduleStore: persistence; schedules are never deleted, only superseded

AMOUNT SPLITTING:
  Straight-line divides the total across N monthly events, rounding each
  to 2 places and folding the remainder into the final event, so the
  events always sum exactly to the total. Milestone allocations are
  caller-supplied and validated to sum exactly.

SEE ALSO:
  - engine.go: CreateSchedule / Run
  - ledger/idempotency.go: Per-event posting keys
*/
package recognition

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAllocationMismatch is returned when milestone allocations do not
	// sum exactly to the schedule total.
	ErrAllocationMismatch = errors.New("milestone allocations do not sum to total")

	// ErrScheduleSuperseded is returned when running a superseded schedule.
	ErrScheduleSuperseded = errors.New("schedule has been superseded")

	// ErrEventNotFound is returned when a schedule has no such event.
	ErrEventNotFound = errors.New("schedule event not found")

	// ErrInvalidSchedule is returned for malformed schedule inputs
	// (non-positive total, zero months, missing accounts).
	ErrInvalidSchedule = errors.New("invalid schedule input")
)

// =============================================================================
// SCHEDULE - The recognition plan for one revenue source
// =============================================================================

type Method string

const (
	StraightLine Method = "straight_line"
	Milestone    Method = "milestone"
)

// Event is a single recognition point. Mutated only by the engine marking
// it recognized (or its milestone completed); amounts and dates are fixed
// at schedule creation.
type Event struct {
	ID     string
	Due    time.Time
	Amount decimal.Decimal

	// Milestone fields (milestone method only)
	Milestone string
	Completed bool

	Recognized    bool
	TransactionID ledger.TransactionID
	RecognizedAt  time.Time
}

// Schedule is created once per revenue source and never deleted; a
// correction supersedes it with a replacement.
type Schedule struct {
	ID       string
	TenantID ledger.TenantID
	// SourceID identifies the contract/invoice this schedule recognizes.
	SourceID string
	Total    decimal.Decimal
	Method   Method

	// Recognition postings move value from DeferredAccount (liability)
	// to RevenueAccount.
	DeferredAccount ledger.AccountID
	RevenueAccount  ledger.AccountID

	Events []Event

	Superseded   bool
	SupersededBy string

	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// SCHEDULE STORE
// =============================================================================

type ScheduleStore interface {
	SaveSchedule(ctx context.Context, s Schedule) error
	GetSchedule(ctx context.Context, tenantID ledger.TenantID, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, tenantID ledger.TenantID) ([]Schedule, error)

	// MarkRecognized flips one event's recognized flag and records the
	// posted transaction. Idempotent: marking a recognized event again is
	// a no-op.
	MarkRecognized(ctx context.Context, tenantID ledger.TenantID, scheduleID, eventID string, txID ledger.TransactionID) error

	// MarkCompleted sets a milestone event's completion flag.
	MarkCompleted(ctx context.Context, tenantID ledger.TenantID, scheduleID, eventID string) error

	// MarkSuperseded points the schedule at its replacement.
	MarkSuperseded(ctx context.Context, tenantID ledger.TenantID, scheduleID, successorID string) error
}

// =============================================================================
// AMOUNT SPLITTING
// =============================================================================

// splitStraightLine returns n amounts that sum exactly to total: each
// rounded to 2 places, remainder folded into the last.
func splitStraightLine(total decimal.Decimal, n int) []decimal.Decimal {
	per := total.DivRound(decimal.NewFromInt(int64(n)), 2)
	amounts := make([]decimal.Decimal, n)
	running := decimal.Zero
	for i := 0; i < n-1; i++ {
		amounts[i] = per
		running = running.Add(per)
	}
	amounts[n-1] = total.Sub(running)
	return amounts
}

// endOfMonth returns the last day of t's month, UTC, day granularity.
func endOfMonth(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}
