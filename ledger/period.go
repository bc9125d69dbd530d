/*
period.go - Accounting period lock state machine

PURPOSE:
  Tracks the per-period posting lifecycle. The ledger consults period state
  at the point of posting (inside the store's atomic boundary), so no caller
  can bypass lock enforcement by reordering its own checks.

STATES:
  OPEN        posting allowed (default)
  SOFT_CLOSED posting allowed, flagged for review; reversible to OPEN
  HARD_LOCKED posting forbidden; terminal and irreversible

TRANSITIONS:
  SoftClose: OPEN        -> SOFT_CLOSED
  Lock:      OPEN        -> HARD_LOCKED
             SOFT_CLOSED -> HARD_LOCKED
  Reopen:    SOFT_CLOSED -> OPEN        (the ONLY reversal)

FAIL-CLOSED AUDIT:
  Every transition appends an AuditEvent with reason and actor in the same
  store transaction as the state change. If the audit append fails, the
  transition rolls back and is not considered committed.

SEE ALSO:
  - ledger.go: Consults period state during Post
  - audit.go: Hash-chained audit events
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - One calendar month of postings per tenant
// =============================================================================

type PeriodState string

const (
	PeriodOpen       PeriodState = "OPEN"
	PeriodSoftClosed PeriodState = "SOFT_CLOSED"
	PeriodHardLocked PeriodState = "HARD_LOCKED"
)

// AccountingPeriod is one posting window. Periods are calendar months,
// created on demand the first time a posting targets them.
type AccountingPeriod struct {
	ID       PeriodID
	TenantID TenantID
	Start    time.Time
	End      time.Time
	State    PeriodState
}

// Contains reports whether t falls inside the period [Start, End].
func (p AccountingPeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// PeriodFor derives the calendar-month period containing date.
// The period ID is "YYYY-MM"; uniqueness is per tenant.
func PeriodFor(tenantID TenantID, date time.Time) AccountingPeriod {
	start := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return AccountingPeriod{
		ID:       PeriodID(start.Format("2006-01")),
		TenantID: tenantID,
		Start:    start,
		End:      end,
		State:    PeriodOpen,
	}
}

// canTransition defines the full transition table. HARD_LOCKED rows are
// handled separately so the caller gets IrreversibleStateError, not a
// generic invalid-transition.
func canTransition(from, to PeriodState) bool {
	switch from {
	case PeriodOpen:
		return to == PeriodSoftClosed || to == PeriodHardLocked
	case PeriodSoftClosed:
		return to == PeriodOpen || to == PeriodHardLocked
	case PeriodHardLocked:
		return false
	}
	return false
}

// =============================================================================
// PERIOD MANAGER - Owns period state; consulted, never bypassed
// =============================================================================

// PeriodManager performs lock transitions. All writes go through the store's
// transactional boundary so the state change and its audit event commit or
// roll back together.
type PeriodManager struct {
	Store TxStore
}

func NewPeriodManager(store TxStore) *PeriodManager {
	return &PeriodManager{Store: store}
}

// SoftClose transitions OPEN -> SOFT_CLOSED.
func (pm *PeriodManager) SoftClose(ctx context.Context, tenantID TenantID, periodID PeriodID, reason, actor string) error {
	return pm.transition(ctx, tenantID, periodID, PeriodSoftClosed, reason, actor)
}

// Lock transitions OPEN/SOFT_CLOSED -> HARD_LOCKED. Terminal.
func (pm *PeriodManager) Lock(ctx context.Context, tenantID TenantID, periodID PeriodID, reason, actor string) error {
	return pm.transition(ctx, tenantID, periodID, PeriodHardLocked, reason, actor)
}

// Reopen transitions SOFT_CLOSED -> OPEN. Reopening from any other state
// fails; HARD_LOCKED fails with IrreversibleStateError.
func (pm *PeriodManager) Reopen(ctx context.Context, tenantID TenantID, periodID PeriodID, reason, actor string) error {
	return pm.transition(ctx, tenantID, periodID, PeriodOpen, reason, actor)
}

func (pm *PeriodManager) transition(ctx context.Context, tenantID TenantID, periodID PeriodID, target PeriodState, reason, actor string) error {
	return pm.Store.WithTx(ctx, func(s Store) error {
		period, err := s.GetPeriod(ctx, tenantID, periodID)
		if err != nil {
			return err
		}
		if period == nil {
			return fmt.Errorf("period %s: %w", periodID, ErrInvalidTransition)
		}

		if period.State == PeriodHardLocked {
			return &IrreversibleStateError{PeriodID: periodID, Target: target}
		}
		if period.State == target {
			// Transitioning to the current state is a no-op, not an error;
			// retried lock requests should not fail.
			return nil
		}
		if !canTransition(period.State, target) {
			return fmt.Errorf("period %s: %s -> %s: %w", periodID, period.State, target, ErrInvalidTransition)
		}

		if err := s.SetPeriodState(ctx, tenantID, periodID, target); err != nil {
			return err
		}

		// Fail-closed: the audit event commits with the state change or the
		// whole transition rolls back.
		audit, ok := s.(AuditLog)
		if !ok {
			return ErrStoreRequired
		}
		_, err = audit.AppendEvent(ctx, AuditEvent{
			TenantID:      tenantID,
			CorrelationID: string(periodID),
			Type:          AuditPeriodTransition,
			Payload: map[string]string{
				"period": string(periodID),
				"from":   string(period.State),
				"to":     string(target),
				"reason": reason,
				"actor":  actor,
			},
		})
		return err
	})
}
