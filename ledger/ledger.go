/*
ledger.go - The single posting entrypoint

PURPOSE:
  DefaultLedger.Post is the sole mutation boundary of the ledger. Every
  write path - journal entries, payments, recognition postings, voids -
  lands here, which is how period-lock enforcement cannot be circumvented
  by upstream code.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: posted lines are never updated or deleted
  2. BALANCED: sum(debits) == sum(credits), exact decimal equality
  3. ATOMIC: period-lock check and append are one critical section;
     a concurrent hard-lock either happens before (posting rejected)
     or after (posting committed), never in between
  4. VALIDATED FIRST: unbalanced/invalid input is rejected before any
     durable write

CORRECTIONS:
  Void(txID) marks the original VOID and appends a reversing record in the
  same store transaction. Replay ignores VOID transactions; the reversal
  documents the undo without double-counting. True deletes never happen.

SEE ALSO:
  - store.go: Persistence contract
  - period.go: Lock state machine consulted during Post
  - statement.go: Replay of what Post appended
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER - Posting contract
// =============================================================================

type Ledger interface {
	// Post validates, period-checks and durably appends the transaction.
	// Returns the posted transaction id.
	Post(ctx context.Context, tx Transaction) (TransactionID, error)

	// Void creates a reversing record for a posted transaction and marks
	// the original VOID. Returns the reversal's id.
	Void(ctx context.Context, tenantID TenantID, id TransactionID, actor, reason string) (TransactionID, error)

	// Transactions returns all transactions for the tenant in sequence order.
	Transactions(ctx context.Context, tenantID TenantID) ([]Transaction, error)
}

// =============================================================================
// DEFAULT LEDGER
// =============================================================================

type DefaultLedger struct {
	Store TxStore
}

func NewLedger(store TxStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

// Post appends a balanced transaction to the ledger.
//
// Preconditions checked locally (no side effect on failure):
//   - at least two lines, each with exactly one positive side
//   - debits == credits exactly
//
// Inside the store transaction:
//   - all referenced accounts exist and are active
//   - the target period (derived from tx.Date) is not HARD_LOCKED
func (l *DefaultLedger) Post(ctx context.Context, tx Transaction) (TransactionID, error) {
	if err := validateLines(tx); err != nil {
		return "", err
	}

	if tx.ID == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	tx.Status = StatusPosted
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	for i := range tx.Lines {
		tx.Lines[i].TransactionID = tx.ID
	}

	target := PeriodFor(tx.TenantID, tx.Date)
	tx.PeriodID = target.ID

	err := l.Store.WithTx(ctx, func(s Store) error {
		for _, line := range tx.Lines {
			account, err := s.GetAccount(ctx, tx.TenantID, line.AccountID)
			if err != nil {
				return err
			}
			if account == nil {
				return &InvalidAccountError{AccountID: line.AccountID, Reason: "not found"}
			}
			if !account.Active {
				return &InvalidAccountError{AccountID: line.AccountID, Reason: "inactive"}
			}
		}

		period, err := s.EnsurePeriod(ctx, target)
		if err != nil {
			return err
		}
		if period.State == PeriodHardLocked {
			return &PeriodLockedError{
				TenantID: tx.TenantID,
				PeriodID: period.ID,
				State:    period.State,
				Date:     tx.Date,
			}
		}

		seq, err := s.AppendTransaction(ctx, tx)
		if err != nil {
			return err
		}
		tx.Seq = seq
		return nil
	})
	if err != nil {
		return "", err
	}
	return tx.ID, nil
}

// Void reverses a posted transaction. The reversal carries the original's
// date (same period, so period-lock rules apply identically), swapped
// debit/credit lines, and Status VOID: it documents the undo but is not
// replayed, because replay already skips the voided original.
func (l *DefaultLedger) Void(ctx context.Context, tenantID TenantID, id TransactionID, actor, reason string) (TransactionID, error) {
	reversalID := TransactionID(uuid.NewString())

	err := l.Store.WithTx(ctx, func(s Store) error {
		original, err := s.GetTransaction(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if original == nil {
			return fmt.Errorf("void %s: %w", id, ErrTransactionNotFound)
		}
		if original.Status == StatusVoid {
			return fmt.Errorf("void %s: %w", id, ErrAlreadyVoid)
		}

		period, err := s.GetPeriod(ctx, tenantID, original.PeriodID)
		if err != nil {
			return err
		}
		if period != nil && period.State == PeriodHardLocked {
			return &PeriodLockedError{
				TenantID: tenantID,
				PeriodID: period.ID,
				State:    period.State,
				Date:     original.Date,
			}
		}

		reversal := Transaction{
			ID:          reversalID,
			TenantID:    tenantID,
			PeriodID:    original.PeriodID,
			Type:        TxAdjustment,
			Date:        original.Date,
			Description: "void: " + original.Description,
			Status:      StatusVoid,
			ReferenceID: string(original.ID),
			Lines:       original.Reversed(),
			CreatedBy:   actor,
			CreatedAt:   time.Now().UTC(),
		}
		for i := range reversal.Lines {
			reversal.Lines[i].TransactionID = reversal.ID
		}

		if _, err := s.AppendTransaction(ctx, reversal); err != nil {
			return err
		}
		if err := s.MarkVoid(ctx, tenantID, id); err != nil {
			return err
		}

		// Voids are sensitive: audited fail-closed like period transitions.
		audit, ok := s.(AuditLog)
		if !ok {
			return ErrStoreRequired
		}
		_, err = audit.AppendEvent(ctx, AuditEvent{
			TenantID:      tenantID,
			CorrelationID: string(id),
			Type:          AuditTransactionVoided,
			Payload: map[string]string{
				"transaction": string(id),
				"reversal":    string(reversalID),
				"actor":       actor,
				"reason":      reason,
			},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return reversalID, nil
}

func (l *DefaultLedger) Transactions(ctx context.Context, tenantID TenantID) ([]Transaction, error) {
	return l.Store.LoadPosted(ctx, tenantID, 0)
}

// =============================================================================
// LOCAL VALIDATION
// =============================================================================

func validateLines(tx Transaction) error {
	if len(tx.Lines) < 2 {
		return fmt.Errorf("transaction needs at least two lines: %w", ErrInvalidLine)
	}
	for _, l := range tx.Lines {
		debitSet := l.Debit.IsPositive()
		creditSet := l.Credit.IsPositive()
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("account %s: negative amount: %w", l.AccountID, ErrInvalidLine)
		}
		if debitSet == creditSet { // both or neither
			return fmt.Errorf("account %s: %w", l.AccountID, ErrInvalidLine)
		}
	}
	if !tx.Balanced() {
		debits, credits := tx.Totals()
		return &UnbalancedTransactionError{Debits: debits.String(), Credits: credits.String()}
	}
	return nil
}
