/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; structured types carry the
  violated invariant so rejections are never generic failures.

ERROR CATEGORIES:
  1. Validation errors - rejected before any durable write (unbalanced, invalid account)
  2. Policy errors     - period locks and irreversible states, surfaced verbatim
  3. Coordination      - idempotency conflicts between concurrent callers
  4. Integrity         - replay hash mismatches; fatal, never silently reconciled

SEE ALSO:
  - ledger.go: Uses validation and policy errors
  - idempotency.go: Uses coordination errors
  - statement.go: Uses integrity errors
*/
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPeriodLocked is returned when a posting targets a HARD_LOCKED period.
	// The transaction is not written. Hard locks are intentional policy;
	// callers must not retry automatically.
	ErrPeriodLocked = errors.New("accounting period is hard-locked")

	// ErrUnbalancedTransaction is returned when debits != credits.
	// Rejected locally before any durable write.
	ErrUnbalancedTransaction = errors.New("transaction debits and credits do not balance")

	// ErrInvalidAccount is returned when a line references a missing or
	// inactive account.
	ErrInvalidAccount = errors.New("invalid or inactive account")

	// ErrInvalidLine is returned when a line has both or neither of
	// debit/credit set, or a negative amount.
	ErrInvalidLine = errors.New("line must have exactly one positive side")

	// ErrIdempotencyConflict is returned when a concurrent request with the
	// same key is still in flight and the caller's deadline expired.
	// Callers should wait/poll, not retry blindly.
	ErrIdempotencyConflict = errors.New("concurrent request with same idempotency key in flight")

	// ErrDuplicateIdempotencyKey is returned by the store when a transaction
	// with the same idempotency key already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrIrreversibleState is returned on any attempt to transition a period
	// out of HARD_LOCKED.
	ErrIrreversibleState = errors.New("period state is irreversible")

	// ErrInvalidTransition is returned for transitions the state machine does
	// not define (e.g. reopen from OPEN).
	ErrInvalidTransition = errors.New("invalid period state transition")

	// ErrReplayIntegrity is returned when a rebuilt statement's hash does not
	// match a previously published snapshot. Fatal: halt and alert.
	ErrReplayIntegrity = errors.New("replay integrity hash mismatch")

	// ErrTransactionNotFound is returned when a referenced transaction does
	// not exist for the tenant.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyVoid is returned when voiding a transaction twice.
	ErrAlreadyVoid = errors.New("transaction already void")

	// ErrScheduleNotFound is returned when a recognition schedule is missing.
	ErrScheduleNotFound = errors.New("recognition schedule not found")

	// ErrStoreRequired is returned when an operation requires a store
	// capability (transactions, audit) the configured store lacks.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PeriodLockedError names the period and lock state that rejected a posting.
type PeriodLockedError struct {
	TenantID TenantID
	PeriodID PeriodID
	State    PeriodState
	Date     time.Time
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("period %s is %s: posting dated %s rejected",
		e.PeriodID, e.State, e.Date.Format("2006-01-02"))
}

func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }

// UnbalancedTransactionError reports the exact drift.
type UnbalancedTransactionError struct {
	Debits  string
	Credits string
}

func (e *UnbalancedTransactionError) Error() string {
	return fmt.Sprintf("unbalanced transaction: debits %s, credits %s", e.Debits, e.Credits)
}

func (e *UnbalancedTransactionError) Unwrap() error { return ErrUnbalancedTransaction }

// InvalidAccountError names the offending account reference.
type InvalidAccountError struct {
	AccountID AccountID
	Reason    string // "not found" or "inactive"
}

func (e *InvalidAccountError) Error() string {
	return fmt.Sprintf("account %s: %s", e.AccountID, e.Reason)
}

func (e *InvalidAccountError) Unwrap() error { return ErrInvalidAccount }

// IrreversibleStateError reports an attempted transition out of HARD_LOCKED.
type IrreversibleStateError struct {
	PeriodID PeriodID
	Target   PeriodState
}

func (e *IrreversibleStateError) Error() string {
	return fmt.Sprintf("period %s is HARD_LOCKED; cannot transition to %s", e.PeriodID, e.Target)
}

func (e *IrreversibleStateError) Unwrap() error { return ErrIrreversibleState }

// ReplayIntegrityError reports a hash divergence between two replays of the
// same snapshot.
type ReplayIntegrityError struct {
	TenantID TenantID
	Kind     string // "trial_balance", "income_statement", ...
	Want     string
	Got      string
}

func (e *ReplayIntegrityError) Error() string {
	return fmt.Sprintf("%s integrity hash mismatch for tenant %s: want %s, got %s",
		e.Kind, e.TenantID, e.Want, e.Got)
}

func (e *ReplayIntegrityError) Unwrap() error { return ErrReplayIntegrity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a later retry.
// Period locks are policy, not transient: never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrIdempotencyConflict)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnbalancedTransaction) ||
		errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrInvalidLine) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyVoid)
}

// IsPolicyError returns true for business-policy rejections that are surfaced
// verbatim to the caller.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrPeriodLocked) || errors.Is(err, ErrIrreversibleState)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrScheduleNotFound)
}
