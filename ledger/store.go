/*
store.go - Persistence interfaces for the ledger core

PURPOSE:
  Defines the interface between the posting engine and the database.
  The Store maintains append-only semantics for posted transactions.
  Implementations: store/sqlite (durable), ledger/store (in-memory).

APPEND-ONLY CONTRACT:
  - AppendTransaction() is the only way lines enter the ledger
  - There is no UpdateLine or DeleteTransaction; MarkVoid flips a status
    flag on the transaction header and never touches lines
  - Corrections are reversing transactions (see ledger.go Void)

SEQUENCING:
  AppendTransaction assigns a per-store monotonically increasing sequence
  number. Replay order is sequence order; this is the determinism anchor
  for trial balances and statements.

IDEMPOTENCY:
  Two layers. The transactions table rejects duplicate idempotency keys
  (last-line defense), and IdempotencyStore implements the pending/
  completed/failed record lifecycle the write gateway coordinates on.

SEE ALSO:
  - ledger.go: Posting entrypoint built on Store
  - idempotency.go: Gateway built on IdempotencyStore
  - store/sqlite/sqlite.go: Durable implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Accounts, periods, and the append-only transaction log
// =============================================================================

type Store interface {
	// Accounts
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, tenantID TenantID, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context, tenantID TenantID) ([]Account, error)

	// Periods
	// EnsurePeriod inserts the period if absent and returns the stored row
	// (which may carry a lock state set by an earlier transition).
	EnsurePeriod(ctx context.Context, p AccountingPeriod) (*AccountingPeriod, error)
	GetPeriod(ctx context.Context, tenantID TenantID, id PeriodID) (*AccountingPeriod, error)
	SetPeriodState(ctx context.Context, tenantID TenantID, id PeriodID, state PeriodState) error
	ListPeriods(ctx context.Context, tenantID TenantID) ([]AccountingPeriod, error)

	// Ledger (append-only)
	// AppendTransaction persists the transaction and its lines, assigns and
	// returns the sequence number. Fails with ErrDuplicateIdempotencyKey if
	// the transaction carries a key that already exists.
	AppendTransaction(ctx context.Context, tx Transaction) (int64, error)
	GetTransaction(ctx context.Context, tenantID TenantID, id TransactionID) (*Transaction, error)
	// MarkVoid transitions status POSTED -> VOID. Lines are untouched.
	MarkVoid(ctx context.Context, tenantID TenantID, id TransactionID) error
	// LoadPosted returns POSTED transactions with Seq <= maxSeq in sequence
	// order. maxSeq <= 0 means "everything". This is the replay source.
	LoadPosted(ctx context.Context, tenantID TenantID, maxSeq int64) ([]Transaction, error)
	// MaxSeq returns the highest assigned sequence for the tenant (0 if none).
	// Capturing it before replay pins a consistent snapshot.
	MaxSeq(ctx context.Context, tenantID TenantID) (int64, error)
	// CountLines returns the number of ledger lines in a period, any status.
	CountLines(ctx context.Context, tenantID TenantID, periodID PeriodID) (int, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic check-and-append
// =============================================================================

// TxStore wraps Store with a transactional boundary. The ledger's
// period-lock check and append run inside one WithTx call; period
// transitions commit their audit event inside one WithTx call.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. The Store passed to fn also
	// implements AuditLog and IdempotencyStore when the backing store does.
	// If fn returns an error the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// IDEMPOTENCY RECORDS - Coordination state for the write gateway
// =============================================================================

type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
	IdempotencyFailed    IdempotencyStatus = "failed"
)

// IdempotencyRecord tracks one logical write intent.
//
// LIFECYCLE: created pending at first attempt; resolved to completed with
// the canonical result on success, or failed on error. A completed record
// never re-executes; a failed record permits retry.
type IdempotencyRecord struct {
	Key       string
	TenantID  TenantID
	Operation string
	Status    IdempotencyStatus
	// Result is the canonical JSON-encoded outcome replayed to callers.
	Result string
	// LastError holds the failure message for failed records.
	LastError   string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// IdempotencyStore persists idempotency records with compare-and-swap
// semantics. Callers may run in separate processes; the store row, not an
// in-process mutex, is the coordination point.
type IdempotencyStore interface {
	// BeginIdempotent claims the key. Returns (nil, true) if this caller
	// inserted a fresh pending record (or reclaimed a failed one) and must
	// execute the operation. Returns (existing, false) if a pending or
	// completed record already holds the key.
	BeginIdempotent(ctx context.Context, rec IdempotencyRecord) (existing *IdempotencyRecord, claimed bool, err error)

	// ResolveIdempotent transitions pending -> completed/failed.
	ResolveIdempotent(ctx context.Context, key string, status IdempotencyStatus, result, lastError string) error

	// GetIdempotent returns the record, or nil if absent.
	GetIdempotent(ctx context.Context, key string) (*IdempotencyRecord, error)
}
