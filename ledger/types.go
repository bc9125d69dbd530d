/*
Package ledger provides the double-entry posting core.

PURPOSE:
  This package contains the domain types and algorithms for the financial
  ledger: balanced transactions, accounting periods with lock states, the
  idempotent write gateway, the hash-chained audit log, and the trial
  balance / statement builder that replays posted entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A node in the chart of accounts (asset/liability/equity/revenue/expense)
  - Transaction: A balanced, immutable set of debit/credit Lines
  - Line: A single debit or credit against one account
  - Identifiers: Type-safe IDs so tenant/account/transaction IDs can't be mixed

DESIGN PRINCIPLES:
  1. Immutability: Posted transactions are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Closed enumerations: Account and transaction types are tagged variants
     matched exhaustively, not open-ended subclassing
  4. Derived balances: Any cached balance is a convenience, never the truth

SEE ALSO:
  - ledger.go: The single posting entrypoint
  - period.go: Accounting period lock state machine
  - statement.go: Replay-based trial balance and statements
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type AccountID string
type TransactionID string
type PeriodID string

// =============================================================================
// ACCOUNT - Chart of accounts node
// =============================================================================

// AccountType is a closed enumeration. Statement building matches it
// exhaustively; there is no "other" bucket.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

// ValidAccountType reports whether t is one of the five account types.
func ValidAccountType(t AccountType) bool {
	switch t {
	case AccountAsset, AccountLiability, AccountEquity, AccountRevenue, AccountExpense:
		return true
	}
	return false
}

// Account is a node in the chart of accounts. Once referenced by a posted
// line an account may only be renamed or deactivated, never deleted.
//
// Balance is NOT stored here. Balances are always derived by replaying
// the ledger (see statement.go).
type Account struct {
	ID       AccountID
	TenantID TenantID
	Code     string // e.g. "1000" for Cash
	Name     string
	Type     AccountType
	ParentID AccountID // optional; forms the account hierarchy
	Active   bool

	CreatedAt time.Time
}

// =============================================================================
// TRANSACTION - Balanced set of lines
// =============================================================================

// TransactionType is a closed enumeration of business transaction kinds.
type TransactionType string

const (
	TxJournal    TransactionType = "journal"
	TxInvoice    TransactionType = "invoice"
	TxPayment    TransactionType = "payment"
	TxBill       TransactionType = "bill"
	TxExpense    TransactionType = "expense"
	TxAdjustment TransactionType = "adjustment"
	TxTransfer   TransactionType = "transfer"
)

type TransactionStatus string

const (
	StatusDraft  TransactionStatus = "DRAFT"
	StatusPosted TransactionStatus = "POSTED"
	StatusVoid   TransactionStatus = "VOID"
)

// Transaction is a balanced group of lines posted to exactly one
// accounting period (derived from Date).
//
// INVARIANT: for a POSTED transaction, sum(debits) == sum(credits) exactly.
type Transaction struct {
	ID          TransactionID
	TenantID    TenantID
	PeriodID    PeriodID
	Type        TransactionType
	Date        time.Time
	Description string
	Status      TransactionStatus

	// ReferenceID links related transactions: a reversal references the
	// transaction it voids, a recognition posting references its schedule event.
	ReferenceID string

	// IdempotencyKey, when set, is unique across the ledger. A second append
	// with the same key is rejected by the store.
	IdempotencyKey string

	// Seq is the store-assigned, monotonically increasing insertion order.
	// Replay (statement.go) iterates in Seq order; this is what makes two
	// replays of the same snapshot agree byte-for-byte.
	Seq int64

	Lines []Line

	// Audit fields
	CreatedBy string
	CreatedAt time.Time
}

// Line is a single debit or credit against one account.
// Exactly one of Debit/Credit is non-zero; never both.
type Line struct {
	TransactionID TransactionID
	AccountID     AccountID
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	Memo          string
}

// Delta returns the signed effect of the line: debits positive, credits
// negative. Replay accumulates deltas per account.
func (l Line) Delta() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// Totals returns the debit and credit sums across the transaction's lines.
func (t Transaction) Totals() (debits, credits decimal.Decimal) {
	for _, l := range t.Lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}

// Balanced reports whether debits equal credits exactly (no rounding drift).
func (t Transaction) Balanced() bool {
	debits, credits := t.Totals()
	return debits.Equal(credits)
}

// Reversed returns the reversing lines for t: every debit becomes a credit
// and vice versa. Used by Void; history is never edited, only offset.
func (t Transaction) Reversed() []Line {
	lines := make([]Line, 0, len(t.Lines))
	for _, l := range t.Lines {
		lines = append(lines, Line{
			AccountID: l.AccountID,
			Debit:     l.Credit,
			Credit:    l.Debit,
			Memo:      l.Memo,
		})
	}
	return lines
}
