package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testTenant = ledger.TenantID("tenant-1")

func newTestStore(t *testing.T) *store.Memory {
	m := store.NewMemory()
	seedAccounts(t, m)
	return m
}

func seedAccounts(t *testing.T, m *store.Memory) {
	t.Helper()
	ctx := context.Background()
	accounts := []ledger.Account{
		{ID: "cash", Code: "1000", Name: "Cash", Type: ledger.AccountAsset},
		{ID: "receivable", Code: "1100", Name: "Accounts Receivable", Type: ledger.AccountAsset},
		{ID: "deferred", Code: "2100", Name: "Deferred Revenue", Type: ledger.AccountLiability},
		{ID: "equity", Code: "3000", Name: "Retained Earnings", Type: ledger.AccountEquity},
		{ID: "revenue", Code: "4000", Name: "Revenue", Type: ledger.AccountRevenue},
		{ID: "expense", Code: "5000", Name: "Operating Expense", Type: ledger.AccountExpense},
	}
	for _, a := range accounts {
		a.TenantID = testTenant
		a.Active = true
		require.NoError(t, m.SaveAccount(ctx, a))
	}
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func march(day int) time.Time {
	return time.Date(2025, time.March, day, 0, 0, 0, 0, time.UTC)
}

// cashSale is a balanced two-line posting: debit cash, credit revenue.
func cashSale(date time.Time, amount, key string) ledger.Transaction {
	return ledger.Transaction{
		TenantID:       testTenant,
		Type:           ledger.TxPayment,
		Date:           date,
		Description:    "cash sale",
		IdempotencyKey: key,
		Lines: []ledger.Line{
			{AccountID: "cash", Debit: amt(amount)},
			{AccountID: "revenue", Credit: amt(amount)},
		},
	}
}

// =============================================================================
// POSTING TESTS
// =============================================================================

func TestPost_BalancedTransaction_Appends(t *testing.T) {
	// GIVEN: A balanced $1000 cash sale
	// WHEN: Posting it
	// THEN: It is durably appended with a sequence number and POSTED status

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	ctx := context.Background()

	txID, err := lgr.Post(ctx, cashSale(march(10), "1000.00", "sale-1"))
	require.NoError(t, err)
	require.NotEmpty(t, txID)

	txs, err := lgr.Transactions(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, txID, txs[0].ID)
	assert.Equal(t, ledger.StatusPosted, txs[0].Status)
	assert.Equal(t, int64(1), txs[0].Seq)
	assert.Equal(t, ledger.PeriodID("2025-03"), txs[0].PeriodID)
	assert.True(t, txs[0].Balanced())
}

func TestPost_Unbalanced_RejectedBeforeWrite(t *testing.T) {
	// GIVEN: Debits of $1000 against credits of $900
	// WHEN: Posting
	// THEN: Rejected with UnbalancedTransactionError; nothing is written

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	ctx := context.Background()

	_, err := lgr.Post(ctx, ledger.Transaction{
		TenantID: testTenant,
		Date:     march(10),
		Lines: []ledger.Line{
			{AccountID: "cash", Debit: amt("1000.00")},
			{AccountID: "revenue", Credit: amt("900.00")},
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrUnbalancedTransaction)
	var ubErr *ledger.UnbalancedTransactionError
	require.ErrorAs(t, err, &ubErr)
	assert.Equal(t, "1000", ubErr.Debits)
	assert.Equal(t, "900", ubErr.Credits)

	txs, err := lgr.Transactions(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, txs, "rejected posting must leave no trace")
}

func TestPost_SingleLine_Rejected(t *testing.T) {
	// GIVEN: A transaction with only one line
	// WHEN: Posting
	// THEN: Rejected with ErrInvalidLine

	lgr := ledger.NewLedger(newTestStore(t))

	_, err := lgr.Post(context.Background(), ledger.Transaction{
		TenantID: testTenant,
		Date:     march(10),
		Lines:    []ledger.Line{{AccountID: "cash", Debit: amt("100")}},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidLine)
}

func TestPost_LineWithBothSides_Rejected(t *testing.T) {
	// GIVEN: A line carrying both a debit and a credit
	// WHEN: Posting
	// THEN: Rejected with ErrInvalidLine

	lgr := ledger.NewLedger(newTestStore(t))

	_, err := lgr.Post(context.Background(), ledger.Transaction{
		TenantID: testTenant,
		Date:     march(10),
		Lines: []ledger.Line{
			{AccountID: "cash", Debit: amt("100"), Credit: amt("100")},
			{AccountID: "revenue", Credit: amt("0")},
		},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidLine)
}

func TestPost_NegativeAmount_Rejected(t *testing.T) {
	// GIVEN: A line with a negative debit
	// WHEN: Posting
	// THEN: Rejected with ErrInvalidLine (sign flips are not how reversals work)

	lgr := ledger.NewLedger(newTestStore(t))

	_, err := lgr.Post(context.Background(), ledger.Transaction{
		TenantID: testTenant,
		Date:     march(10),
		Lines: []ledger.Line{
			{AccountID: "cash", Debit: amt("-100")},
			{AccountID: "revenue", Credit: amt("-100")},
		},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidLine)
}

func TestPost_UnknownAccount_Rejected(t *testing.T) {
	// GIVEN: A line referencing an account that does not exist
	// WHEN: Posting
	// THEN: Rejected with InvalidAccountError

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	ctx := context.Background()

	_, err := lgr.Post(ctx, ledger.Transaction{
		TenantID: testTenant,
		Date:     march(10),
		Lines: []ledger.Line{
			{AccountID: "nonexistent", Debit: amt("100")},
			{AccountID: "revenue", Credit: amt("100")},
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidAccount)
	var accErr *ledger.InvalidAccountError
	require.ErrorAs(t, err, &accErr)
	assert.Equal(t, ledger.AccountID("nonexistent"), accErr.AccountID)

	txs, _ := lgr.Transactions(ctx, testTenant)
	assert.Empty(t, txs)
}

func TestPost_InactiveAccount_Rejected(t *testing.T) {
	// GIVEN: A deactivated account
	// WHEN: Posting against it
	// THEN: Rejected with InvalidAccountError "inactive"

	m := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, m.SaveAccount(ctx, ledger.Account{
		ID: "dormant", TenantID: testTenant, Code: "1900", Name: "Dormant", Type: ledger.AccountAsset, Active: false,
	}))

	lgr := ledger.NewLedger(m)
	_, err := lgr.Post(ctx, ledger.Transaction{
		TenantID: testTenant,
		Date:     march(10),
		Lines: []ledger.Line{
			{AccountID: "dormant", Debit: amt("100")},
			{AccountID: "revenue", Credit: amt("100")},
		},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAccount)
}

func TestPost_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	// GIVEN: A posted transaction with idempotency key "sale-1"
	// WHEN: Posting a second transaction with the same key
	// THEN: The store rejects the duplicate

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	ctx := context.Background()

	_, err := lgr.Post(ctx, cashSale(march(10), "1000.00", "sale-1"))
	require.NoError(t, err)

	_, err = lgr.Post(ctx, cashSale(march(11), "2000.00", "sale-1"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	txs, _ := lgr.Transactions(ctx, testTenant)
	assert.Len(t, txs, 1)
}

// =============================================================================
// PERIOD LOCK ENFORCEMENT
// =============================================================================

func TestPost_HardLockedPeriod_Rejected(t *testing.T) {
	// GIVEN: March 2025 is HARD_LOCKED
	// WHEN: Posting a transaction dated inside March
	// THEN: Rejected with PeriodLockedError and no lines are written

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()

	_, err := lgr.Post(ctx, cashSale(march(5), "1000.00", "sale-1"))
	require.NoError(t, err)

	require.NoError(t, pm.Lock(ctx, testTenant, "2025-03", "closing the quarter", "cfo"))

	before, err := m.CountLines(ctx, testTenant, "2025-03")
	require.NoError(t, err)

	_, err = lgr.Post(ctx, cashSale(march(20), "500.00", "sale-2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrPeriodLocked)

	var lockErr *ledger.PeriodLockedError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, ledger.PeriodID("2025-03"), lockErr.PeriodID)
	assert.Equal(t, ledger.PeriodHardLocked, lockErr.State)

	after, err := m.CountLines(ctx, testTenant, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, before, after, "locked period must gain no lines")
}

func TestPost_SoftClosedPeriod_StillAccepts(t *testing.T) {
	// GIVEN: March 2025 is SOFT_CLOSED
	// WHEN: Posting a late adjustment dated inside March
	// THEN: The posting succeeds (soft close flags, it does not forbid)

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()

	_, err := lgr.Post(ctx, cashSale(march(5), "1000.00", "sale-1"))
	require.NoError(t, err)
	require.NoError(t, pm.SoftClose(ctx, testTenant, "2025-03", "month-end review", "controller"))

	_, err = lgr.Post(ctx, cashSale(march(28), "250.00", "late-adjustment"))
	assert.NoError(t, err)
}

func TestPost_OtherPeriodUnaffectedByLock(t *testing.T) {
	// GIVEN: March locked, April untouched
	// WHEN: Posting dated April
	// THEN: Accepted; the lock binds only its own month

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()

	_, err := lgr.Post(ctx, cashSale(march(5), "1000.00", "sale-1"))
	require.NoError(t, err)
	require.NoError(t, pm.Lock(ctx, testTenant, "2025-03", "closed", "cfo"))

	_, err = lgr.Post(ctx, cashSale(time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC), "500.00", "sale-2"))
	assert.NoError(t, err)
}

// =============================================================================
// VOID / REVERSAL TESTS
// =============================================================================

func TestVoid_MarksOriginalAndAppendsReversal(t *testing.T) {
	// GIVEN: A posted $1000 sale
	// WHEN: Voiding it
	// THEN: The original is VOID, a reversing record with swapped lines
	//       exists, and replay no longer sees the transaction

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	ctx := context.Background()

	txID, err := lgr.Post(ctx, cashSale(march(10), "1000.00", "sale-1"))
	require.NoError(t, err)

	reversalID, err := lgr.Void(ctx, testTenant, txID, "controller", "posted in error")
	require.NoError(t, err)
	require.NotEmpty(t, reversalID)

	original, err := m.GetTransaction(ctx, testTenant, txID)
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.Equal(t, ledger.StatusVoid, original.Status)

	reversal, err := m.GetTransaction(ctx, testTenant, reversalID)
	require.NoError(t, err)
	require.NotNil(t, reversal)
	assert.Equal(t, ledger.StatusVoid, reversal.Status)
	assert.Equal(t, string(txID), reversal.ReferenceID)
	assert.Equal(t, original.Date, reversal.Date, "reversal lands in the original's period")
	// Lines are swapped: the reversal credits what the original debited.
	require.Len(t, reversal.Lines, 2)
	assert.True(t, reversal.Lines[0].Credit.Equal(amt("1000.00")))
	assert.True(t, reversal.Lines[1].Debit.Equal(amt("1000.00")))

	// Replay (LoadPosted) sees neither the voided original nor the reversal.
	txs, err := lgr.Transactions(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestVoid_IsAudited(t *testing.T) {
	// GIVEN: A posted sale
	// WHEN: Voiding it
	// THEN: A transaction_voided audit event is in the chain

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	ctx := context.Background()

	txID, err := lgr.Post(ctx, cashSale(march(10), "1000.00", "sale-1"))
	require.NoError(t, err)
	_, err = lgr.Void(ctx, testTenant, txID, "controller", "posted in error")
	require.NoError(t, err)

	events, err := m.Events(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ledger.AuditTransactionVoided, events[0].Type)
	assert.Equal(t, string(txID), events[0].Payload["transaction"])
	assert.Equal(t, "controller", events[0].Payload["actor"])
}

func TestVoid_Twice_Rejected(t *testing.T) {
	// GIVEN: An already-voided transaction
	// WHEN: Voiding it again
	// THEN: Rejected with ErrAlreadyVoid; no second reversal appears

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	ctx := context.Background()

	txID, err := lgr.Post(ctx, cashSale(march(10), "1000.00", "sale-1"))
	require.NoError(t, err)
	_, err = lgr.Void(ctx, testTenant, txID, "controller", "first")
	require.NoError(t, err)

	_, err = lgr.Void(ctx, testTenant, txID, "controller", "second")
	assert.ErrorIs(t, err, ledger.ErrAlreadyVoid)
}

func TestVoid_UnknownTransaction_Rejected(t *testing.T) {
	lgr := ledger.NewLedger(newTestStore(t))

	_, err := lgr.Void(context.Background(), testTenant, "no-such-tx", "controller", "oops")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestVoid_HardLockedPeriod_Rejected(t *testing.T) {
	// GIVEN: A sale posted in March, then March HARD_LOCKED
	// WHEN: Voiding the sale
	// THEN: Rejected; corrections to locked periods need a reopen decision,
	//       not a back-door write

	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()

	txID, err := lgr.Post(ctx, cashSale(march(10), "1000.00", "sale-1"))
	require.NoError(t, err)
	require.NoError(t, pm.Lock(ctx, testTenant, "2025-03", "closed", "cfo"))

	_, err = lgr.Void(ctx, testTenant, txID, "controller", "too late")
	assert.ErrorIs(t, err, ledger.ErrPeriodLocked)

	original, _ := m.GetTransaction(ctx, testTenant, txID)
	assert.Equal(t, ledger.StatusPosted, original.Status, "failed void must not mark the original")
}

// =============================================================================
// TENANT ISOLATION
// =============================================================================

func TestPost_TenantsAreIsolated(t *testing.T) {
	// GIVEN: Two tenants with their own charts
	// WHEN: One tenant posts
	// THEN: The other tenant's ledger stays empty

	m := newTestStore(t)
	ctx := context.Background()
	other := ledger.TenantID("tenant-2")
	for _, a := range []ledger.Account{
		{ID: "cash", TenantID: other, Code: "1000", Name: "Cash", Type: ledger.AccountAsset, Active: true},
		{ID: "revenue", TenantID: other, Code: "4000", Name: "Revenue", Type: ledger.AccountRevenue, Active: true},
	} {
		require.NoError(t, m.SaveAccount(ctx, a))
	}

	lgr := ledger.NewLedger(m)
	_, err := lgr.Post(ctx, cashSale(march(10), "1000.00", "sale-1"))
	require.NoError(t, err)

	txs, err := lgr.Transactions(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, txs)
}
