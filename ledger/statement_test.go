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

// newStatementFixture posts a small two-month history:
//
//	Feb 10  cash sale        $500   (opening activity for March builds)
//	Mar 05  cash sale        $1000
//	Mar 20  expense paid     $400   (debit expense, credit cash)
func newStatementFixture(t *testing.T) (*ledger.StatementBuilder, *store.Memory) {
	t.Helper()
	m := newTestStore(t)
	lgr := ledger.NewLedger(m)
	ctx := context.Background()

	feb10 := time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC)
	_, err := lgr.Post(ctx, cashSale(feb10, "500.00", "feb-sale"))
	require.NoError(t, err)

	_, err = lgr.Post(ctx, cashSale(march(5), "1000.00", "mar-sale"))
	require.NoError(t, err)

	_, err = lgr.Post(ctx, ledger.Transaction{
		TenantID:       testTenant,
		Type:           ledger.TxExpense,
		Date:           march(20),
		Description:    "office supplies",
		IdempotencyKey: "mar-expense",
		Lines: []ledger.Line{
			{AccountID: "expense", Debit: amt("400.00")},
			{AccountID: "cash", Credit: amt("400.00")},
		},
	})
	require.NoError(t, err)

	sb := ledger.NewStatementBuilder(m, m)
	sb.CashAccounts = []ledger.AccountID{"cash"}
	return sb, m
}

func marchRange() (time.Time, time.Time) {
	p := ledger.PeriodFor(testTenant, march(1))
	return p.Start, p.End
}

func rowAmount(t *testing.T, rows []ledger.AccountBalance, id ledger.AccountID) decimal.Decimal {
	t.Helper()
	for _, r := range rows {
		if r.AccountID == id {
			return decimal.RequireFromString(r.Amount)
		}
	}
	t.Fatalf("no row for account %s", id)
	return decimal.Zero
}

// =============================================================================
// TRIAL BALANCE
// =============================================================================

func TestTrialBalance_NaturalSignedColumns(t *testing.T) {
	// GIVEN: The two-month fixture
	// WHEN: Building the March trial balance
	// THEN: Opening carries February, activity carries March, closing sums
	//       both; all amounts natural-signed

	sb, _ := newStatementFixture(t)
	start, end := marchRange()

	tb, err := sb.BuildTrialBalance(context.Background(), testTenant, start, end)
	require.NoError(t, err)

	// Opening: Feb's $500 sale.
	assert.True(t, rowAmount(t, tb.OpeningBalances, "cash").Equal(amt("500")))
	assert.True(t, rowAmount(t, tb.OpeningBalances, "revenue").Equal(amt("500")))

	// Activity: +1000 sale, -400 expense payment on cash.
	assert.True(t, rowAmount(t, tb.PeriodActivity, "cash").Equal(amt("600")))
	assert.True(t, rowAmount(t, tb.PeriodActivity, "revenue").Equal(amt("1000")))
	assert.True(t, rowAmount(t, tb.PeriodActivity, "expense").Equal(amt("400")))

	// Closing = opening + activity.
	assert.True(t, rowAmount(t, tb.ClosingBalances, "cash").Equal(amt("1100")))
	assert.True(t, rowAmount(t, tb.ClosingBalances, "revenue").Equal(amt("1500")))
	assert.True(t, rowAmount(t, tb.ClosingBalances, "expense").Equal(amt("400")))

	// Double-entry closes: debit-normal closing == credit-normal closing.
	debitNormal := rowAmount(t, tb.ClosingBalances, "cash").Add(rowAmount(t, tb.ClosingBalances, "expense"))
	creditNormal := rowAmount(t, tb.ClosingBalances, "revenue")
	assert.True(t, debitNormal.Equal(creditNormal), "trial balance must balance")
}

func TestTrialBalance_DeterministicHash(t *testing.T) {
	// GIVEN: One published trial balance
	// WHEN: Rebuilding the identical snapshot
	// THEN: The integrity hash reproduces byte-for-byte

	sb, _ := newStatementFixture(t)
	start, end := marchRange()
	ctx := context.Background()

	first, err := sb.BuildTrialBalance(ctx, testTenant, start, end)
	require.NoError(t, err)
	require.NotEmpty(t, first.IntegrityHash)

	second, err := sb.BuildTrialBalance(ctx, testTenant, start, end)
	require.NoError(t, err)

	assert.Equal(t, first.IntegrityHash, second.IntegrityHash)
	assert.NoError(t, sb.VerifyTrialBalance(ctx, first))
}

func TestTrialBalance_SnapshotSurvivesLaterPostings(t *testing.T) {
	// GIVEN: A published trial balance pinned at AsOfSeq
	// WHEN: More transactions land afterwards
	// THEN: Verification still passes; the snapshot replays the old cutoff

	sb, m := newStatementFixture(t)
	start, end := marchRange()
	ctx := context.Background()

	published, err := sb.BuildTrialBalance(ctx, testTenant, start, end)
	require.NoError(t, err)

	lgr := ledger.NewLedger(m)
	_, err = lgr.Post(ctx, cashSale(march(25), "9999.00", "late-sale"))
	require.NoError(t, err)

	assert.NoError(t, sb.VerifyTrialBalance(ctx, published))

	// A fresh build sees the new posting and hashes differently.
	fresh, err := sb.BuildTrialBalance(ctx, testTenant, start, end)
	require.NoError(t, err)
	assert.NotEqual(t, published.IntegrityHash, fresh.IntegrityHash)
	assert.Greater(t, fresh.AsOfSeq, published.AsOfSeq)
}

func TestTrialBalance_Verify_DetectsTampering(t *testing.T) {
	// GIVEN: A published trial balance with a doctored hash
	// WHEN: Verifying
	// THEN: ReplayIntegrityError, and an integrity_violation audit event

	sb, m := newStatementFixture(t)
	start, end := marchRange()
	ctx := context.Background()

	published, err := sb.BuildTrialBalance(ctx, testTenant, start, end)
	require.NoError(t, err)
	published.IntegrityHash = "deadbeef" + published.IntegrityHash[8:]

	err = sb.VerifyTrialBalance(ctx, published)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrReplayIntegrity)
	var intErr *ledger.ReplayIntegrityError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "trial_balance", intErr.Kind)

	events, err := m.Events(ctx, testTenant)
	require.NoError(t, err)
	var found bool
	for _, ev := range events {
		if ev.Type == ledger.AuditIntegrityViolation {
			found = true
		}
	}
	assert.True(t, found, "integrity violations must be audited")
}

func TestTrialBalance_VoidedTransactionsExcluded(t *testing.T) {
	// GIVEN: The fixture with the March sale voided
	// WHEN: Building the trial balance
	// THEN: Replay skips the voided transaction entirely

	sb, m := newStatementFixture(t)
	start, end := marchRange()
	ctx := context.Background()

	lgr := ledger.NewLedger(m)
	txs, err := lgr.Transactions(ctx, testTenant)
	require.NoError(t, err)
	var marchSale ledger.TransactionID
	for _, tx := range txs {
		if tx.Description == "cash sale" && tx.Date.Month() == time.March {
			marchSale = tx.ID
		}
	}
	require.NotEmpty(t, marchSale)
	_, err = lgr.Void(ctx, testTenant, marchSale, "controller", "test void")
	require.NoError(t, err)

	tb, err := sb.BuildTrialBalance(ctx, testTenant, start, end)
	require.NoError(t, err)
	for _, r := range tb.PeriodActivity {
		assert.NotEqual(t, ledger.AccountID("revenue"), r.AccountID,
			"voided sale must not contribute revenue activity")
	}
	assert.True(t, rowAmount(t, tb.ClosingBalances, "cash").Equal(amt("100")))
}

// =============================================================================
// STATEMENTS
// =============================================================================

func TestStatements_IncomeStatement(t *testing.T) {
	// GIVEN: The fixture
	// WHEN: Building March statements
	// THEN: Revenue $1000, expenses $400, net income $600

	sb, _ := newStatementFixture(t)
	start, end := marchRange()

	out, err := sb.BuildStatements(context.Background(), testTenant, start, end)
	require.NoError(t, err)

	is := out.Income
	assert.Equal(t, "1000", is.TotalRevenue)
	assert.Equal(t, "400", is.TotalExpenses)
	assert.Equal(t, "600", is.NetIncome)
	assert.NotEmpty(t, is.IntegrityHash)
}

func TestStatements_BalanceSheetBalancesViaSyntheticNetIncome(t *testing.T) {
	// GIVEN: Revenue and expenses never closed to equity
	// WHEN: Building the balance sheet
	// THEN: One synthetic net-income line makes assets equal liabilities+equity

	sb, _ := newStatementFixture(t)
	start, end := marchRange()

	out, err := sb.BuildStatements(context.Background(), testTenant, start, end)
	require.NoError(t, err)

	bs := out.Balance
	// Cumulative through March: cash 500+1000-400 = 1100.
	assert.Equal(t, "1100", bs.TotalAssets)
	assert.Equal(t, bs.TotalAssets, bs.TotalLiabilitiesAndEquity, "balance sheet must balance")
	// All net income (1500 revenue - 400 expense) is unclosed.
	assert.Equal(t, "1100", bs.SyntheticNetIncome)
}

func TestStatements_CashFlowDirectMethod(t *testing.T) {
	// GIVEN: Cash configured as the only cash account
	// WHEN: Building March statements
	// THEN: Inflows $1000, outflows $400, net change $600

	sb, _ := newStatementFixture(t)
	start, end := marchRange()

	out, err := sb.BuildStatements(context.Background(), testTenant, start, end)
	require.NoError(t, err)

	cf := out.CashFlow
	assert.Equal(t, "1000", cf.Inflows)
	assert.Equal(t, "400", cf.Outflows)
	assert.Equal(t, "600", cf.NetChange)
	assert.Equal(t, "600", cf.NetIncome)
	assert.Equal(t, "0", cf.NonCashAdjustments)
}

func TestStatements_GenerationIsAudited(t *testing.T) {
	// GIVEN: The fixture
	// WHEN: Building a trial balance and statements
	// THEN: statement_generated events land in the audit chain

	sb, m := newStatementFixture(t)
	start, end := marchRange()
	ctx := context.Background()

	_, err := sb.BuildTrialBalance(ctx, testTenant, start, end)
	require.NoError(t, err)
	_, err = sb.BuildStatements(ctx, testTenant, start, end)
	require.NoError(t, err)

	events, err := m.Events(ctx, testTenant)
	require.NoError(t, err)
	var generated int
	for _, ev := range events {
		if ev.Type == ledger.AuditStatementGenerated {
			generated++
		}
	}
	assert.Equal(t, 2, generated)
}
