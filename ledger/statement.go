/*
statement.go - Trial balance and financial statement derivation

PURPOSE:
  Replays posted (non-void) lines to compute opening/period/closing
  balances and derives the income statement, balance sheet, and cash-flow
  views. Cached balance columns are NEVER read as source of truth.

SNAPSHOT CONSISTENCY:
  Every build captures the tenant's max sequence number first and replays
  only lines at or below it. Builders may run concurrently with posting;
  two replays of the same (range, AsOfSeq) snapshot always agree.

DETERMINISM:
  - Replay iterates in sequence order (insertion order)
  - Output rows are sorted by account code, then id
  - Amounts are rendered as fixed decimal strings
  - IntegrityHash = SHA-256 over the RFC 8785 canonical JSON of the output

SIGN CONVENTION:
  Balances are natural-signed: debit-normal accounts (asset, expense) are
  positive when debited; credit-normal accounts (liability, equity,
  revenue) are positive when credited. A $1000 debit to Cash and credit to
  Revenue shows +1000 on both rows.

SYNTHETIC NET INCOME:
  If revenue/expense accounts were not explicitly closed to equity, the
  balance sheet includes one synthetic net-income equity line: the
  cumulative net income over ALL posted activity up to the cutoff,
  accumulated in ledger sequence order. One line regardless of how many
  open periods contribute; this is the documented tie-break.

SEE ALSO:
  - ledger.go: What gets replayed
  - audit.go: Statement generation and integrity violations are audited
*/
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"
)

// =============================================================================
// OUTPUT TYPES - Derived, never hand-edited
// =============================================================================

// AccountBalance is one output row. Amount is a natural-signed decimal
// string so the hashed representation is exact and canonical.
type AccountBalance struct {
	AccountID AccountID   `json:"account_id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Amount    string      `json:"amount"`
}

type TrialBalance struct {
	TenantID    TenantID  `json:"tenant_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// AsOfSeq pins the replay snapshot. Rebuilding with the same AsOfSeq
	// must reproduce IntegrityHash byte-for-byte.
	AsOfSeq int64 `json:"as_of_seq"`

	OpeningBalances []AccountBalance `json:"opening_balances"`
	PeriodActivity  []AccountBalance `json:"period_activity"`
	ClosingBalances []AccountBalance `json:"closing_balances"`

	IntegrityHash string `json:"integrity_hash"`
}

type IncomeStatement struct {
	TenantID    TenantID  `json:"tenant_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	AsOfSeq     int64     `json:"as_of_seq"`

	Revenue  []AccountBalance `json:"revenue"`
	Expenses []AccountBalance `json:"expenses"`

	TotalRevenue  string `json:"total_revenue"`
	TotalExpenses string `json:"total_expenses"`
	NetIncome     string `json:"net_income"`

	IntegrityHash string `json:"integrity_hash"`
}

type BalanceSheet struct {
	TenantID TenantID  `json:"tenant_id"`
	AsOf     time.Time `json:"as_of"`
	AsOfSeq  int64     `json:"as_of_seq"`

	Assets      []AccountBalance `json:"assets"`
	Liabilities []AccountBalance `json:"liabilities"`
	Equity      []AccountBalance `json:"equity"`

	// SyntheticNetIncome is the single folded equity line for unclosed
	// revenue/expense activity. Empty string when zero.
	SyntheticNetIncome string `json:"synthetic_net_income"`

	TotalAssets               string `json:"total_assets"`
	TotalLiabilitiesAndEquity string `json:"total_liabilities_and_equity"`

	IntegrityHash string `json:"integrity_hash"`
}

type CashFlowStatement struct {
	TenantID    TenantID  `json:"tenant_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	AsOfSeq     int64     `json:"as_of_seq"`

	// Direct method: postings touching the configured cash accounts.
	CashAccounts []AccountID `json:"cash_accounts"`
	Inflows      string      `json:"inflows"`
	Outflows     string      `json:"outflows"`
	NetChange    string      `json:"net_change"`

	// Indirect method approximation from net income.
	NetIncome          string `json:"net_income"`
	NonCashAdjustments string `json:"non_cash_adjustments"`

	IntegrityHash string `json:"integrity_hash"`
}

// Statements bundles the three derived views over one period range.
type Statements struct {
	Income   IncomeStatement   `json:"income_statement"`
	Balance  BalanceSheet      `json:"balance_sheet"`
	CashFlow CashFlowStatement `json:"cash_flow"`
}

// =============================================================================
// STATEMENT BUILDER
// =============================================================================

type StatementBuilder struct {
	Store Store
	Audit AuditLog // optional; generation and violations are audited when set

	// CashAccounts configures the direct-method cash flow scope.
	CashAccounts []AccountID
}

func NewStatementBuilder(store Store, audit AuditLog) *StatementBuilder {
	return &StatementBuilder{Store: store, Audit: audit}
}

// BuildTrialBalance replays the ledger up to a freshly captured snapshot.
func (sb *StatementBuilder) BuildTrialBalance(ctx context.Context, tenantID TenantID, start, end time.Time) (*TrialBalance, error) {
	maxSeq, err := sb.Store.MaxSeq(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tb, err := sb.buildTrialBalanceAt(ctx, tenantID, start, end, maxSeq)
	if err != nil {
		return nil, err
	}
	sb.auditGenerated(ctx, tenantID, "trial_balance", tb.IntegrityHash, maxSeq)
	return tb, nil
}

// VerifyTrialBalance rebuilds the same snapshot and compares hashes.
// A mismatch is fatal: it is audited and returned as ReplayIntegrityError,
// never silently reconciled.
func (sb *StatementBuilder) VerifyTrialBalance(ctx context.Context, published *TrialBalance) error {
	rebuilt, err := sb.buildTrialBalanceAt(ctx, published.TenantID, published.PeriodStart, published.PeriodEnd, published.AsOfSeq)
	if err != nil {
		return err
	}
	if rebuilt.IntegrityHash != published.IntegrityHash {
		verr := &ReplayIntegrityError{
			TenantID: published.TenantID,
			Kind:     "trial_balance",
			Want:     published.IntegrityHash,
			Got:      rebuilt.IntegrityHash,
		}
		if sb.Audit != nil {
			_, _ = sb.Audit.AppendEvent(ctx, AuditEvent{
				TenantID:      published.TenantID,
				CorrelationID: published.IntegrityHash,
				Type:          AuditIntegrityViolation,
				Payload: map[string]string{
					"kind": "trial_balance",
					"want": published.IntegrityHash,
					"got":  rebuilt.IntegrityHash,
				},
			})
		}
		return verr
	}
	return nil
}

// BuildStatements derives the three statements from one consistent snapshot.
func (sb *StatementBuilder) BuildStatements(ctx context.Context, tenantID TenantID, start, end time.Time) (*Statements, error) {
	maxSeq, err := sb.Store.MaxSeq(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	rep, err := sb.replay(ctx, tenantID, maxSeq)
	if err != nil {
		return nil, err
	}

	income := sb.incomeStatement(rep, tenantID, start, end, maxSeq)
	balance := sb.balanceSheet(rep, tenantID, end, maxSeq)
	cash := sb.cashFlow(rep, tenantID, start, end, maxSeq, income.NetIncome)

	out := &Statements{Income: income, Balance: balance, CashFlow: cash}
	sb.auditGenerated(ctx, tenantID, "statements", income.IntegrityHash+","+balance.IntegrityHash+","+cash.IntegrityHash, maxSeq)
	return out, nil
}

func (sb *StatementBuilder) auditGenerated(ctx context.Context, tenantID TenantID, kind, hash string, maxSeq int64) {
	if sb.Audit == nil {
		return
	}
	_, _ = sb.Audit.AppendEvent(ctx, AuditEvent{
		TenantID:      tenantID,
		CorrelationID: hash,
		Type:          AuditStatementGenerated,
		Payload: map[string]string{
			"kind":      kind,
			"hash":      hash,
			"as_of_seq": decimal.NewFromInt(maxSeq).String(),
		},
	})
}

// =============================================================================
// REPLAY
// =============================================================================

// replayState is the full replay of one snapshot: every posted line folded
// into per-account running positions, in sequence order.
type replayState struct {
	accounts map[AccountID]Account
	lines    []replayLine
}

type replayLine struct {
	date    time.Time
	account AccountID
	delta   decimal.Decimal // debit-positive
}

func (sb *StatementBuilder) replay(ctx context.Context, tenantID TenantID, maxSeq int64) (*replayState, error) {
	accounts, err := sb.Store.ListAccounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byID := make(map[AccountID]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	txs, err := sb.Store.LoadPosted(ctx, tenantID, maxSeq)
	if err != nil {
		return nil, err
	}

	rep := &replayState{accounts: byID}
	for _, tx := range txs {
		for _, l := range tx.Lines {
			rep.lines = append(rep.lines, replayLine{
				date:    tx.Date,
				account: l.AccountID,
				delta:   l.Delta(),
			})
		}
	}
	return rep, nil
}

// accumulate sums natural-signed deltas per account over lines matching the
// filter, in replay order.
func (rep *replayState) accumulate(filter func(replayLine) bool) map[AccountID]decimal.Decimal {
	sums := make(map[AccountID]decimal.Decimal)
	for _, l := range rep.lines {
		if !filter(l) {
			continue
		}
		account, ok := rep.accounts[l.account]
		if !ok {
			continue
		}
		sums[l.account] = sums[l.account].Add(naturalSigned(account.Type, l.delta))
	}
	return sums
}

// naturalSigned converts a debit-positive delta into the account's natural
// sign: debits increase assets/expenses, credits increase the rest.
func naturalSigned(t AccountType, delta decimal.Decimal) decimal.Decimal {
	switch t {
	case AccountAsset, AccountExpense:
		return delta
	case AccountLiability, AccountEquity, AccountRevenue:
		return delta.Neg()
	}
	return delta
}

// rows converts a sum map into sorted, rendered output rows. Zero rows for
// untouched accounts are omitted; an explicit zero (activity that nets out)
// is kept so the row count itself is deterministic.
func (rep *replayState) rows(sums map[AccountID]decimal.Decimal) []AccountBalance {
	out := make([]AccountBalance, 0, len(sums))
	for id, amount := range sums {
		account := rep.accounts[id]
		out = append(out, AccountBalance{
			AccountID: id,
			Code:      account.Code,
			Name:      account.Name,
			Type:      account.Type,
			Amount:    amount.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

func sumRows(rows []AccountBalance) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(decimal.RequireFromString(r.Amount))
	}
	return total
}

// =============================================================================
// TRIAL BALANCE
// =============================================================================

func (sb *StatementBuilder) buildTrialBalanceAt(ctx context.Context, tenantID TenantID, start, end time.Time, maxSeq int64) (*TrialBalance, error) {
	rep, err := sb.replay(ctx, tenantID, maxSeq)
	if err != nil {
		return nil, err
	}

	opening := rep.accumulate(func(l replayLine) bool { return l.date.Before(start) })
	activity := rep.accumulate(func(l replayLine) bool {
		return !l.date.Before(start) && !l.date.After(end)
	})

	closing := make(map[AccountID]decimal.Decimal, len(opening)+len(activity))
	for id, v := range opening {
		closing[id] = v
	}
	for id, v := range activity {
		closing[id] = closing[id].Add(v)
	}

	tb := &TrialBalance{
		TenantID:        tenantID,
		PeriodStart:     start,
		PeriodEnd:       end,
		AsOfSeq:         maxSeq,
		OpeningBalances: rep.rows(opening),
		PeriodActivity:  rep.rows(activity),
		ClosingBalances: rep.rows(closing),
	}
	hash, err := integrityHash(trialBalanceDigest(tb))
	if err != nil {
		return nil, err
	}
	tb.IntegrityHash = hash
	return tb, nil
}

// =============================================================================
// STATEMENTS
// =============================================================================

func (sb *StatementBuilder) incomeStatement(rep *replayState, tenantID TenantID, start, end time.Time, maxSeq int64) IncomeStatement {
	activity := rep.accumulate(func(l replayLine) bool {
		return !l.date.Before(start) && !l.date.After(end)
	})

	revenue := make(map[AccountID]decimal.Decimal)
	expenses := make(map[AccountID]decimal.Decimal)
	for id, v := range activity {
		switch rep.accounts[id].Type {
		case AccountRevenue:
			revenue[id] = v
		case AccountExpense:
			expenses[id] = v
		}
	}

	is := IncomeStatement{
		TenantID:    tenantID,
		PeriodStart: start,
		PeriodEnd:   end,
		AsOfSeq:     maxSeq,
		Revenue:     rep.rows(revenue),
		Expenses:    rep.rows(expenses),
	}
	totalRevenue := sumRows(is.Revenue)
	totalExpenses := sumRows(is.Expenses)
	is.TotalRevenue = totalRevenue.String()
	is.TotalExpenses = totalExpenses.String()
	is.NetIncome = totalRevenue.Sub(totalExpenses).String()

	is.IntegrityHash, _ = integrityHash(incomeDigest(&is))
	return is
}

func (sb *StatementBuilder) balanceSheet(rep *replayState, tenantID TenantID, asOf time.Time, maxSeq int64) BalanceSheet {
	closing := rep.accumulate(func(l replayLine) bool { return !l.date.After(asOf) })

	assets := make(map[AccountID]decimal.Decimal)
	liabilities := make(map[AccountID]decimal.Decimal)
	equity := make(map[AccountID]decimal.Decimal)
	netIncome := decimal.Zero

	for id, v := range closing {
		switch rep.accounts[id].Type {
		case AccountAsset:
			assets[id] = v
		case AccountLiability:
			liabilities[id] = v
		case AccountEquity:
			equity[id] = v
		case AccountRevenue, AccountExpense:
			// Unclosed revenue/expense folds into ONE synthetic equity line:
			// cumulative net income over all activity up to the cutoff.
			if rep.accounts[id].Type == AccountRevenue {
				netIncome = netIncome.Add(v)
			} else {
				netIncome = netIncome.Sub(v)
			}
		}
	}

	bs := BalanceSheet{
		TenantID:    tenantID,
		AsOf:        asOf,
		AsOfSeq:     maxSeq,
		Assets:      rep.rows(assets),
		Liabilities: rep.rows(liabilities),
		Equity:      rep.rows(equity),
	}
	if !netIncome.IsZero() {
		bs.SyntheticNetIncome = netIncome.String()
	}

	totalAssets := sumRows(bs.Assets)
	totalLiabEquity := sumRows(bs.Liabilities).Add(sumRows(bs.Equity)).Add(netIncome)
	bs.TotalAssets = totalAssets.String()
	bs.TotalLiabilitiesAndEquity = totalLiabEquity.String()

	bs.IntegrityHash, _ = integrityHash(balanceDigest(&bs))
	return bs
}

func (sb *StatementBuilder) cashFlow(rep *replayState, tenantID TenantID, start, end time.Time, maxSeq int64, netIncome string) CashFlowStatement {
	cashSet := make(map[AccountID]bool, len(sb.CashAccounts))
	for _, id := range sb.CashAccounts {
		cashSet[id] = true
	}

	inflows := decimal.Zero
	outflows := decimal.Zero
	for _, l := range rep.lines {
		if !cashSet[l.account] || l.date.Before(start) || l.date.After(end) {
			continue
		}
		if l.delta.IsPositive() {
			inflows = inflows.Add(l.delta)
		} else {
			outflows = outflows.Add(l.delta.Neg())
		}
	}
	netChange := inflows.Sub(outflows)

	cf := CashFlowStatement{
		TenantID:     tenantID,
		PeriodStart:  start,
		PeriodEnd:    end,
		AsOfSeq:      maxSeq,
		CashAccounts: append([]AccountID(nil), sb.CashAccounts...),
		Inflows:      inflows.String(),
		Outflows:     outflows.String(),
		NetChange:    netChange.String(),
		NetIncome:    netIncome,
	}
	// Indirect approximation: whatever separates net income from the cash
	// movement is treated as net non-cash adjustments.
	ni := decimal.RequireFromString(netIncome)
	cf.NonCashAdjustments = netChange.Sub(ni).String()

	cf.IntegrityHash, _ = integrityHash(cashDigest(&cf))
	return cf
}

// =============================================================================
// INTEGRITY HASHING - RFC 8785 canonical JSON, SHA-256
// =============================================================================

// Digests hold only strings and slices so canonical JSON is exact; dates
// are rendered as UTC RFC 3339, amounts keep decimal.String() exactness.

type tbDigest struct {
	TenantID string           `json:"tenant_id"`
	Start    string           `json:"start"`
	End      string           `json:"end"`
	AsOfSeq  int64            `json:"as_of_seq"`
	Opening  []AccountBalance `json:"opening"`
	Activity []AccountBalance `json:"activity"`
	Closing  []AccountBalance `json:"closing"`
}

func trialBalanceDigest(tb *TrialBalance) any {
	return tbDigest{
		TenantID: string(tb.TenantID),
		Start:    tb.PeriodStart.UTC().Format(time.RFC3339),
		End:      tb.PeriodEnd.UTC().Format(time.RFC3339),
		AsOfSeq:  tb.AsOfSeq,
		Opening:  tb.OpeningBalances,
		Activity: tb.PeriodActivity,
		Closing:  tb.ClosingBalances,
	}
}

type isDigest struct {
	TenantID      string           `json:"tenant_id"`
	Start         string           `json:"start"`
	End           string           `json:"end"`
	AsOfSeq       int64            `json:"as_of_seq"`
	Revenue       []AccountBalance `json:"revenue"`
	Expenses      []AccountBalance `json:"expenses"`
	TotalRevenue  string           `json:"total_revenue"`
	TotalExpenses string           `json:"total_expenses"`
	NetIncome     string           `json:"net_income"`
}

func incomeDigest(is *IncomeStatement) any {
	return isDigest{
		TenantID:      string(is.TenantID),
		Start:         is.PeriodStart.UTC().Format(time.RFC3339),
		End:           is.PeriodEnd.UTC().Format(time.RFC3339),
		AsOfSeq:       is.AsOfSeq,
		Revenue:       is.Revenue,
		Expenses:      is.Expenses,
		TotalRevenue:  is.TotalRevenue,
		TotalExpenses: is.TotalExpenses,
		NetIncome:     is.NetIncome,
	}
}

type bsDigest struct {
	TenantID           string           `json:"tenant_id"`
	AsOf               string           `json:"as_of"`
	AsOfSeq            int64            `json:"as_of_seq"`
	Assets             []AccountBalance `json:"assets"`
	Liabilities        []AccountBalance `json:"liabilities"`
	Equity             []AccountBalance `json:"equity"`
	SyntheticNetIncome string           `json:"synthetic_net_income"`
	TotalAssets        string           `json:"total_assets"`
	TotalLiabEquity    string           `json:"total_liabilities_and_equity"`
}

func balanceDigest(bs *BalanceSheet) any {
	return bsDigest{
		TenantID:           string(bs.TenantID),
		AsOf:               bs.AsOf.UTC().Format(time.RFC3339),
		AsOfSeq:            bs.AsOfSeq,
		Assets:             bs.Assets,
		Liabilities:        bs.Liabilities,
		Equity:             bs.Equity,
		SyntheticNetIncome: bs.SyntheticNetIncome,
		TotalAssets:        bs.TotalAssets,
		TotalLiabEquity:    bs.TotalLiabilitiesAndEquity,
	}
}

type cfDigest struct {
	TenantID           string   `json:"tenant_id"`
	Start              string   `json:"start"`
	End                string   `json:"end"`
	AsOfSeq            int64    `json:"as_of_seq"`
	CashAccounts       []string `json:"cash_accounts"`
	Inflows            string   `json:"inflows"`
	Outflows           string   `json:"outflows"`
	NetChange          string   `json:"net_change"`
	NetIncome          string   `json:"net_income"`
	NonCashAdjustments string   `json:"non_cash_adjustments"`
}

func cashDigest(cf *CashFlowStatement) any {
	cashAccounts := make([]string, 0, len(cf.CashAccounts))
	for _, id := range cf.CashAccounts {
		cashAccounts = append(cashAccounts, string(id))
	}
	return cfDigest{
		TenantID:           string(cf.TenantID),
		Start:              cf.PeriodStart.UTC().Format(time.RFC3339),
		End:                cf.PeriodEnd.UTC().Format(time.RFC3339),
		AsOfSeq:            cf.AsOfSeq,
		CashAccounts:       cashAccounts,
		Inflows:            cf.Inflows,
		Outflows:           cf.Outflows,
		NetChange:          cf.NetChange,
		NetIncome:          cf.NetIncome,
		NonCashAdjustments: cf.NonCashAdjustments,
	}
}

func integrityHash(digest any) (string, error) {
	raw, err := json.Marshal(digest)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
