/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (ledger.TxStore, ledger.AuditLog,
  ledger.IdempotencyStore, recognition.ScheduleStore) using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The Store enforces append-only semantics:
  - No UPDATE statements touch ledger lines, ever
  - No DELETE statements on transactions, lines, or audit_events
  - MarkVoid flips the status column on the transaction header only
  - Corrections via reversal transactions (ledger.Void)

SEQUENCING:
  transactions.seq is INTEGER PRIMARY KEY AUTOINCREMENT, so SQLite assigns
  the monotonically increasing sequence at insert and never reuses one.
  Replay order is ORDER BY seq.

KEY TABLES:
  transactions:        Immutable headers of the append-only ledger
  lines:               Debit/credit lines, immutable once inserted
  accounts:            Chart of accounts (per tenant)
  periods:             Accounting periods with lock state
  idempotency_records: Write-gateway coordination rows
  audit_events:        Hash-chained audit trail
  schedules:           Revenue recognition schedules (events as JSON)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  lgr := &ledger.DefaultLedger{Store: store}

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/recognition"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset wipes all data. Demo/test use only; production ledgers are
// append-only and never reset.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"lines", "transactions", "periods", "accounts", "idempotency_records", "audit_events", "schedules"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("reset %s: %w", t, err)
		}
	}
	// Restart the transaction sequence for a clean demo timeline.
	_, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = 'transactions'")
	return err
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (chart of accounts, per tenant)
	CREATE TABLE IF NOT EXISTS accounts (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		account_type TEXT NOT NULL,
		parent_id TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_tenant_code
		ON accounts(tenant_id, code);

	-- Accounting periods (lock state machine)
	CREATE TABLE IF NOT EXISTS periods (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'OPEN',
		PRIMARY KEY (tenant_id, id)
	);

	-- Transaction headers (append-only ledger)
	-- seq is the replay/determinism anchor: assigned at insert, never reused.
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_tenant_seq
		ON transactions(tenant_id, seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_tenant_period
		ON transactions(tenant_id, period_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	-- Ledger lines (immutable; no UPDATE or DELETE anywhere in this package)
	CREATE TABLE IF NOT EXISTS lines (
		transaction_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		debit TEXT NOT NULL,
		credit TEXT NOT NULL,
		memo TEXT,
		PRIMARY KEY (transaction_id, line_no)
	);

	CREATE INDEX IF NOT EXISTS idx_lines_account
		ON lines(account_id);

	-- Idempotency records (write-gateway coordination)
	CREATE TABLE IF NOT EXISTS idempotency_records (
		key TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		status TEXT NOT NULL,
		result TEXT,
		last_error TEXT,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_tenant
		ON idempotency_records(tenant_id);

	-- Audit events (hash-chained, append-only)
	CREATE TABLE IF NOT EXISTS audit_events (
		idx INTEGER PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		correlation_id TEXT,
		event_type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		at TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_tenant
		ON audit_events(tenant_id, idx);

	-- Recognition schedules (events as JSON; superseded, never deleted)
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		total TEXT NOT NULL,
		method TEXT NOT NULL,
		deferred_account TEXT NOT NULL,
		revenue_account TEXT NOT NULL,
		events_json TEXT NOT NULL,
		superseded BOOLEAN NOT NULL DEFAULT FALSE,
		superseded_by TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_tenant
		ON schedules(tenant_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so every query helper works
// inside and outside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNTS (ledger.Store interface)
// =============================================================================

// SaveAccount inserts or updates an account. Accounts are never deleted.
func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, a)
}

func saveAccount(ctx context.Context, db dbtx, a ledger.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO accounts (tenant_id, id, code, name, account_type, parent_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			account_type = excluded.account_type,
			parent_id = excluded.parent_id,
			active = excluded.active
	`

	_, err := db.ExecContext(ctx, query,
		a.TenantID, a.ID, a.Code, a.Name, a.Type,
		nullString(string(a.ParentID)), a.Active,
		a.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// GetAccount retrieves an account, or nil if absent.
func (s *Store) GetAccount(ctx context.Context, tenantID ledger.TenantID, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, tenantID, id)
}

func getAccount(ctx context.Context, db dbtx, tenantID ledger.TenantID, id ledger.AccountID) (*ledger.Account, error) {
	row := db.QueryRowContext(ctx,
		"SELECT tenant_id, id, code, name, account_type, parent_id, active, created_at FROM accounts WHERE tenant_id = ? AND id = ?",
		tenantID, id,
	)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*ledger.Account, error) {
	var a ledger.Account
	var parentID sql.NullString
	var createdAt string

	err := row.Scan(&a.TenantID, &a.ID, &a.Code, &a.Name, &a.Type, &parentID, &a.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.ParentID = ledger.AccountID(parentID.String)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// ListAccounts returns all accounts for a tenant ordered by code.
func (s *Store) ListAccounts(ctx context.Context, tenantID ledger.TenantID) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db, tenantID)
}

func listAccounts(ctx context.Context, db dbtx, tenantID ledger.TenantID) ([]ledger.Account, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT tenant_id, id, code, name, account_type, parent_id, active, created_at FROM accounts WHERE tenant_id = ? ORDER BY code, id",
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		var parentID sql.NullString
		var createdAt string
		if err := rows.Scan(&a.TenantID, &a.ID, &a.Code, &a.Name, &a.Type, &parentID, &a.Active, &createdAt); err != nil {
			return nil, err
		}
		a.ParentID = ledger.AccountID(parentID.String)
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// =============================================================================
// PERIODS
// =============================================================================

// EnsurePeriod inserts the period if absent and returns the stored row.
func (s *Store) EnsurePeriod(ctx context.Context, p ledger.AccountingPeriod) (*ledger.AccountingPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ensurePeriod(ctx, s.db, p)
}

func ensurePeriod(ctx context.Context, db dbtx, p ledger.AccountingPeriod) (*ledger.AccountingPeriod, error) {
	if p.State == "" {
		p.State = ledger.PeriodOpen
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO periods (tenant_id, id, period_start, period_end, state)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, id) DO NOTHING`,
		p.TenantID, p.ID,
		p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339), p.State,
	)
	if err != nil {
		return nil, err
	}
	return getPeriod(ctx, db, p.TenantID, p.ID)
}

// GetPeriod retrieves a period, or nil if absent.
func (s *Store) GetPeriod(ctx context.Context, tenantID ledger.TenantID, id ledger.PeriodID) (*ledger.AccountingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPeriod(ctx, s.db, tenantID, id)
}

func getPeriod(ctx context.Context, db dbtx, tenantID ledger.TenantID, id ledger.PeriodID) (*ledger.AccountingPeriod, error) {
	var p ledger.AccountingPeriod
	var start, end string

	err := db.QueryRowContext(ctx,
		"SELECT tenant_id, id, period_start, period_end, state FROM periods WHERE tenant_id = ? AND id = ?",
		tenantID, id,
	).Scan(&p.TenantID, &p.ID, &start, &end, &p.State)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.Start, _ = time.Parse(time.RFC3339, start)
	p.End, _ = time.Parse(time.RFC3339, end)
	return &p, nil
}

// SetPeriodState updates a period's lock state.
func (s *Store) SetPeriodState(ctx context.Context, tenantID ledger.TenantID, id ledger.PeriodID, state ledger.PeriodState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setPeriodState(ctx, s.db, tenantID, id, state)
}

func setPeriodState(ctx context.Context, db dbtx, tenantID ledger.TenantID, id ledger.PeriodID, state ledger.PeriodState) error {
	res, err := db.ExecContext(ctx,
		"UPDATE periods SET state = ? WHERE tenant_id = ? AND id = ?",
		state, tenantID, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("period %s not found", id)
	}
	return nil
}

// ListPeriods returns all periods for a tenant in chronological order.
func (s *Store) ListPeriods(ctx context.Context, tenantID ledger.TenantID) ([]ledger.AccountingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPeriods(ctx, s.db, tenantID)
}

func listPeriods(ctx context.Context, db dbtx, tenantID ledger.TenantID) ([]ledger.AccountingPeriod, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT tenant_id, id, period_start, period_end, state FROM periods WHERE tenant_id = ? ORDER BY id",
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []ledger.AccountingPeriod
	for rows.Next() {
		var p ledger.AccountingPeriod
		var start, end string
		if err := rows.Scan(&p.TenantID, &p.ID, &start, &end, &p.State); err != nil {
			return nil, err
		}
		p.Start, _ = time.Parse(time.RFC3339, start)
		p.End, _ = time.Parse(time.RFC3339, end)
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

// AppendTransaction persists the header and lines, returning the assigned
// sequence number.
func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, db dbtx, tx ledger.Transaction) (int64, error) {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, tenant_id, period_id, tx_type, tx_date, description, status, reference_id, idempotency_key, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.TenantID, tx.PeriodID, tx.Type,
		tx.Date.UTC().Format(time.RFC3339),
		tx.Description, tx.Status,
		nullString(tx.ReferenceID),
		nullString(tx.IdempotencyKey),
		tx.CreatedBy,
		tx.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ledger.ErrDuplicateIdempotencyKey
		}
		return 0, fmt.Errorf("failed to append transaction: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, l := range tx.Lines {
		_, err := db.ExecContext(ctx,
			"INSERT INTO lines (transaction_id, line_no, account_id, debit, credit, memo) VALUES (?, ?, ?, ?, ?, ?)",
			tx.ID, i+1, l.AccountID, l.Debit.String(), l.Credit.String(), l.Memo,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append line %d: %w", i+1, err)
		}
	}

	return seq, nil
}

// GetTransaction retrieves a transaction with its lines, or nil if absent.
func (s *Store) GetTransaction(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, tenantID, id)
}

func getTransaction(ctx context.Context, db dbtx, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, db,
		"SELECT "+txColumns+" FROM transactions WHERE tenant_id = ? AND id = ?",
		tenantID, id,
	)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// MarkVoid transitions status POSTED -> VOID. Lines are untouched.
func (s *Store) MarkVoid(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markVoid(ctx, s.db, tenantID, id)
}

func markVoid(ctx context.Context, db dbtx, tenantID ledger.TenantID, id ledger.TransactionID) error {
	res, err := db.ExecContext(ctx,
		"UPDATE transactions SET status = ? WHERE tenant_id = ? AND id = ?",
		ledger.StatusVoid, tenantID, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

// LoadPosted returns POSTED transactions with seq <= maxSeq in sequence
// order. maxSeq <= 0 means everything.
func (s *Store) LoadPosted(ctx context.Context, tenantID ledger.TenantID, maxSeq int64) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadPosted(ctx, s.db, tenantID, maxSeq)
}

func loadPosted(ctx context.Context, db dbtx, tenantID ledger.TenantID, maxSeq int64) ([]ledger.Transaction, error) {
	if maxSeq <= 0 {
		return queryTransactions(ctx, db,
			"SELECT "+txColumns+" FROM transactions WHERE tenant_id = ? AND status = ? ORDER BY seq",
			tenantID, ledger.StatusPosted,
		)
	}
	return queryTransactions(ctx, db,
		"SELECT "+txColumns+" FROM transactions WHERE tenant_id = ? AND status = ? AND seq <= ? ORDER BY seq",
		tenantID, ledger.StatusPosted, maxSeq,
	)
}

// MaxSeq returns the highest assigned sequence for the tenant (0 if none).
func (s *Store) MaxSeq(ctx context.Context, tenantID ledger.TenantID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maxSeq(ctx, s.db, tenantID)
}

func maxSeq(ctx context.Context, db dbtx, tenantID ledger.TenantID) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM transactions WHERE tenant_id = ?",
		tenantID,
	).Scan(&seq)
	return seq, err
}

// CountLines returns the number of ledger lines in a period, any status.
func (s *Store) CountLines(ctx context.Context, tenantID ledger.TenantID, periodID ledger.PeriodID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countLines(ctx, s.db, tenantID, periodID)
}

func countLines(ctx context.Context, db dbtx, tenantID ledger.TenantID, periodID ledger.PeriodID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lines
		 JOIN transactions ON transactions.id = lines.transaction_id
		 WHERE transactions.tenant_id = ? AND transactions.period_id = ?`,
		tenantID, periodID,
	).Scan(&count)
	return count, err
}

const txColumns = "seq, id, tenant_id, period_id, tx_type, tx_date, description, status, reference_id, idempotency_key, created_by, created_at"

func queryTransactions(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range transactions {
		lines, err := loadLines(ctx, db, transactions[i].ID)
		if err != nil {
			return nil, err
		}
		transactions[i].Lines = lines
	}
	return transactions, nil
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		txDate         string
		description    sql.NullString
		referenceID    sql.NullString
		idempotencyKey sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.Seq, &tx.ID, &tx.TenantID, &tx.PeriodID, &tx.Type,
		&txDate, &description, &tx.Status,
		&referenceID, &idempotencyKey, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Date, _ = time.Parse(time.RFC3339, txDate)
	tx.Description = description.String
	tx.ReferenceID = referenceID.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return tx, nil
}

func loadLines(ctx context.Context, db dbtx, txID ledger.TransactionID) ([]ledger.Line, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT account_id, debit, credit, memo FROM lines WHERE transaction_id = ? ORDER BY line_no",
		txID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []ledger.Line
	for rows.Next() {
		var l ledger.Line
		var debit, credit string
		var memo sql.NullString
		if err := rows.Scan(&l.AccountID, &debit, &credit, &memo); err != nil {
			return nil, err
		}
		l.TransactionID = txID
		l.Debit, _ = decimal.NewFromString(debit)
		l.Credit, _ = decimal.NewFromString(credit)
		l.Memo = memo.String
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// IDEMPOTENCY RECORDS (ledger.IdempotencyStore interface)
// =============================================================================

// BeginIdempotent claims the key via the store row. INSERT OR IGNORE plus a
// conditional UPDATE give compare-and-swap semantics without SELECT FOR UPDATE.
func (s *Store) BeginIdempotent(ctx context.Context, rec ledger.IdempotencyRecord) (*ledger.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return beginIdempotent(ctx, s.db, rec)
}

func beginIdempotent(ctx context.Context, db dbtx, rec ledger.IdempotencyRecord) (*ledger.IdempotencyRecord, bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO idempotency_records (key, tenant_id, operation, status, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		rec.Key, rec.TenantID, rec.Operation, ledger.IdempotencyPending,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil, true, nil
	}

	// Key exists. Failed permits retry: reclaim pending with a CAS on status.
	res, err = db.ExecContext(ctx,
		`UPDATE idempotency_records
		 SET status = ?, last_error = '', created_at = ?
		 WHERE key = ? AND status = ?`,
		ledger.IdempotencyPending, time.Now().UTC().Format(time.RFC3339),
		rec.Key, ledger.IdempotencyFailed,
	)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil, true, nil
	}

	existing, err := getIdempotent(ctx, db, rec.Key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Record deleted out from under us; treat as claimable on retry.
		return nil, false, ledger.ErrIdempotencyConflict
	}
	return existing, false, nil
}

// ResolveIdempotent transitions pending -> completed/failed.
func (s *Store) ResolveIdempotent(ctx context.Context, key string, status ledger.IdempotencyStatus, result, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return resolveIdempotent(ctx, s.db, key, status, result, lastError)
}

func resolveIdempotent(ctx context.Context, db dbtx, key string, status ledger.IdempotencyStatus, result, lastError string) error {
	res, err := db.ExecContext(ctx,
		"UPDATE idempotency_records SET status = ?, result = ?, last_error = ?, completed_at = ? WHERE key = ?",
		status, result, lastError, time.Now().UTC().Format(time.RFC3339), key,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("idempotency record %s not found", key)
	}
	return nil
}

// GetIdempotent returns the record, or nil if absent.
func (s *Store) GetIdempotent(ctx context.Context, key string) (*ledger.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getIdempotent(ctx, s.db, key)
}

func getIdempotent(ctx context.Context, db dbtx, key string) (*ledger.IdempotencyRecord, error) {
	var rec ledger.IdempotencyRecord
	var result, lastError, completedAt sql.NullString
	var createdAt string

	err := db.QueryRowContext(ctx,
		"SELECT key, tenant_id, operation, status, result, last_error, created_at, completed_at FROM idempotency_records WHERE key = ?",
		key,
	).Scan(&rec.Key, &rec.TenantID, &rec.Operation, &rec.Status, &result, &lastError, &createdAt, &completedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Result = result.String
	rec.LastError = lastError.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if completedAt.Valid {
		rec.CompletedAt, _ = time.Parse(time.RFC3339, completedAt.String)
	}
	return &rec, nil
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog interface)
// =============================================================================

// AppendEvent seals and persists the next event in the chain.
func (s *Store) AppendEvent(ctx context.Context, ev ledger.AuditEvent) (ledger.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEvent(ctx, s.db, ev)
}

func appendEvent(ctx context.Context, db dbtx, ev ledger.AuditEvent) (ledger.AuditEvent, error) {
	var lastIdx int64
	var prevHash string
	err := db.QueryRowContext(ctx,
		"SELECT idx, hash FROM audit_events ORDER BY idx DESC LIMIT 1",
	).Scan(&lastIdx, &prevHash)
	if err != nil && err != sql.ErrNoRows {
		return ledger.AuditEvent{}, err
	}

	sealed, err := ledger.SealEvent(ev, lastIdx+1, prevHash, time.Now())
	if err != nil {
		return ledger.AuditEvent{}, err
	}

	payloadJSON, err := json.Marshal(sealed.Payload)
	if err != nil {
		return ledger.AuditEvent{}, err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO audit_events (idx, tenant_id, correlation_id, event_type, payload_json, at, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sealed.Index, sealed.TenantID, sealed.CorrelationID, sealed.Type,
		string(payloadJSON),
		sealed.At.Format(time.RFC3339Nano),
		sealed.PrevHash, sealed.Hash,
	)
	if err != nil {
		return ledger.AuditEvent{}, fmt.Errorf("failed to append audit event: %w", err)
	}
	return sealed, nil
}

// Events returns events for a tenant in index order; empty tenant returns
// the whole chain.
func (s *Store) Events(ctx context.Context, tenantID ledger.TenantID) ([]ledger.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEvents(ctx, s.db, tenantID)
}

func queryEvents(ctx context.Context, db dbtx, tenantID ledger.TenantID) ([]ledger.AuditEvent, error) {
	query := "SELECT idx, tenant_id, correlation_id, event_type, payload_json, at, prev_hash, hash FROM audit_events ORDER BY idx"
	args := []any{}
	if tenantID != "" {
		query = "SELECT idx, tenant_id, correlation_id, event_type, payload_json, at, prev_hash, hash FROM audit_events WHERE tenant_id = ? ORDER BY idx"
		args = []any{tenantID}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ledger.AuditEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LastEvent returns the newest event in the chain, or nil if empty.
func (s *Store) LastEvent(ctx context.Context) (*ledger.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastEvent(ctx, s.db)
}

func lastEvent(ctx context.Context, db dbtx) (*ledger.AuditEvent, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT idx, tenant_id, correlation_id, event_type, payload_json, at, prev_hash, hash FROM audit_events ORDER BY idx DESC LIMIT 1",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	ev, err := scanEvent(rows)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func scanEvent(rows *sql.Rows) (ledger.AuditEvent, error) {
	var ev ledger.AuditEvent
	var correlationID sql.NullString
	var payloadJSON, at string

	err := rows.Scan(&ev.Index, &ev.TenantID, &correlationID, &ev.Type, &payloadJSON, &at, &ev.PrevHash, &ev.Hash)
	if err != nil {
		return ev, err
	}

	ev.CorrelationID = correlationID.String
	ev.At, _ = time.Parse(time.RFC3339Nano, at)
	if payloadJSON != "" {
		json.Unmarshal([]byte(payloadJSON), &ev.Payload)
	}
	return ev, nil
}

// =============================================================================
// TRANSACTIONAL BOUNDARY (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The Store passed to fn
// also implements AuditLog and IdempotencyStore, so period transitions and
// voids commit their audit events atomically with the state change.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveAccount(ctx context.Context, a ledger.Account) error {
	return saveAccount(ctx, ts.tx, a)
}

func (ts *txStore) GetAccount(ctx context.Context, tenantID ledger.TenantID, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, tenantID, id)
}

func (ts *txStore) ListAccounts(ctx context.Context, tenantID ledger.TenantID) ([]ledger.Account, error) {
	return listAccounts(ctx, ts.tx, tenantID)
}

func (ts *txStore) EnsurePeriod(ctx context.Context, p ledger.AccountingPeriod) (*ledger.AccountingPeriod, error) {
	return ensurePeriod(ctx, ts.tx, p)
}

func (ts *txStore) GetPeriod(ctx context.Context, tenantID ledger.TenantID, id ledger.PeriodID) (*ledger.AccountingPeriod, error) {
	return getPeriod(ctx, ts.tx, tenantID, id)
}

func (ts *txStore) SetPeriodState(ctx context.Context, tenantID ledger.TenantID, id ledger.PeriodID, state ledger.PeriodState) error {
	return setPeriodState(ctx, ts.tx, tenantID, id, state)
}

func (ts *txStore) ListPeriods(ctx context.Context, tenantID ledger.TenantID) ([]ledger.AccountingPeriod, error) {
	return listPeriods(ctx, ts.tx, tenantID)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx ledger.Transaction) (int64, error) {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, tenantID, id)
}

func (ts *txStore) MarkVoid(ctx context.Context, tenantID ledger.TenantID, id ledger.TransactionID) error {
	return markVoid(ctx, ts.tx, tenantID, id)
}

func (ts *txStore) LoadPosted(ctx context.Context, tenantID ledger.TenantID, maxSeq int64) ([]ledger.Transaction, error) {
	return loadPosted(ctx, ts.tx, tenantID, maxSeq)
}

func (ts *txStore) MaxSeq(ctx context.Context, tenantID ledger.TenantID) (int64, error) {
	return maxSeq(ctx, ts.tx, tenantID)
}

func (ts *txStore) CountLines(ctx context.Context, tenantID ledger.TenantID, periodID ledger.PeriodID) (int, error) {
	return countLines(ctx, ts.tx, tenantID, periodID)
}

func (ts *txStore) BeginIdempotent(ctx context.Context, rec ledger.IdempotencyRecord) (*ledger.IdempotencyRecord, bool, error) {
	return beginIdempotent(ctx, ts.tx, rec)
}

func (ts *txStore) ResolveIdempotent(ctx context.Context, key string, status ledger.IdempotencyStatus, result, lastError string) error {
	return resolveIdempotent(ctx, ts.tx, key, status, result, lastError)
}

func (ts *txStore) GetIdempotent(ctx context.Context, key string) (*ledger.IdempotencyRecord, error) {
	return getIdempotent(ctx, ts.tx, key)
}

func (ts *txStore) AppendEvent(ctx context.Context, ev ledger.AuditEvent) (ledger.AuditEvent, error) {
	return appendEvent(ctx, ts.tx, ev)
}

func (ts *txStore) Events(ctx context.Context, tenantID ledger.TenantID) ([]ledger.AuditEvent, error) {
	return queryEvents(ctx, ts.tx, tenantID)
}

func (ts *txStore) LastEvent(ctx context.Context) (*ledger.AuditEvent, error) {
	return lastEvent(ctx, ts.tx)
}

// =============================================================================
// RECOGNITION SCHEDULES (recognition.ScheduleStore interface)
// =============================================================================

// SaveSchedule inserts or updates a schedule. Events are stored as JSON;
// they are always read and written as a unit.
func (s *Store) SaveSchedule(ctx context.Context, sched recognition.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveScheduleLocked(ctx, sched)
}

func (s *Store) saveScheduleLocked(ctx context.Context, sched recognition.Schedule) error {
	eventsJSON, err := json.Marshal(sched.Events)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO schedules
		(id, tenant_id, source_id, total, method, deferred_account, revenue_account,
		 events_json, superseded, superseded_by, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			events_json = excluded.events_json,
			superseded = excluded.superseded,
			superseded_by = excluded.superseded_by
	`

	_, err = s.db.ExecContext(ctx, query,
		sched.ID, sched.TenantID, sched.SourceID, sched.Total.String(), sched.Method,
		sched.DeferredAccount, sched.RevenueAccount,
		string(eventsJSON), sched.Superseded, nullString(sched.SupersededBy),
		sched.CreatedBy, sched.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// GetSchedule retrieves a schedule, or nil if absent.
func (s *Store) GetSchedule(ctx context.Context, tenantID ledger.TenantID, id string) (*recognition.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getScheduleLocked(ctx, tenantID, id)
}

func (s *Store) getScheduleLocked(ctx context.Context, tenantID ledger.TenantID, id string) (*recognition.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE tenant_id = ? AND id = ?",
		tenantID, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sched, err := scanSchedule(rows)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListSchedules returns all schedules for a tenant, oldest first.
func (s *Store) ListSchedules(ctx context.Context, tenantID ledger.TenantID) ([]recognition.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE tenant_id = ? ORDER BY created_at, id",
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []recognition.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// ScheduleTenants lists every tenant that has at least one schedule. Used
// by the background recognition sweeper.
func (s *Store) ScheduleTenants(ctx context.Context) ([]ledger.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT tenant_id FROM schedules ORDER BY tenant_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []ledger.TenantID
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, ledger.TenantID(t))
	}
	return tenants, rows.Err()
}

// MarkRecognized flips one event's recognized flag. Idempotent.
func (s *Store) MarkRecognized(ctx context.Context, tenantID ledger.TenantID, scheduleID, eventID string, txID ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateEventLocked(ctx, tenantID, scheduleID, eventID, func(ev *recognition.Event) {
		if ev.Recognized {
			return
		}
		ev.Recognized = true
		ev.TransactionID = txID
		ev.RecognizedAt = time.Now().UTC()
	})
}

// MarkCompleted sets a milestone event's completion flag.
func (s *Store) MarkCompleted(ctx context.Context, tenantID ledger.TenantID, scheduleID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateEventLocked(ctx, tenantID, scheduleID, eventID, func(ev *recognition.Event) {
		ev.Completed = true
	})
}

// MarkSuperseded points the schedule at its replacement.
func (s *Store) MarkSuperseded(ctx context.Context, tenantID ledger.TenantID, scheduleID, successorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE schedules SET superseded = TRUE, superseded_by = ? WHERE tenant_id = ? AND id = ?",
		successorID, tenantID, scheduleID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) updateEventLocked(ctx context.Context, tenantID ledger.TenantID, scheduleID, eventID string, mutate func(*recognition.Event)) error {
	sched, err := s.getScheduleLocked(ctx, tenantID, scheduleID)
	if err != nil {
		return err
	}
	if sched == nil {
		return ledger.ErrScheduleNotFound
	}

	found := false
	for i := range sched.Events {
		if sched.Events[i].ID == eventID {
			mutate(&sched.Events[i])
			found = true
			break
		}
	}
	if !found {
		return recognition.ErrEventNotFound
	}

	return s.saveScheduleLocked(ctx, *sched)
}

const scheduleColumns = "id, tenant_id, source_id, total, method, deferred_account, revenue_account, events_json, superseded, superseded_by, created_by, created_at"

func scanSchedule(rows *sql.Rows) (recognition.Schedule, error) {
	var sched recognition.Schedule
	var total, eventsJSON, createdAt string
	var supersededBy, createdBy sql.NullString

	err := rows.Scan(
		&sched.ID, &sched.TenantID, &sched.SourceID, &total, &sched.Method,
		&sched.DeferredAccount, &sched.RevenueAccount,
		&eventsJSON, &sched.Superseded, &supersededBy, &createdBy, &createdAt,
	)
	if err != nil {
		return sched, err
	}

	sched.Total, _ = decimal.NewFromString(total)
	sched.SupersededBy = supersededBy.String
	sched.CreatedBy = createdBy.String
	sched.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if err := json.Unmarshal([]byte(eventsJSON), &sched.Events); err != nil {
		return sched, fmt.Errorf("failed to decode schedule events: %w", err)
	}
	return sched, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
