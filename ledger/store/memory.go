// Package store provides in-memory implementations of the ledger
// persistence interfaces, for testing and development.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - Implements TxStore, AuditLog and IdempotencyStore
// =============================================================================

type Memory struct {
	mu sync.Mutex

	accounts     map[accountKey]ledger.Account
	periods      map[periodKey]ledger.AccountingPeriod
	transactions []ledger.Transaction // append order == sequence order
	txIndex      map[txKey]int
	txKeys       map[string]bool // ledger-level idempotency keys
	records      map[string]ledger.IdempotencyRecord
	audit        []ledger.AuditEvent
	seq          int64
}

type accountKey struct {
	Tenant ledger.TenantID
	ID     ledger.AccountID
}

type periodKey struct {
	Tenant ledger.TenantID
	ID     ledger.PeriodID
}

type txKey struct {
	Tenant ledger.TenantID
	ID     ledger.TransactionID
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[accountKey]ledger.Account),
		periods:  make(map[periodKey]ledger.AccountingPeriod),
		txIndex:  make(map[txKey]int),
		txKeys:   make(map[string]bool),
		records:  make(map[string]ledger.IdempotencyRecord),
	}
}

// Reset drops all state. Demo/test use only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[accountKey]ledger.Account)
	m.periods = make(map[periodKey]ledger.AccountingPeriod)
	m.transactions = nil
	m.txIndex = make(map[txKey]int)
	m.txKeys = make(map[string]bool)
	m.records = make(map[string]ledger.IdempotencyRecord)
	m.audit = nil
	m.seq = 0
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) SaveAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAccountLocked(a)
}

func (m *Memory) saveAccountLocked(a ledger.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.accounts[accountKey{Tenant: a.TenantID, ID: a.ID}] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, tenantID ledger.TenantID, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAccountLocked(tenantID, id)
}

func (m *Memory) getAccountLocked(tenantID ledger.TenantID, id ledger.AccountID) (*ledger.Account, error) {
	a, ok := m.accounts[accountKey{Tenant: tenantID, ID: id}]
	if !ok {
		return nil, nil
	}
	copied := a
	return &copied, nil
}

func (m *Memory) ListAccounts(_ context.Context, tenantID ledger.TenantID) ([]ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAccountsLocked(tenantID)
}

func (m *Memory) listAccountsLocked(tenantID ledger.TenantID) ([]ledger.Account, error) {
	var out []ledger.Account
	for k, a := range m.accounts {
		if k.Tenant == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// PERIODS
// =============================================================================

func (m *Memory) EnsurePeriod(_ context.Context, p ledger.AccountingPeriod) (*ledger.AccountingPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensurePeriodLocked(p)
}

func (m *Memory) ensurePeriodLocked(p ledger.AccountingPeriod) (*ledger.AccountingPeriod, error) {
	k := periodKey{Tenant: p.TenantID, ID: p.ID}
	if existing, ok := m.periods[k]; ok {
		copied := existing
		return &copied, nil
	}
	if p.State == "" {
		p.State = ledger.PeriodOpen
	}
	m.periods[k] = p
	copied := p
	return &copied, nil
}

func (m *Memory) GetPeriod(_ context.Context, tenantID ledger.TenantID, id ledger.PeriodID) (*ledger.AccountingPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPeriodLocked(tenantID, id)
}

func (m *Memory) getPeriodLocked(tenantID ledger.TenantID, id ledger.PeriodID) (*ledger.AccountingPeriod, error) {
	p, ok := m.periods[periodKey{Tenant: tenantID, ID: id}]
	if !ok {
		return nil, nil
	}
	copied := p
	return &copied, nil
}

func (m *Memory) SetPeriodState(_ context.Context, tenantID ledger.TenantID, id ledger.PeriodID, state ledger.PeriodState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setPeriodStateLocked(tenantID, id, state)
}

func (m *Memory) setPeriodStateLocked(tenantID ledger.TenantID, id ledger.PeriodID, state ledger.PeriodState) error {
	k := periodKey{Tenant: tenantID, ID: id}
	p, ok := m.periods[k]
	if !ok {
		return fmt.Errorf("period %s not found", id)
	}
	p.State = state
	m.periods[k] = p
	return nil
}

func (m *Memory) ListPeriods(_ context.Context, tenantID ledger.TenantID) ([]ledger.AccountingPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.AccountingPeriod
	for k, p := range m.periods {
		if k.Tenant == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx ledger.Transaction) (int64, error) {
	if tx.IdempotencyKey != "" && m.txKeys[tx.IdempotencyKey] {
		return 0, ledger.ErrDuplicateIdempotencyKey
	}

	m.seq++
	tx.Seq = m.seq
	tx.Lines = append([]ledger.Line(nil), tx.Lines...)

	m.transactions = append(m.transactions, tx)
	m.txIndex[txKey{Tenant: tx.TenantID, ID: tx.ID}] = len(m.transactions) - 1
	if tx.IdempotencyKey != "" {
		m.txKeys[tx.IdempotencyKey] = true
	}
	return tx.Seq, nil
}

func (m *Memory) GetTransaction(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getTransactionLocked(tenantID, id)
}

func (m *Memory) getTransactionLocked(tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	i, ok := m.txIndex[txKey{Tenant: tenantID, ID: id}]
	if !ok {
		return nil, nil
	}
	copied := m.transactions[i]
	copied.Lines = append([]ledger.Line(nil), copied.Lines...)
	return &copied, nil
}

func (m *Memory) MarkVoid(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markVoidLocked(tenantID, id)
}

func (m *Memory) markVoidLocked(tenantID ledger.TenantID, id ledger.TransactionID) error {
	i, ok := m.txIndex[txKey{Tenant: tenantID, ID: id}]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	m.transactions[i].Status = ledger.StatusVoid
	return nil
}

func (m *Memory) LoadPosted(_ context.Context, tenantID ledger.TenantID, maxSeq int64) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadPostedLocked(tenantID, maxSeq)
}

func (m *Memory) loadPostedLocked(tenantID ledger.TenantID, maxSeq int64) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.TenantID != tenantID || tx.Status != ledger.StatusPosted {
			continue
		}
		if maxSeq > 0 && tx.Seq > maxSeq {
			continue
		}
		copied := tx
		copied.Lines = append([]ledger.Line(nil), tx.Lines...)
		out = append(out, copied)
	}
	return out, nil
}

func (m *Memory) MaxSeq(_ context.Context, tenantID ledger.TenantID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSeqLocked(tenantID)
}

func (m *Memory) maxSeqLocked(tenantID ledger.TenantID) (int64, error) {
	var max int64
	for _, tx := range m.transactions {
		if tx.TenantID == tenantID && tx.Seq > max {
			max = tx.Seq
		}
	}
	return max, nil
}

func (m *Memory) CountLines(_ context.Context, tenantID ledger.TenantID, periodID ledger.PeriodID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, tx := range m.transactions {
		if tx.TenantID == tenantID && tx.PeriodID == periodID {
			count += len(tx.Lines)
		}
	}
	return count, nil
}

// =============================================================================
// IDEMPOTENCY RECORDS
// =============================================================================

func (m *Memory) BeginIdempotent(_ context.Context, rec ledger.IdempotencyRecord) (*ledger.IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beginIdempotentLocked(rec)
}

func (m *Memory) beginIdempotentLocked(rec ledger.IdempotencyRecord) (*ledger.IdempotencyRecord, bool, error) {
	if existing, ok := m.records[rec.Key]; ok {
		if existing.Status == ledger.IdempotencyFailed {
			// Failed permits retry: reclaim the key as pending.
			existing.Status = ledger.IdempotencyPending
			existing.LastError = ""
			existing.CreatedAt = time.Now().UTC()
			m.records[rec.Key] = existing
			return nil, true, nil
		}
		copied := existing
		return &copied, false, nil
	}

	rec.Status = ledger.IdempotencyPending
	rec.CreatedAt = time.Now().UTC()
	m.records[rec.Key] = rec
	return nil, true, nil
}

func (m *Memory) ResolveIdempotent(_ context.Context, key string, status ledger.IdempotencyStatus, result, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveIdempotentLocked(key, status, result, lastError)
}

func (m *Memory) resolveIdempotentLocked(key string, status ledger.IdempotencyStatus, result, lastError string) error {
	rec, ok := m.records[key]
	if !ok {
		return fmt.Errorf("idempotency record %s not found", key)
	}
	rec.Status = status
	rec.Result = result
	rec.LastError = lastError
	rec.CompletedAt = time.Now().UTC()
	m.records[key] = rec
	return nil
}

func (m *Memory) GetIdempotent(_ context.Context, key string) (*ledger.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, ev ledger.AuditEvent) (ledger.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEventLocked(ev)
}

func (m *Memory) appendEventLocked(ev ledger.AuditEvent) (ledger.AuditEvent, error) {
	prevHash := ""
	if n := len(m.audit); n > 0 {
		prevHash = m.audit[n-1].Hash
	}
	sealed, err := ledger.SealEvent(ev, int64(len(m.audit)+1), prevHash, time.Now())
	if err != nil {
		return ledger.AuditEvent{}, err
	}
	m.audit = append(m.audit, sealed)
	return sealed, nil
}

func (m *Memory) Events(_ context.Context, tenantID ledger.TenantID) ([]ledger.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.AuditEvent
	for _, ev := range m.audit {
		if tenantID == "" || ev.TenantID == tenantID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) LastEvent(_ context.Context) (*ledger.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.audit) == 0 {
		return nil, nil
	}
	copied := m.audit[len(m.audit)-1]
	return &copied, nil
}

// =============================================================================
// TRANSACTIONAL BOUNDARY
// =============================================================================

// WithTx executes fn under the store lock with snapshot/rollback semantics:
// if fn returns an error, all writes it made are discarded. This mirrors
// the single-writer critical section the SQLite store gets from BEGIN/COMMIT.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txView{parent: m}
	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts     map[accountKey]ledger.Account
	periods      map[periodKey]ledger.AccountingPeriod
	transactions []ledger.Transaction
	txIndex      map[txKey]int
	txKeys       map[string]bool
	records      map[string]ledger.IdempotencyRecord
	audit        []ledger.AuditEvent
	seq          int64
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:     make(map[accountKey]ledger.Account, len(m.accounts)),
		periods:      make(map[periodKey]ledger.AccountingPeriod, len(m.periods)),
		transactions: append([]ledger.Transaction(nil), m.transactions...),
		txIndex:      make(map[txKey]int, len(m.txIndex)),
		txKeys:       make(map[string]bool, len(m.txKeys)),
		records:      make(map[string]ledger.IdempotencyRecord, len(m.records)),
		audit:        append([]ledger.AuditEvent(nil), m.audit...),
		seq:          m.seq,
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.periods {
		s.periods[k] = v
	}
	for k, v := range m.txIndex {
		s.txIndex[k] = v
	}
	for k, v := range m.txKeys {
		s.txKeys[k] = v
	}
	for k, v := range m.records {
		s.records[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.periods = s.periods
	m.transactions = s.transactions
	m.txIndex = s.txIndex
	m.txKeys = s.txKeys
	m.records = s.records
	m.audit = s.audit
	m.seq = s.seq
}

// txView routes Store (and AuditLog/IdempotencyStore) calls to the parent's
// unlocked helpers; the parent holds its lock for the whole WithTx.
type txView struct {
	parent *Memory
}

func (tv *txView) SaveAccount(_ context.Context, a ledger.Account) error {
	return tv.parent.saveAccountLocked(a)
}

func (tv *txView) GetAccount(_ context.Context, tenantID ledger.TenantID, id ledger.AccountID) (*ledger.Account, error) {
	return tv.parent.getAccountLocked(tenantID, id)
}

func (tv *txView) ListAccounts(_ context.Context, tenantID ledger.TenantID) ([]ledger.Account, error) {
	return tv.parent.listAccountsLocked(tenantID)
}

func (tv *txView) EnsurePeriod(_ context.Context, p ledger.AccountingPeriod) (*ledger.AccountingPeriod, error) {
	return tv.parent.ensurePeriodLocked(p)
}

func (tv *txView) GetPeriod(_ context.Context, tenantID ledger.TenantID, id ledger.PeriodID) (*ledger.AccountingPeriod, error) {
	return tv.parent.getPeriodLocked(tenantID, id)
}

func (tv *txView) SetPeriodState(_ context.Context, tenantID ledger.TenantID, id ledger.PeriodID, state ledger.PeriodState) error {
	return tv.parent.setPeriodStateLocked(tenantID, id, state)
}

func (tv *txView) ListPeriods(ctx context.Context, tenantID ledger.TenantID) ([]ledger.AccountingPeriod, error) {
	var out []ledger.AccountingPeriod
	for k, p := range tv.parent.periods {
		if k.Tenant == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tv *txView) AppendTransaction(_ context.Context, tx ledger.Transaction) (int64, error) {
	return tv.parent.appendLocked(tx)
}

func (tv *txView) GetTransaction(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID) (*ledger.Transaction, error) {
	return tv.parent.getTransactionLocked(tenantID, id)
}

func (tv *txView) MarkVoid(_ context.Context, tenantID ledger.TenantID, id ledger.TransactionID) error {
	return tv.parent.markVoidLocked(tenantID, id)
}

func (tv *txView) LoadPosted(_ context.Context, tenantID ledger.TenantID, maxSeq int64) ([]ledger.Transaction, error) {
	return tv.parent.loadPostedLocked(tenantID, maxSeq)
}

func (tv *txView) MaxSeq(_ context.Context, tenantID ledger.TenantID) (int64, error) {
	return tv.parent.maxSeqLocked(tenantID)
}

func (tv *txView) CountLines(_ context.Context, tenantID ledger.TenantID, periodID ledger.PeriodID) (int, error) {
	count := 0
	for _, tx := range tv.parent.transactions {
		if tx.TenantID == tenantID && tx.PeriodID == periodID {
			count += len(tx.Lines)
		}
	}
	return count, nil
}

func (tv *txView) BeginIdempotent(_ context.Context, rec ledger.IdempotencyRecord) (*ledger.IdempotencyRecord, bool, error) {
	return tv.parent.beginIdempotentLocked(rec)
}

func (tv *txView) ResolveIdempotent(_ context.Context, key string, status ledger.IdempotencyStatus, result, lastError string) error {
	return tv.parent.resolveIdempotentLocked(key, status, result, lastError)
}

func (tv *txView) GetIdempotent(_ context.Context, key string) (*ledger.IdempotencyRecord, error) {
	rec, ok := tv.parent.records[key]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (tv *txView) AppendEvent(_ context.Context, ev ledger.AuditEvent) (ledger.AuditEvent, error) {
	return tv.parent.appendEventLocked(ev)
}

func (tv *txView) Events(_ context.Context, tenantID ledger.TenantID) ([]ledger.AuditEvent, error) {
	var out []ledger.AuditEvent
	for _, ev := range tv.parent.audit {
		if tenantID == "" || ev.TenantID == tenantID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (tv *txView) LastEvent(_ context.Context) (*ledger.AuditEvent, error) {
	if len(tv.parent.audit) == 0 {
		return nil, nil
	}
	copied := tv.parent.audit[len(tv.parent.audit)-1]
	return &copied, nil
}
