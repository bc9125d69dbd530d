package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newPeriod creates the March 2025 period row so transitions have a target.
func newPeriod(t *testing.T, m *store.Memory) ledger.PeriodID {
	t.Helper()
	p, err := m.EnsurePeriod(context.Background(), ledger.PeriodFor(testTenant, march(1)))
	require.NoError(t, err)
	require.Equal(t, ledger.PeriodOpen, p.State)
	return p.ID
}

// =============================================================================
// PERIOD DERIVATION
// =============================================================================

func TestPeriodFor_CalendarMonth(t *testing.T) {
	// GIVEN: Any date in March 2025
	// WHEN: Deriving its period
	// THEN: ID is "2025-03" and the window covers the whole month

	p := ledger.PeriodFor(testTenant, march(17))

	assert.Equal(t, ledger.PeriodID("2025-03"), p.ID)
	assert.True(t, p.Contains(march(1)))
	assert.True(t, p.Contains(march(31)))
	assert.False(t, p.Contains(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, ledger.PeriodOpen, p.State)
}

// =============================================================================
// TRANSITION TABLE
// =============================================================================

func TestTransition_SoftCloseThenLock(t *testing.T) {
	// GIVEN: An OPEN period
	// WHEN: SoftClose, then Lock
	// THEN: State walks OPEN -> SOFT_CLOSED -> HARD_LOCKED

	m := store.NewMemory()
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()
	id := newPeriod(t, m)

	require.NoError(t, pm.SoftClose(ctx, testTenant, id, "month-end", "controller"))
	p, _ := m.GetPeriod(ctx, testTenant, id)
	assert.Equal(t, ledger.PeriodSoftClosed, p.State)

	require.NoError(t, pm.Lock(ctx, testTenant, id, "audit complete", "cfo"))
	p, _ = m.GetPeriod(ctx, testTenant, id)
	assert.Equal(t, ledger.PeriodHardLocked, p.State)
}

func TestTransition_LockDirectlyFromOpen(t *testing.T) {
	// GIVEN: An OPEN period
	// WHEN: Locking without a soft close first
	// THEN: Allowed; soft close is optional, not a prerequisite

	m := store.NewMemory()
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()
	id := newPeriod(t, m)

	require.NoError(t, pm.Lock(ctx, testTenant, id, "fast close", "cfo"))
	p, _ := m.GetPeriod(ctx, testTenant, id)
	assert.Equal(t, ledger.PeriodHardLocked, p.State)
}

func TestTransition_ReopenFromSoftClosed(t *testing.T) {
	// GIVEN: A SOFT_CLOSED period
	// WHEN: Reopening
	// THEN: Back to OPEN; this is the only permitted reversal

	m := store.NewMemory()
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()
	id := newPeriod(t, m)

	require.NoError(t, pm.SoftClose(ctx, testTenant, id, "review", "controller"))
	require.NoError(t, pm.Reopen(ctx, testTenant, id, "late invoice arrived", "controller"))

	p, _ := m.GetPeriod(ctx, testTenant, id)
	assert.Equal(t, ledger.PeriodOpen, p.State)
}

func TestTransition_HardLockIsTerminal(t *testing.T) {
	// GIVEN: A HARD_LOCKED period
	// WHEN: Attempting any transition out of it
	// THEN: IrreversibleStateError every time, state unchanged

	m := store.NewMemory()
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()
	id := newPeriod(t, m)
	require.NoError(t, pm.Lock(ctx, testTenant, id, "closed", "cfo"))

	for name, attempt := range map[string]error{
		"reopen":     pm.Reopen(ctx, testTenant, id, "please", "controller"),
		"soft-close": pm.SoftClose(ctx, testTenant, id, "downgrade", "controller"),
	} {
		require.Error(t, attempt, name)
		assert.ErrorIs(t, attempt, ledger.ErrIrreversibleState, name)
		var irrErr *ledger.IrreversibleStateError
		assert.ErrorAs(t, attempt, &irrErr, name)
	}

	p, _ := m.GetPeriod(ctx, testTenant, id)
	assert.Equal(t, ledger.PeriodHardLocked, p.State)
}

func TestTransition_SameState_IsNoOp(t *testing.T) {
	// GIVEN: A SOFT_CLOSED period
	// WHEN: Soft-closing again (a retried request)
	// THEN: No error, no second audit event

	m := store.NewMemory()
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()
	id := newPeriod(t, m)

	require.NoError(t, pm.SoftClose(ctx, testTenant, id, "month-end", "controller"))
	require.NoError(t, pm.SoftClose(ctx, testTenant, id, "month-end retry", "controller"))

	events, err := m.Events(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, events, 1, "a no-op transition is not audited")
}

func TestTransition_UnknownPeriod_Rejected(t *testing.T) {
	// GIVEN: No such period row
	// WHEN: Soft-closing it
	// THEN: ErrInvalidTransition (periods appear when postings target them)

	pm := ledger.NewPeriodManager(store.NewMemory())

	err := pm.SoftClose(context.Background(), testTenant, "2030-01", "premature", "controller")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

// =============================================================================
// FAIL-CLOSED AUDIT
// =============================================================================

func TestTransition_EmitsAuditEvent(t *testing.T) {
	// GIVEN: An OPEN period
	// WHEN: Soft-closing with a reason and actor
	// THEN: The committed audit event carries from/to/reason/actor

	m := store.NewMemory()
	pm := ledger.NewPeriodManager(m)
	ctx := context.Background()
	id := newPeriod(t, m)

	require.NoError(t, pm.SoftClose(ctx, testTenant, id, "month-end review", "controller"))

	events, err := m.Events(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, ledger.AuditPeriodTransition, ev.Type)
	assert.Equal(t, string(id), ev.Payload["period"])
	assert.Equal(t, string(ledger.PeriodOpen), ev.Payload["from"])
	assert.Equal(t, string(ledger.PeriodSoftClosed), ev.Payload["to"])
	assert.Equal(t, "month-end review", ev.Payload["reason"])
	assert.Equal(t, "controller", ev.Payload["actor"])
}

// bareStore strips the audit capability from whatever WithTx hands out, to
// prove transitions fail closed when the audit log cannot be written.
type bareStore struct {
	ledger.Store
}

type noAuditStore struct {
	*store.Memory
}

func (n noAuditStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return n.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(bareStore{Store: s})
	})
}

func TestTransition_FailsClosedWithoutAuditLog(t *testing.T) {
	// GIVEN: A store that cannot append audit events
	// WHEN: Soft-closing a period
	// THEN: The transition errors AND rolls back; state is still OPEN

	m := store.NewMemory()
	pm := ledger.NewPeriodManager(noAuditStore{Memory: m})
	ctx := context.Background()
	id := newPeriod(t, m)

	err := pm.SoftClose(ctx, testTenant, id, "month-end", "controller")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStoreRequired)

	p, _ := m.GetPeriod(ctx, testTenant, id)
	assert.Equal(t, ledger.PeriodOpen, p.State, "unaudited transition must roll back")
}
