package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// =============================================================================
// KEY DERIVATION
// =============================================================================

func TestKey_DeterministicAndDistinct(t *testing.T) {
	// GIVEN: The same (operation, tenant, naturalKey) triple
	// WHEN: Deriving the key twice
	// THEN: Identical; and any differing component yields a different key

	k1 := ledger.Key("transaction.post", "tenant-1", "invoice-42")
	k2 := ledger.Key("transaction.post", "tenant-1", "invoice-42")
	assert.Equal(t, k1, k2)

	assert.NotEqual(t, k1, ledger.Key("transaction.void", "tenant-1", "invoice-42"))
	assert.NotEqual(t, k1, ledger.Key("transaction.post", "tenant-2", "invoice-42"))
	assert.NotEqual(t, k1, ledger.Key("transaction.post", "tenant-1", "invoice-43"))
}

func TestKey_SeparatorCannotBeGamed(t *testing.T) {
	// GIVEN: Components whose concatenation collides
	// WHEN: Deriving keys
	// THEN: The separator keeps them distinct

	assert.NotEqual(t,
		ledger.Key("ab", "c", "d"),
		ledger.Key("a", "bc", "d"))
}

// =============================================================================
// GATEWAY
// =============================================================================

func newTestGateway() (*ledger.Gateway, *store.Memory) {
	m := store.NewMemory()
	gw := ledger.NewGateway(m)
	gw.PollInterval = 5 * time.Millisecond
	return gw, m
}

func TestGateway_ExecutesOnceAndReplays(t *testing.T) {
	// GIVEN: A completed write for natural key "invoice-42"
	// WHEN: Retrying the identical request
	// THEN: The stored result is replayed; the operation does not run again

	gw, _ := newTestGateway()
	ctx := context.Background()
	var calls int32

	op := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return `{"transaction_id":"tx-1"}`, nil
	}

	first, err := gw.Do(ctx, "transaction.post", testTenant, "invoice-42", op)
	require.NoError(t, err)

	second, err := gw.Do(ctx, "transaction.post", testTenant, "invoice-42", op)
	require.NoError(t, err)

	assert.Equal(t, first, second, "replay must return the canonical result")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGateway_ConcurrentCallers_OneExecution(t *testing.T) {
	// GIVEN: 10 goroutines racing the same natural key
	// WHEN: All call Do concurrently
	// THEN: The operation executes exactly once; everyone gets the same result

	gw, _ := newTestGateway()
	ctx := context.Background()
	var calls int32

	op := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond) // hold the pending window open
		return "canonical", nil
	}

	const callers = 10
	results := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = gw.Do(ctx, "transaction.post", testTenant, "invoice-42", op)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "exactly one execution")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "canonical", results[i])
	}
}

func TestGateway_DifferentKeys_DoNotSerialize(t *testing.T) {
	// GIVEN: Two writes with different natural keys
	// WHEN: Both run
	// THEN: Both execute

	gw, _ := newTestGateway()
	ctx := context.Background()
	var calls int32

	op := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	}

	_, err := gw.Do(ctx, "transaction.post", testTenant, "invoice-1", op)
	require.NoError(t, err)
	_, err = gw.Do(ctx, "transaction.post", testTenant, "invoice-2", op)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGateway_FailedAttempt_PermitsRetry(t *testing.T) {
	// GIVEN: A first attempt that fails
	// WHEN: Retrying the same natural key
	// THEN: The operation executes again (failures do not poison the key)

	gw, _ := newTestGateway()
	ctx := context.Background()
	var calls int32

	boom := errors.New("downstream unavailable")
	_, err := gw.Do(ctx, "transaction.post", testTenant, "invoice-42", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", boom
	})
	require.ErrorIs(t, err, boom)

	result, err := gw.Do(ctx, "transaction.post", testTenant, "invoice-42", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGateway_PendingKey_ConflictOnDeadline(t *testing.T) {
	// GIVEN: Another process holds the key pending (it claimed and died)
	// WHEN: A caller with a short deadline waits on it
	// THEN: ErrIdempotencyConflict once the deadline expires

	gw, m := newTestGateway()

	key := ledger.Key("transaction.post", testTenant, "invoice-42")
	_, claimed, err := m.BeginIdempotent(context.Background(), ledger.IdempotencyRecord{
		Key:       key,
		TenantID:  testTenant,
		Operation: "transaction.post",
		Status:    ledger.IdempotencyPending,
	})
	require.NoError(t, err)
	require.True(t, claimed)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = gw.Do(ctx, "transaction.post", testTenant, "invoice-42", func(ctx context.Context) (string, error) {
		t.Fatal("operation must not run while the key is held")
		return "", nil
	})
	assert.ErrorIs(t, err, ledger.ErrIdempotencyConflict)
	assert.True(t, ledger.IsRetryable(err))
}

func TestGateway_PendingResolves_WaiterGetsResult(t *testing.T) {
	// GIVEN: A slow in-flight execution
	// WHEN: A second caller arrives mid-flight
	// THEN: It blocks, then replays the first caller's result

	gw, _ := newTestGateway()
	ctx := context.Background()

	started := make(chan struct{})
	go func() {
		_, _ = gw.Do(ctx, "transaction.post", testTenant, "invoice-42", func(ctx context.Context) (string, error) {
			close(started)
			time.Sleep(30 * time.Millisecond)
			return "from-first-caller", nil
		})
	}()
	<-started

	result, err := gw.Do(ctx, "transaction.post", testTenant, "invoice-42", func(ctx context.Context) (string, error) {
		t.Error("second caller must not execute")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-first-caller", result)
}
