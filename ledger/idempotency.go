/*
idempotency.go - Idempotent write gateway

PURPOSE:
  Wraps every financial mutation so each logical intent executes at most
  once, no matter how many times it is retried or how many callers race.

KEY DERIVATION:
  Key(operation, tenant, naturalKey) hashes exactly those three inputs -
  never wall-clock time, never random values - so a retry of the same
  logical request always computes the same key.

ALGORITHM (per Do call):
  1. Claim the key: insert a pending IdempotencyRecord (CAS on the store row)
  2. If a completed record holds the key: return its stored result (replay,
     no re-execution)
  3. If a pending record holds the key: poll until it resolves; if the
     caller's context expires first, return ErrIdempotencyConflict
  4. If claimed: run the operation, then resolve the record to completed
     (with the canonical result) or failed (permitting retry)

  Coordination lives in the store row, not an in-process mutex, so callers
  in separate processes serialize correctly. Callers with different keys
  proceed fully in parallel.

SEE ALSO:
  - store.go: IdempotencyStore contract
  - recognition/engine.go: Per-event keys for recognition postings
*/
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// =============================================================================
// KEY DERIVATION
// =============================================================================

// Key computes the deterministic idempotency key for a logical operation.
// naturalKey is caller-supplied (e.g. an external payment reference).
func Key(operation string, tenantID TenantID, naturalKey string) string {
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(naturalKey))
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway serializes concurrent writes per idempotency key.
type Gateway struct {
	Records IdempotencyStore

	// PollInterval is how often a blocked caller re-checks a pending record.
	PollInterval time.Duration
}

func NewGateway(records IdempotencyStore) *Gateway {
	return &Gateway{Records: records, PollInterval: 25 * time.Millisecond}
}

// Do executes op at most once for the given (operation, tenant, naturalKey)
// intent. The returned string is the canonical result - identical for the
// executing caller and every replayed caller.
func (g *Gateway) Do(ctx context.Context, operation string, tenantID TenantID, naturalKey string, op func(ctx context.Context) (string, error)) (string, error) {
	key := Key(operation, tenantID, naturalKey)

	for {
		existing, claimed, err := g.Records.BeginIdempotent(ctx, IdempotencyRecord{
			Key:       key,
			TenantID:  tenantID,
			Operation: operation,
			Status:    IdempotencyPending,
		})
		if err != nil {
			return "", err
		}

		if claimed {
			return g.execute(ctx, key, op)
		}

		switch existing.Status {
		case IdempotencyCompleted:
			return existing.Result, nil
		case IdempotencyPending:
			record, err := g.await(ctx, key)
			if err != nil {
				return "", err
			}
			if record.Status == IdempotencyCompleted {
				return record.Result, nil
			}
			// The in-flight attempt failed; loop to reclaim the key.
		default:
			// Failed record observed between Begin and now; reclaim.
		}
	}
}

func (g *Gateway) execute(ctx context.Context, key string, op func(ctx context.Context) (string, error)) (string, error) {
	result, err := op(ctx)
	if err != nil {
		// Best-effort resolution: if marking failed also fails, the record
		// stays pending and a later caller times out and retries.
		_ = g.Records.ResolveIdempotent(ctx, key, IdempotencyFailed, "", err.Error())
		return "", err
	}
	if err := g.Records.ResolveIdempotent(ctx, key, IdempotencyCompleted, result, ""); err != nil {
		return "", err
	}
	return result, nil
}

// await polls a pending record until it leaves pending or ctx expires.
func (g *Gateway) await(ctx context.Context, key string) (*IdempotencyRecord, error) {
	interval := g.PollInterval
	if interval <= 0 {
		interval = 25 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ErrIdempotencyConflict
		case <-ticker.C:
			record, err := g.Records.GetIdempotent(ctx, key)
			if err != nil {
				return nil, err
			}
			if record == nil {
				// Record vanished (failed attempt reclaimed and re-failed
				// elsewhere); treat as resolvable.
				return &IdempotencyRecord{Key: key, Status: IdempotencyFailed}, nil
			}
			if record.Status != IdempotencyPending {
				return record, nil
			}
		}
	}
}
