/*
audit.go - Hash-chained, append-only audit log

PURPOSE:
  Records every sensitive state change: period transitions, recognition
  runs, statement generation, voids. Events are never mutated or deleted.

CHAIN STRUCTURE:
  Events form an arena with monotonically increasing indices (no pointer-
  linked nodes). Each event's hash covers its canonicalized content plus
  the previous event's hash:

      hash[i] = SHA-256( prevHash[i-1] || canonical(event[i]) )

  Tampering with any stored event breaks every later hash, so VerifyChain
  detects the first divergent index.

CANONICALIZATION:
  Event content is serialized as RFC 8785 canonical JSON (gowebpki/jcs)
  before hashing, so independent verifiers agree byte-for-byte.

SEE ALSO:
  - period.go: Emits events fail-closed inside the transition
  - statement.go: Statement generation events carry the integrity hash
*/
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// =============================================================================
// AUDIT EVENT
// =============================================================================

type AuditEventType string

const (
	AuditPeriodTransition   AuditEventType = "period_transition"
	AuditTransactionVoided  AuditEventType = "transaction_voided"
	AuditRecognitionRun     AuditEventType = "recognition_run"
	AuditStatementGenerated AuditEventType = "statement_generated"
	AuditIntegrityViolation AuditEventType = "integrity_violation"
	AuditScheduleCreated    AuditEventType = "schedule_created"
	AuditScheduleSuperseded AuditEventType = "schedule_superseded"
)

// AuditEvent is an immutable record in the chain. Index, PrevHash, Hash and
// At are assigned by the store at append time.
type AuditEvent struct {
	Index         int64             `json:"index"`
	TenantID      TenantID          `json:"tenant_id"`
	CorrelationID string            `json:"correlation_id"`
	Type          AuditEventType    `json:"type"`
	Payload       map[string]string `json:"payload"`
	At            time.Time         `json:"at"`
	PrevHash      string            `json:"prev_hash"`
	Hash          string            `json:"hash"`
}

// AuditLog stores audit events. Append-only; the chain is global across
// tenants (a per-store arena), queries filter by tenant.
type AuditLog interface {
	// AppendEvent assigns Index, At, PrevHash and Hash, persists the event
	// and returns it.
	AppendEvent(ctx context.Context, ev AuditEvent) (AuditEvent, error)

	// Events returns events for a tenant in index order. Empty tenant
	// returns the whole chain (for verification).
	Events(ctx context.Context, tenantID TenantID) ([]AuditEvent, error)

	// LastEvent returns the newest event in the chain, or nil if empty.
	LastEvent(ctx context.Context) (*AuditEvent, error)
}

// =============================================================================
// CHAIN HASHING
// =============================================================================

// auditDigest is the hashed representation of an event. The hash field
// itself is excluded; PrevHash is mixed in separately by ChainHash.
type auditDigest struct {
	Index         int64             `json:"index"`
	TenantID      string            `json:"tenant_id"`
	CorrelationID string            `json:"correlation_id"`
	Type          string            `json:"type"`
	Payload       map[string]string `json:"payload"`
	At            string            `json:"at"`
}

// CanonicalEventPayload returns the RFC 8785 canonical JSON for the event's
// hashed content.
func CanonicalEventPayload(ev AuditEvent) ([]byte, error) {
	raw, err := json.Marshal(auditDigest{
		Index:         ev.Index,
		TenantID:      string(ev.TenantID),
		CorrelationID: ev.CorrelationID,
		Type:          string(ev.Type),
		Payload:       ev.Payload,
		At:            ev.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// ChainHash computes SHA-256 over prevHash || payload, hex-encoded.
func ChainHash(prevHash string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SealEvent fills PrevHash and Hash for an event about to be appended at
// the given index. Store implementations call this while holding their
// write lock so the chain never forks.
func SealEvent(ev AuditEvent, index int64, prevHash string, at time.Time) (AuditEvent, error) {
	ev.Index = index
	ev.At = at.UTC()
	ev.PrevHash = prevHash
	payload, err := CanonicalEventPayload(ev)
	if err != nil {
		return AuditEvent{}, err
	}
	ev.Hash = ChainHash(prevHash, payload)
	return ev, nil
}

// =============================================================================
// CHAIN VERIFICATION
// =============================================================================

// VerifyChain recomputes every hash in the stored chain and returns the
// index of the first divergent event, or -1 if the chain is intact.
func VerifyChain(events []AuditEvent) (int64, error) {
	prevHash := ""
	for _, ev := range events {
		if ev.PrevHash != prevHash {
			return ev.Index, fmt.Errorf("event %d: prev_hash broken: %w", ev.Index, ErrReplayIntegrity)
		}
		payload, err := CanonicalEventPayload(ev)
		if err != nil {
			return ev.Index, err
		}
		if got := ChainHash(prevHash, payload); got != ev.Hash {
			return ev.Index, fmt.Errorf("event %d: hash mismatch: %w", ev.Index, ErrReplayIntegrity)
		}
		prevHash = ev.Hash
	}
	return -1, nil
}
