/*
store.go - In-memory ScheduleStore

PURPOSE:
  Reference implementation backing tests and demo scenarios. Mirrors the
  durable sqlite implementation's semantics: schedules are copied in and
  out, mark operations are idempotent.
*/
package recognition

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/ledger-engine/ledger"
)

type MemoryScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]Schedule // keyed by schedule ID
}

func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{schedules: make(map[string]Schedule)}
}

func (m *MemoryScheduleStore) SaveSchedule(_ context.Context, s Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = copySchedule(s)
	return nil
}

func (m *MemoryScheduleStore) GetSchedule(_ context.Context, tenantID ledger.TenantID, id string) (*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	out := copySchedule(s)
	return &out, nil
}

func (m *MemoryScheduleStore) ListSchedules(_ context.Context, tenantID ledger.TenantID) ([]Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Schedule
	for _, s := range m.schedules {
		if s.TenantID == tenantID {
			out = append(out, copySchedule(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ScheduleTenants lists every tenant holding at least one schedule.
func (m *MemoryScheduleStore) ScheduleTenants(_ context.Context) ([]ledger.TenantID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[ledger.TenantID]bool)
	var tenants []ledger.TenantID
	for _, s := range m.schedules {
		if !seen[s.TenantID] {
			seen[s.TenantID] = true
			tenants = append(tenants, s.TenantID)
		}
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i] < tenants[j] })
	return tenants, nil
}

// Reset drops all schedules.
func (m *MemoryScheduleStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]Schedule)
	return nil
}

func (m *MemoryScheduleStore) MarkRecognized(_ context.Context, tenantID ledger.TenantID, scheduleID, eventID string, txID ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID]
	if !ok || s.TenantID != tenantID {
		return ledger.ErrScheduleNotFound
	}
	for i := range s.Events {
		if s.Events[i].ID != eventID {
			continue
		}
		if s.Events[i].Recognized {
			return nil
		}
		s.Events[i].Recognized = true
		s.Events[i].TransactionID = txID
		s.Events[i].RecognizedAt = time.Now().UTC()
		m.schedules[scheduleID] = s
		return nil
	}
	return ErrEventNotFound
}

func (m *MemoryScheduleStore) MarkCompleted(_ context.Context, tenantID ledger.TenantID, scheduleID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID]
	if !ok || s.TenantID != tenantID {
		return ledger.ErrScheduleNotFound
	}
	for i := range s.Events {
		if s.Events[i].ID == eventID {
			s.Events[i].Completed = true
			m.schedules[scheduleID] = s
			return nil
		}
	}
	return ErrEventNotFound
}

func (m *MemoryScheduleStore) MarkSuperseded(_ context.Context, tenantID ledger.TenantID, scheduleID, successorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID]
	if !ok || s.TenantID != tenantID {
		return ledger.ErrScheduleNotFound
	}
	s.Superseded = true
	s.SupersededBy = successorID
	m.schedules[scheduleID] = s
	return nil
}

func copySchedule(s Schedule) Schedule {
	out := s
	out.Events = make([]Event, len(s.Events))
	copy(out.Events, s.Events)
	return out
}
