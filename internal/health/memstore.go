package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// MemoryStore is an in-process Store. State is lost on restart, so it only
// suits tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.ProviderHealthRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.ProviderHealthRecord)}
}

func (m *MemoryStore) record(provider string) *models.ProviderHealthRecord {
	r, ok := m.records[provider]
	if !ok {
		r = &models.ProviderHealthRecord{Provider: provider}
		m.records[provider] = r
	}
	return r
}

func (m *MemoryStore) IncrementFailure(_ context.Context, provider, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	r := m.record(provider)
	r.ConsecutiveFailures++
	r.TotalFailures++
	r.LastFailureReason = reason
	r.LastFailureAt = &now
	r.UpdatedAt = now
	return r.ConsecutiveFailures, nil
}

func (m *MemoryStore) ResetFailures(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[provider]; ok {
		r.ConsecutiveFailures = 0
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) MarkDisabled(_ context.Context, provider, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.record(provider)
	r.Disabled = true
	r.LastFailureReason = reason
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) MarkEnabled(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.record(provider)
	r.Disabled = false
	r.ConsecutiveFailures = 0
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) DisabledSet(_ context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for name, r := range m.records {
		if r.Disabled {
			out[name] = true
		}
	}
	return out, nil
}

func (m *MemoryStore) AllHealth(_ context.Context) ([]models.ProviderHealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ProviderHealthRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
