package state

import (
	"context"
	"sync"
)

// MemoryStore keeps call records in process. Used when no Redis is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*CallRecord)}
}

func (m *MemoryStore) Load(_ context.Context, callID string) (*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, rec *CallRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.CallID] = rec.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, callID)
	return nil
}
