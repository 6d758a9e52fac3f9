package session

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]Record // runID -> contextID -> record
	closed bool
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]Record),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if m.data[rec.RunID] == nil {
		m.data[rec.RunID] = make(map[string]Record)
	}

	// Copy state to avoid retaining the caller's slice.
	stored := rec
	stored.State = make([]byte, len(rec.State))
	copy(stored.State, rec.State)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}

	m.data[rec.RunID][rec.ContextID] = stored
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(runID, contextID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}

	run, ok := m.data[runID]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec, ok := run[contextID]
	if !ok {
		return Record{}, ErrNotFound
	}

	out := rec
	out.State = make([]byte, len(rec.State))
	copy(out.State, rec.State)
	return out, nil
}

// ListRun implements Store.
func (m *MemoryStore) ListRun(runID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	run := m.data[runID]
	out := make([]Record, 0, len(run))
	for _, rec := range run {
		cp := rec
		cp.State = make([]byte, len(rec.State))
		copy(cp.State, rec.State)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ContextID < out[j].ContextID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

// DeleteContext implements Store.
func (m *MemoryStore) DeleteContext(runID, contextID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if run, ok := m.data[runID]; ok {
		delete(run, contextID)
	}
	return nil
}

// DeleteRun implements Store.
func (m *MemoryStore) DeleteRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.data, runID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
