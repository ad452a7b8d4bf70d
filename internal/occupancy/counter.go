package occupancy

import (
	"context"
	"sync"
)

// Counters is the raw per-scope state behind a Snapshot. Pending counts
// reserved but not yet committed check-ins.
type Counters struct {
	Inside    int
	Pending   int
	CheckIns  int
	CheckOuts int
}

// CounterStore keeps Counters per scope. Reserve must be an atomic
// check-and-increment; limit < 0 means unlimited.
type CounterStore interface {
	Reserve(ctx context.Context, scopeID string, limit int) (bool, error)
	Commit(ctx context.Context, scopeID string) error
	Cancel(ctx context.Context, scopeID string) error
	// Release records a check-out. It reports false when inside was already
	// zero; the counter is left at zero in that case.
	Release(ctx context.Context, scopeID string) (bool, error)
	Load(ctx context.Context, scopeID string) (Counters, error)
	Replace(ctx context.Context, scopeID string, c Counters) error
}

// MemoryCounters is the in-process CounterStore.
type MemoryCounters struct {
	mu     sync.Mutex
	scopes map[string]*Counters
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{scopes: map[string]*Counters{}}
}

func (m *MemoryCounters) get(scopeID string) *Counters {
	c := m.scopes[scopeID]
	if c == nil {
		c = &Counters{}
		m.scopes[scopeID] = c
	}
	return c
}

func (m *MemoryCounters) Reserve(_ context.Context, scopeID string, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(scopeID)
	if limit >= 0 && c.Inside+c.Pending >= limit {
		return false, nil
	}
	c.Pending++
	return true, nil
}

func (m *MemoryCounters) Commit(_ context.Context, scopeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(scopeID)
	if c.Pending > 0 {
		c.Pending--
	}
	c.Inside++
	c.CheckIns++
	return nil
}

func (m *MemoryCounters) Cancel(_ context.Context, scopeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(scopeID)
	if c.Pending > 0 {
		c.Pending--
	}
	return nil
}

func (m *MemoryCounters) Release(_ context.Context, scopeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(scopeID)
	c.CheckOuts++
	if c.Inside == 0 {
		return false, nil
	}
	c.Inside--
	return true, nil
}

func (m *MemoryCounters) Load(_ context.Context, scopeID string) (Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.scopes[scopeID]; c != nil {
		return *c, nil
	}
	return Counters{}, nil
}

func (m *MemoryCounters) Replace(_ context.Context, scopeID string, c Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c
	m.scopes[scopeID] = &cp
	return nil
}
