package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Snapshots older than the TTL are
// treated as missing; a zero TTL keeps them forever.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	snapshots map[string]memoryEntry
}

type memoryEntry struct {
	snapshot Snapshot
	storedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(0)
}

func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:       ttl,
		now:       time.Now,
		snapshots: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Put(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Workload == "" {
		return ErrEmptyWorkload
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.Workload] = memoryEntry{snapshot: s.Clone(), storedAt: m.now()}
	return nil
}

func (m *MemoryStore) GetLatest(ctx context.Context, workload string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.snapshots[workload]
	if !ok {
		return Snapshot{}, false, nil
	}
	if m.ttl > 0 && m.now().Sub(e.storedAt) > m.ttl {
		return Snapshot{}, false, nil
	}
	return e.snapshot.Clone(), true, nil
}

// Len returns the number of stored workloads, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
