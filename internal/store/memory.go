package store

import (
	"context"
	"sync"

	"github.com/driftlane/outreach-gateway/internal/core"
)

// MemoryStore is an in-process core.UsageStore. It backs single-process
// deployments and the dispatcher unit tests; multi-process setups need the
// Postgres or Redis store.
type MemoryStore struct {
	mu      sync.Mutex
	counts  map[string]int // key: day + "/" + accountID
	cursors map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts:  make(map[string]int),
		cursors: make(map[string]int),
	}
}

func memKey(accountID, day string) string { return day + "/" + accountID }

func (m *MemoryStore) Count(_ context.Context, accountID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[memKey(accountID, day)], nil
}

func (m *MemoryStore) TotalCount(ctx context.Context, day string) (int, error) {
	return m.Count(ctx, core.GlobalAccountID, day)
}

func (m *MemoryStore) Increment(_ context.Context, accountID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[memKey(accountID, day)]++
	m.counts[memKey(core.GlobalAccountID, day)]++
	return m.counts[memKey(accountID, day)], nil
}

func (m *MemoryStore) CursorGet(_ context.Context, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.cursors[name]
	if !ok {
		return -1, nil
	}
	return pos, nil
}

func (m *MemoryStore) CursorSet(_ context.Context, name string, pos int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = pos
	return nil
}
