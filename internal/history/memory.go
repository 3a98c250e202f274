package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 内存实现，进程退出即丢失，用于测试和不需要持久化的场景
type MemoryStore struct {
	mu      sync.Mutex
	entries map[int64][]Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64][]Entry)}
}

func (m *MemoryStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.Timestamp = normalize(e.Timestamp)
	m.entries[e.UserID] = append(m.entries[e.UserID], e)
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, userID int64, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.entries[userID]
	out := make([]Entry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, userID)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
