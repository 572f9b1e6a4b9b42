package queue

import (
	"context"
	"sync"
	"time"

	"chatbridge/internal/domain"
)

type memoryEntry struct {
	replies   []domain.Reply
	expiresAt time.Time
}

// Memory is an in-process queue store. Entries vanish on restart.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// live returns the entry for key, dropping it when expired. Caller holds mu.
func (m *Memory) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) Get(ctx context.Context, key string) ([]domain.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return []domain.Reply{}, nil
	}
	out := make([]domain.Reply, len(e.replies))
	copy(out, e.replies)
	return out, nil
}

func (m *Memory) Put(ctx context.Context, key string, replies []domain.Reply, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]domain.Reply, len(replies))
	copy(stored, replies)
	m.entries[key] = memoryEntry{replies: stored, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Append(ctx context.Context, key string, replies []domain.Reply, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.live(key)
	stored := make([]domain.Reply, 0, len(e.replies)+len(replies))
	stored = append(stored, e.replies...)
	stored = append(stored, replies...)
	m.entries[key] = memoryEntry{replies: stored, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// ExpiresAt reports when the entry for key expires.
func (m *Memory) ExpiresAt(key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	return e.expiresAt, ok
}
