package cache

import (
	"context"
	"sync"
	"time"
)

type item struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Store with TTL support. It is only safe for
// single-process deployments.
type Memory struct {
	mu    sync.Mutex
	clock Clock
	items map[string]item
}

func NewMemory() *Memory {
	return NewMemoryWithClock(SystemClock)
}

func NewMemoryWithClock(clock Clock) *Memory {
	return &Memory{clock: clock, items: make(map[string]item)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if m.expired(it) {
		delete(m.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = m.clock.Now().Add(ttl)
	}
	m.items[key] = item{value: append([]byte(nil), value...), expires: exp}
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, it := range m.items {
		if m.expired(it) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) expired(it item) bool {
	return !it.expires.IsZero() && !m.clock.Now().Before(it.expires)
}
