package tree

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Backend. It is the default backend and the one
// tests run against.
type Memory struct {
	mu    sync.RWMutex
	root  any
	clock func() time.Time
	last  int64
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{clock: time.Now}
}

// NewMemoryWithClock lets tests control the server clock.
func NewMemoryWithClock(clock func() time.Time) *Memory {
	return &Memory{clock: clock}
}

func (m *Memory) Get(ctx context.Context, path string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := getAt(m.root, Split(path))
	if !ok {
		return nil, false, nil
	}
	return deepCopy(v), true, nil
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	value = deepCopy(value)
	if hasServerTimestamp(value) {
		value = resolveServerTimestamps(value, m.tick())
	}
	m.root = setAt(m.root, Split(path), value)
	return nil
}

func (m *Memory) Merge(ctx context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merge(Split(path), fields, false)
	return nil
}

func (m *Memory) MergeExisting(ctx context.Context, path string, fields map[string]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merge(Split(path), fields, true), nil
}

// merge must be called with m.mu held.
func (m *Memory) merge(base []string, fields map[string]any, existing bool) int {
	var now int64
	if fieldsHaveServerTimestamp(fields) {
		now = m.tick()
	}
	applied := 0
	for key, value := range fields {
		segs := append(append([]string{}, base...), Split(key)...)
		if existing {
			parent, ok := getAt(m.root, segs[:len(segs)-1])
			if _, isObject := parent.(map[string]any); !ok || !isObject {
				continue
			}
		}
		value = deepCopy(value)
		if hasServerTimestamp(value) {
			value = resolveServerTimestamps(value, now)
		}
		m.root = setAt(m.root, segs, value)
		applied++
	}
	return applied
}

func (m *Memory) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = setAt(m.root, Split(path), nil)
	return nil
}

func (m *Memory) Clock(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick(), nil
}

// tick reads the clock without going backwards. m.mu must be held.
func (m *Memory) tick() int64 {
	now := m.clock().UnixMilli()
	if now < m.last {
		now = m.last
	}
	m.last = now
	return now
}
