package store

import (
	"context"
	"sync"
)

// MemoryMedium keeps everything in process. Used in tests and for throwaway runs.
type MemoryMedium struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{data: make(map[string]string)}
}

func (m *MemoryMedium) Init(ctx context.Context) error { return nil }

func (m *MemoryMedium) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryMedium) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryMedium) Update(ctx context.Context, key string, fn func(string, bool) (string, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.data[key]
	next, err := fn(current, ok)
	if err != nil {
		return err
	}
	m.data[key] = next
	return nil
}

func (m *MemoryMedium) Close() error { return nil }
