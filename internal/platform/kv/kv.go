// Package kv defines the byte-oriented key/value store the engine is
// written against, plus the bundled drivers. The engine never assumes
// anything about the backing medium beyond these four calls.
package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store is the storage driver contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes the value for key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// ListKeysByPrefix returns all keys starting with prefix, sorted.
	ListKeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Memory is an in-process Store used by tests and embedded callers.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.items[key] = stored
	return nil
}

// SetIfAbsent writes the value only when the key does not exist yet
// and reports whether this call inserted it.
func (m *Memory) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; exists {
		return false, nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.items[key] = stored
	return true, nil
}

// Remove implements Store.
func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// ListKeysByPrefix implements Store.
func (m *Memory) ListKeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
