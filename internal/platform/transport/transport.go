// Package transport abstracts the remote rendezvous replicas sync
// records through. The engine never opens connections itself; a
// Transport is injected per deployment.
package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Transport is the replication contract. Keys are the same strings
// the local store uses, so a key doubles as a cursor token: listings
// are lexicographic and List returns only keys after since.
type Transport interface {
	// List returns the namespace's record keys after the since token,
	// sorted, plus the token a later List should resume from.
	List(ctx context.Context, ns, since string) (keys []string, nextSince string, err error)
	// Get fetches one record payload.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put uploads one record payload.
	Put(ctx context.Context, key string, payload []byte) error
}

// Memory is an in-process Transport; two engines pointed at the same
// Memory behave like two replicas sharing a remote.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory returns an empty in-memory transport.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// List implements Transport.
func (m *Memory) List(ctx context.Context, ns, since string) ([]string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := fmt.Sprintf("m:%s:r:", ns)
	var keys []string
	for key := range m.items {
		if strings.HasPrefix(key, prefix) && key > since {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	next := since
	if len(keys) > 0 {
		next = keys[len(keys)-1]
	}
	return keys, next, nil
}

// Get implements Transport.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true, nil
}

// Put implements Transport.
func (m *Memory) Put(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.items[key] = stored
	return nil
}
