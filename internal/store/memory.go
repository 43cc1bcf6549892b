// internal/store/memory.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory keeps documents in process. Values are stored encoded so callers
// never share memory with the store.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]map[string][]byte
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, guild, key string, out any) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	data, ok := m.docs[guild][key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", guild, key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, guild, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", guild, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.docs[guild] == nil {
		m.docs[guild] = make(map[string][]byte)
	}
	m.docs[guild][key] = data
	return nil
}

func (m *Memory) Guilds(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.docs))
	for g := range m.docs {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
