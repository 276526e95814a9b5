// Package prefs provides the durable key/value preference store shared by
// the widget pipeline and the widget host.
package prefs

import (
	"context"
	"strconv"
	"sync"
)

// Store is an opaque key/value store. Writes are last-write-wins per key;
// no cross-key atomicity is offered.
type Store interface {
	// GetString returns the value and whether the key exists.
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string) error
	// GetBool returns false for absent keys.
	GetBool(ctx context.Context, key string) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
	Remove(ctx context.Context, key string) error
}

// MemoryStore keeps preferences in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) GetString(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) SetString(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) GetBool(ctx context.Context, key string) (bool, error) {
	v, ok, err := m.GetString(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return parseBool(v), nil
}

func (m *MemoryStore) SetBool(ctx context.Context, key string, value bool) error {
	return m.SetString(ctx, key, strconv.FormatBool(value))
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// parseBool treats anything unparsable as false
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
