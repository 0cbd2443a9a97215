// Package storage provides RecordStore implementations backing the envelope
// layer: an in-memory store for tests and examples, a BadgerDB store for
// embedded local persistence, and a database/sql store for RDBMS-backed
// deployments.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/tidelock/recordseal"
)

// Verify MemoryStore implements the collaborator interfaces.
var (
	_ recordseal.RecordStore = (*MemoryStore)(nil)
	_ recordseal.SaltStore   = (*MemoryStore)(nil)
)

// MemoryStore is an in-memory RecordStore and SaltStore. It is safe for
// concurrent use. Intended for tests and examples.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string][]byte
	salt    []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string][]byte),
	}
}

// Get implements recordseal.RecordStore.
func (m *MemoryStore) Get(_ context.Context, kind, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.records[kind][id]
	if !ok {
		return nil, nil
	}

	return append([]byte(nil), value...), nil
}

// Put implements recordseal.RecordStore.
func (m *MemoryStore) Put(_ context.Context, kind, id string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(kind, id, value)

	return nil
}

// Delete implements recordseal.RecordStore.
func (m *MemoryStore) Delete(_ context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records[kind], id)

	return nil
}

// ForEach implements recordseal.RecordStore. Records are visited in id order
// for deterministic iteration.
func (m *MemoryStore) ForEach(_ context.Context, kind string, fn func(id string, value []byte) error) error {
	m.mu.RLock()

	ids := make([]string, 0, len(m.records[kind]))
	for id := range m.records[kind] {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	values := make([][]byte, len(ids))
	for i, id := range ids {
		values[i] = append([]byte(nil), m.records[kind][id]...)
	}

	m.mu.RUnlock()

	for i, id := range ids {
		if err := fn(id, values[i]); err != nil {
			return err
		}
	}

	return nil
}

// BulkPut implements recordseal.RecordStore. The write is atomic: the lock is
// held for the entire batch.
func (m *MemoryStore) BulkPut(_ context.Context, kind string, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, value := range values {
		m.put(kind, id, value)
	}

	return nil
}

// Kinds implements recordseal.RecordStore.
func (m *MemoryStore) Kinds(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kinds := make([]string, 0, len(m.records))
	for kind := range m.records {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)

	return kinds, nil
}

// LoadSalt implements recordseal.SaltStore.
func (m *MemoryStore) LoadSalt(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.salt == nil {
		return nil, nil
	}

	return append([]byte(nil), m.salt...), nil
}

// StoreSalt implements recordseal.SaltStore.
func (m *MemoryStore) StoreSalt(_ context.Context, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.salt = append([]byte(nil), salt...)

	return nil
}

func (m *MemoryStore) put(kind, id string, value []byte) {
	if m.records[kind] == nil {
		m.records[kind] = make(map[string][]byte)
	}

	m.records[kind][id] = append([]byte(nil), value...)
}
