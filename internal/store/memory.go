package store

import (
	"context"
	"slices"
	"sync"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// MemoryBackend keeps encoded records in a map. Records are stored encoded
// so readers always get an independent copy.
//
// Thread-safety: a single RWMutex serializes writes and allows concurrent reads.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[contracts.JobID]Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[contracts.JobID]Record)}
}

// NewMemory creates an in-memory JobStore.
func NewMemory(opts ...Option) contracts.JobStore {
	return New(NewMemoryBackend(), opts...)
}

func (m *MemoryBackend) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryBackend) Update(_ context.Context, id contracts.JobID, fn func(Record) (Record, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return notFound(id)
	}
	next, err := fn(rec)
	if err != nil {
		return err
	}
	m.records[id] = next
	return nil
}

func (m *MemoryBackend) Load(_ context.Context, id contracts.JobID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, notFound(id)
	}
	rec.Data = slices.Clone(rec.Data)
	return rec, nil
}

func (m *MemoryBackend) Scan(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		rec.Data = slices.Clone(rec.Data)
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemoryBackend) Remove(_ context.Context, id contracts.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
