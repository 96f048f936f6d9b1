package catalog

import (
	"context"
	"sync"
)

// Store persists endpoint descriptors. Implementations must return
// descriptors in insertion order; an upsert of an existing ID keeps its
// position.
type Store interface {
	Upsert(ctx context.Context, descriptors []EndpointDescriptor) error
	GetAll(ctx context.Context) ([]EndpointDescriptor, error)
	Clear(ctx context.Context) error
	Close() error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	items map[string]EndpointDescriptor
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]EndpointDescriptor)}
}

// Upsert inserts or replaces descriptors by ID
func (s *MemoryStore) Upsert(ctx context.Context, descriptors []EndpointDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range descriptors {
		if _, exists := s.items[d.ID]; !exists {
			s.order = append(s.order, d.ID)
		}
		s.items[d.ID] = d.clone()
	}
	return nil
}

// GetAll returns copies of all descriptors
func (s *MemoryStore) GetAll(ctx context.Context) ([]EndpointDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EndpointDescriptor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].clone())
	}
	return out, nil
}

// Clear removes every descriptor
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.items = make(map[string]EndpointDescriptor)
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
