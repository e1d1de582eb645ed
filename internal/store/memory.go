package store

import (
	"context"
	"sync"

	"gihan9a/docpatch/internal/document"
)

// MemoryStore keeps documents in a map. Roots are immutable, so documents
// are stored and returned without copying.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*document.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*document.Document)}
}

func (s *MemoryStore) Read(ctx context.Context, id string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) ConditionalWrite(ctx context.Context, id string, expected int64, doc *document.Document) error {
	if err := validateWrite(id, expected, doc); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if cur, ok := s.docs[id]; ok {
		current = cur.Version
	}
	if current != expected {
		return conflict(id, expected, current)
	}
	s.docs[id] = doc
	return nil
}

func (s *MemoryStore) Close() error { return nil }
