package templates

import (
	"context"
	"sync"
)

// MemoryStore keeps templates in process.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewMemoryStore returns a store seeded with tpls.
func NewMemoryStore(tpls ...Template) *MemoryStore {
	s := &MemoryStore{templates: make(map[string]Template, len(tpls))}
	for _, t := range tpls {
		s.Put(t)
	}
	return s
}

// Put inserts or replaces a template.
func (s *MemoryStore) Put(t Template) {
	t.Name, t.Language = normalizeKey(t.Name, t.Language)
	s.mu.Lock()
	s.templates[t.Name+"|"+t.Language] = t
	s.mu.Unlock()
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, name, language string) (*Template, error) {
	name, language = normalizeKey(name, language)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.templates[name+"|"+language]; ok {
		return &t, nil
	}
	if t, ok := s.templates[name+"|"+DefaultLanguage]; ok {
		return &t, nil
	}
	return nil, ErrNotFound
}
