package tracker

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	mu  sync.Mutex
	rec *Record
}

// MemoryStore keeps records in process memory with a lock per record.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[rec.MessageID]; ok {
		return ErrExists
	}
	s.entries[rec.MessageID] = &memoryEntry{rec: rec.Clone()}
	return nil
}

func (s *MemoryStore) entry(id string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (*Record, bool, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, false, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return nil, false, ErrNotFound
	}

	working := e.rec.Clone()
	changed, err := fn(working)
	if err != nil {
		return nil, false, err
	}
	if changed {
		e.rec = working
	}
	return e.rec.Clone(), changed, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return nil, ErrNotFound
	}
	return e.rec.Clone(), nil
}

func (s *MemoryStore) ListSent(_ context.Context, from, to time.Time) ([]*Record, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rec := e.rec
		if rec != nil && inRange(rec.SentAt, from, to) {
			out = append(out, rec.Clone())
		}
		e.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		e.mu.Lock()
		stale := e.rec == nil || e.rec.CreatedAt.Before(cutoff)
		if stale {
			e.rec = nil
		}
		e.mu.Unlock()
		if stale {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func inRange(t, from, to time.Time) bool {
	if t.IsZero() {
		return false
	}
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
