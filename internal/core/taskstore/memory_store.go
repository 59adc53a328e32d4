package taskstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process fallback used when no Redis URL is
// configured. Expiry is enforced lazily on access.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]entry
	sets   map[string]setEntry
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

type setEntry struct {
	members   map[string]struct{}
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]entry),
		sets:   make(map[string]setEntry),
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.values[key] = entry{value: cp, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(s.values, key)
		return nil, nil
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

func (s *MemoryStore) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sets[key]
	if !ok || time.Now().After(e.expiresAt) {
		e = setEntry{members: make(map[string]struct{})}
	}
	e.members[member] = struct{}{}
	e.expiresAt = time.Now().Add(ttl)
	s.sets[key] = e
	return nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sets[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(s.sets, key)
		return nil, nil
	}
	out := make([]string, 0, len(e.members))
	for m := range e.members {
		out = append(out, m)
	}
	return out, nil
}
