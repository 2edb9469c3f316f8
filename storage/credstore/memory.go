package credstore

import (
	"context"
	"sync"
)

type memoryStore struct {
	sync.RWMutex
	table map[string]string
}

var _ Store = (*memoryStore)(nil) // interface compliance check

// NewMemoryStore returns an in-process Store; credentials do not survive a
// restart. Default in DEV and tests.
func NewMemoryStore() Store {
	return &memoryStore{table: make(map[string]string)}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, error) {
	s.RLock()
	defer s.RUnlock()

	if val, ok := s.table[key]; ok {
		return val, nil
	}
	return "", ErrNotFound
}

func (s *memoryStore) Set(_ context.Context, key, value string) error {
	s.Lock()
	defer s.Unlock()

	s.table[key] = value
	return nil
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) error {
	s.Lock()
	defer s.Unlock()

	for _, key := range keys {
		delete(s.table, key)
	}
	return nil
}
