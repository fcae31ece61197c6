// Package securestore holds per-tab secrets that must never leave the server side
// of the BFF, such as device tokens handed over by the OAuth callback.
package securestore

import (
	"context"
	"sync"
)

// Store is the secondary secure storage cleared together with the user cache.
type Store interface {
	Put(ctx context.Context, tabID, key string, value []byte) error
	Get(ctx context.Context, tabID, key string) ([]byte, bool, error)
	// Clear removes every secret of the tab.
	Clear(ctx context.Context, tabID string) error
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	tabs map[string]map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tabs: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, tabID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, ok := s.tabs[tabID]
	if !ok {
		secrets = make(map[string][]byte)
		s.tabs[tabID] = secrets
	}

	secrets[key] = append([]byte(nil), value...)

	return nil
}

func (s *MemoryStore) Get(_ context.Context, tabID, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.tabs[tabID][key]
	if !ok {
		return nil, false, nil
	}

	return append([]byte(nil), value...), true, nil
}

func (s *MemoryStore) Clear(_ context.Context, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range s.tabs[tabID] {
		clear(value)
		delete(s.tabs[tabID], key)
	}

	delete(s.tabs, tabID)

	return nil
}
