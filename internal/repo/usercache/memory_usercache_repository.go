package usercache

import (
	"context"
	"sync"

	"github.com/mkrupp/escrowgate/internal/domain"
)

// MemoryRepository implements Repository in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]domain.CachedUser
}

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepositoryFactory returns a factory for MemoryRepository.
func MemoryRepositoryFactory() RepositoryFactory {
	return func() (Repository, error) {
		return NewMemoryRepository(), nil
	}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]domain.CachedUser)}
}

func (r *MemoryRepository) Get(_ context.Context, tabID string) (domain.CachedUser, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.entries[tabID]

	return user, ok, nil
}

func (r *MemoryRepository) Put(_ context.Context, tabID string, user domain.CachedUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[tabID] = user

	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, tabID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, tabID)

	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
