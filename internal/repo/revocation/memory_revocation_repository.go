package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps revoked token IDs in process memory. Revocations are
// lost on restart.
type MemoryRepository struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepositoryFactory returns a factory for MemoryRepository.
func MemoryRepositoryFactory() RepositoryFactory {
	return func() (Repository, error) {
		return NewMemoryRepository(nil), nil
	}
}

// NewMemoryRepository creates an empty repository. now defaults to time.Now.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}

	return &MemoryRepository{revoked: make(map[string]time.Time), now: now}
}

// Revoke implements Repository.Revoke. Entries past their expiry are dropped.
func (r *MemoryRepository) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	for id, exp := range r.revoked {
		if !exp.After(now) {
			delete(r.revoked, id)
		}
	}

	if expiresAt.After(now) {
		r.revoked[jti] = expiresAt
	}

	return nil
}

// IsRevoked implements Repository.IsRevoked.
func (r *MemoryRepository) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp, ok := r.revoked[jti]

	return ok && exp.After(r.now()), nil
}

// Len returns the number of remembered token IDs.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.revoked)
}

func (r *MemoryRepository) Close() error {
	return nil
}
