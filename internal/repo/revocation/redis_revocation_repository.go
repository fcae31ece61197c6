package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepositoryConfig holds configuration for the Redis revocation store.
type RedisRepositoryConfig struct {
	Addr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" default:""`
	DB       int    `env:"REDIS_DB" default:"0"`

	KeyPrefix string `env:"KEY_PREFIX" default:"escrow:revoked:"`
}

// RedisRepository implements Repository on Redis. Each revoked token ID is a key
// expiring together with the token, so revocations survive restarts and are shared
// between replicas.
type RedisRepository struct {
	client *redis.Client
	cfg    RedisRepositoryConfig
	now    func() time.Time
	owned  bool
}

var _ Repository = (*RedisRepository)(nil)

// RedisRepositoryFactory returns a factory for RedisRepository.
func RedisRepositoryFactory(cfg RedisRepositoryConfig) RepositoryFactory {
	return func() (Repository, error) {
		//nolint:exhaustruct
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()

			return nil, fmt.Errorf("ping redis: %w", err)
		}

		repo := NewRedisRepository(client, cfg, nil)
		repo.owned = true

		return repo, nil
	}
}

// NewRedisRepository wraps an existing client. The caller keeps ownership of it.
// now defaults to time.Now.
func NewRedisRepository(client *redis.Client, cfg RedisRepositoryConfig, now func() time.Time) *RedisRepository {
	if now == nil {
		now = time.Now
	}

	return &RedisRepository{client: client, cfg: cfg, now: now}
}

func (r *RedisRepository) key(jti string) string {
	return r.cfg.KeyPrefix + jti
}

// Revoke implements Repository.Revoke using Redis.
func (r *RedisRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, r.key(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("set revoked token: %w", err)
	}

	return nil
}

// IsRevoked implements Repository.IsRevoked using Redis.
func (r *RedisRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}

	return n > 0, nil
}

// Close closes the client if the repository created it.
func (r *RedisRepository) Close() error {
	if !r.owned {
		return nil
	}

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}

	return nil
}
