package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkrupp/escrowgate/internal/domain"
)

// RedisRepositoryConfig holds configuration for the Redis user cache.
type RedisRepositoryConfig struct {
	Addr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" default:""`
	DB       int    `env:"REDIS_DB" default:"0"`

	KeyPrefix string `env:"KEY_PREFIX" default:"escrow:usercache:"`
	// TTL bounds how long an abandoned tab's projection survives
	TTL time.Duration `env:"TTL" default:"12h"`
}

// RedisRepository implements Repository on Redis. Entries expire after TTL so tab
// keys left behind by closed tabs do not accumulate.
type RedisRepository struct {
	client *redis.Client
	cfg    RedisRepositoryConfig
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

		repo := NewRedisRepository(client, cfg)
		repo.owned = true

		return repo, nil
	}
}

// NewRedisRepository wraps an existing client. The caller keeps ownership of it.
func NewRedisRepository(client *redis.Client, cfg RedisRepositoryConfig) *RedisRepository {
	return &RedisRepository{client: client, cfg: cfg}
}

func (r *RedisRepository) key(tabID string) string {
	return r.cfg.KeyPrefix + tabID
}

// Get implements Repository.Get using Redis.
func (r *RedisRepository) Get(ctx context.Context, tabID string) (domain.CachedUser, bool, error) {
	raw, err := r.client.Get(ctx, r.key(tabID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CachedUser{}, false, nil
		}

		return domain.CachedUser{}, false, fmt.Errorf("get cached user: %w", err)
	}

	var user domain.CachedUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.CachedUser{}, false, fmt.Errorf("unmarshal cached user: %w", err)
	}

	return user, true, nil
}

// Put implements Repository.Put using Redis.
func (r *RedisRepository) Put(ctx context.Context, tabID string, user domain.CachedUser) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal cached user: %w", err)
	}

	if err := r.client.Set(ctx, r.key(tabID), raw, r.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("set cached user: %w", err)
	}

	return nil
}

// Delete implements Repository.Delete using Redis.
func (r *RedisRepository) Delete(ctx context.Context, tabID string) error {
	if err := r.client.Del(ctx, r.key(tabID)).Err(); err != nil {
		return fmt.Errorf("delete cached user: %w", err)
	}

	return nil
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
