package usercache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/repo/usercache"
)

func newRedisRepo(t *testing.T) (*usercache.RedisRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	//nolint:exhaustruct
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return usercache.NewRedisRepository(client, usercache.RedisRepositoryConfig{
		KeyPrefix: "test:usercache:",
		TTL:       time.Hour,
	}), mr
}

func repositories(t *testing.T) map[string]usercache.Repository {
	t.Helper()

	sqliteRepo, err := usercache.NewSQLiteRepository(usercache.SQLiteRepositoryConfig{DatabasePath: "file::memory:"})
	if err != nil {
		t.Fatalf("new sqlite repo: %v", err)
	}

	t.Cleanup(func() { _ = sqliteRepo.Close() })

	redisRepo, _ := newRedisRepo(t)

	return map[string]usercache.Repository{
		"memory": usercache.NewMemoryRepository(),
		"sqlite": sqliteRepo,
		"redis":  redisRepo,
	}
}

func TestRepository_Lifecycle(t *testing.T) {
	t.Parallel()

	ada := domain.CachedUser{
		ID:        "u-1",
		Username:  "ada",
		Email:     "ada@example.com",
		Role:      domain.RoleAdmin,
		KYCStatus: domain.KYCVerified,
	}

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			if _, ok, err := repo.Get(ctx, "tab-a"); err != nil || ok {
				t.Fatalf("Get() on empty store = %v, %v", ok, err)
			}

			if err := repo.Put(ctx, "tab-a", ada); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, ok, err := repo.Get(ctx, "tab-a")
			if err != nil || !ok || got != ada {
				t.Fatalf("Get() = %+v, %v, %v, want %+v", got, ok, err, ada)
			}

			if _, ok, _ := repo.Get(ctx, "tab-b"); ok {
				t.Error("entries leaked across tabs")
			}

			demoted := ada
			demoted.Role = domain.RoleUser

			if err := repo.Put(ctx, "tab-a", demoted); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}

			if got, _, _ := repo.Get(ctx, "tab-a"); got != demoted {
				t.Errorf("Put() did not overwrite: %+v", got)
			}

			if err := repo.Delete(ctx, "tab-a"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}

			if _, ok, _ := repo.Get(ctx, "tab-a"); ok {
				t.Error("Get() after Delete() still found entry")
			}

			if err := repo.Delete(ctx, "tab-a"); err != nil {
				t.Errorf("Delete() of absent key error = %v", err)
			}
		})
	}
}

func TestRedisRepository_TTL(t *testing.T) {
	t.Parallel()

	repo, mr := newRedisRepo(t)
	ctx := context.Background()

	if err := repo.Put(ctx, "tab-a", domain.CachedUser{ID: "u-1"}); err != nil {
		t.Fatal(err)
	}

	if ttl := mr.TTL("test:usercache:tab-a"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)

	if _, ok, _ := repo.Get(ctx, "tab-a"); ok {
		t.Error("entry survived its TTL")
	}
}

func TestRedisRepository_Unavailable(t *testing.T) {
	t.Parallel()

	repo, mr := newRedisRepo(t)
	mr.Close()

	if _, _, err := repo.Get(context.Background(), "tab-a"); err == nil {
		t.Error("Get() against a closed server returned no error")
	}
}

func TestFactory(t *testing.T) {
	t.Parallel()

	if _, err := usercache.Factory(usercache.Config{Backend: "etcd"}); !errors.Is(err, usercache.ErrUnknownBackend) {
		t.Errorf("Factory(etcd) error = %v", err)
	}

	factory, err := usercache.Factory(usercache.Config{Backend: "memory"})
	if err != nil {
		t.Fatal(err)
	}

	repo, err := factory()
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := repo.(*usercache.MemoryRepository); !ok {
		t.Errorf("Factory(memory) built %T", repo)
	}
}
