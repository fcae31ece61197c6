package usercache

import (
	"errors"
	"fmt"
)

// ErrUnknownBackend is returned for an unsupported Config.Backend value.
var ErrUnknownBackend = errors.New("unknown user cache backend")

// Config selects and configures the user cache backend.
type Config struct {
	// Backend is one of "memory", "sqlite", "redis"
	Backend string `env:"BACKEND" default:"memory"`

	SQLite SQLiteRepositoryConfig `envPrefix:"SQLITE_"`
	Redis  RedisRepositoryConfig
}

// Factory returns the RepositoryFactory for the configured backend.
func Factory(cfg Config) (RepositoryFactory, error) {
	switch cfg.Backend {
	case "", "memory":
		return MemoryRepositoryFactory(), nil
	case "sqlite":
		return SQLiteRepositoryFactory(cfg.SQLite), nil
	case "redis":
		return RedisRepositoryFactory(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
