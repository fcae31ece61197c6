package revocation

import (
	"errors"
	"fmt"
)

// ErrUnknownBackend is returned for an unsupported Config.Backend value.
var ErrUnknownBackend = errors.New("unknown revocation backend")

// Config selects and configures the revocation store.
type Config struct {
	// Backend is one of "memory", "redis"
	Backend string `env:"BACKEND" default:"memory"`

	Redis RedisRepositoryConfig
}

// Factory returns the RepositoryFactory for the configured backend.
func Factory(cfg Config) (RepositoryFactory, error) {
	switch cfg.Backend {
	case "", "memory":
		return MemoryRepositoryFactory(), nil
	case "redis":
		return RedisRepositoryFactory(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
