package securestore

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownBackend is returned for an unsupported Config.Backend value.
var ErrUnknownBackend = errors.New("unknown secure store backend")

// Config selects and configures the secure store backend.
type Config struct {
	// Backend is one of "memory", "file"
	Backend string `env:"BACKEND" default:"memory"`

	File FileStoreConfig `envPrefix:"FILE_"`
}

// New returns the Store for the configured backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		store, err := NewFileStore(ctx, cfg.File)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
