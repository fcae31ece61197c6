package securestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/mkrupp/escrowgate/internal/infra/logging"
)

// ErrInvalidKey is returned for secret keys that are not safe as file names.
var ErrInvalidKey = errors.New("invalid secret key")

const (
	dirPrefixLength = 2 // 16^2 = 256 directories
	dirPrefixDepth  = 2 // 256^2 = 65,536 directories
	secretExt       = "secret"
)

//nolint:gochecknoglobals
var validKey = regexp.MustCompile(`^[a-z0-9_]+$`)

// FileStoreConfig holds configuration for the filesystem secure store.
type FileStoreConfig struct {
	// Basedir is the root directory of the per-tab secret directories
	Basedir string `env:"BASEDIR" default:"var/storage/secrets"`
}

// FileStore implements Store on the local filesystem. Every tab owns a directory
// named after the hash of its ID; every secret is a 0600 file in it. Access to a
// tab directory is serialized with flock so several BFF processes may share it.
type FileStore struct {
	cfg FileStoreConfig
	log logging.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the base directory and returns the store.
func NewFileStore(ctx context.Context, cfg FileStoreConfig) (*FileStore, error) {
	store := &FileStore{
		cfg: cfg,
		log: logging.GetLogger("repo.securestore.filesystem_store").With(
			logging.Group("store", "basedir", cfg.Basedir),
		),
	}

	if err := os.MkdirAll(cfg.Basedir, 0o700); err != nil {
		store.log.ErrorContext(ctx, "init storage failed", "error", err)

		return nil, fmt.Errorf("mkdir all: %w", err)
	}

	return store, nil
}

// Put implements Store.Put.
func (s *FileStore) Put(ctx context.Context, tabID, key string, value []byte) (err error) {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	dir := s.tabDir(tabID)

	defer func() {
		if err != nil {
			s.log.ErrorContext(ctx, "secret store failed", "key", key, "error", err)
		}
	}()

	release, err := s.flock(ctx, dir, syscall.LOCK_EX)
	if err != nil {
		return err
	}
	defer release()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir all: %w", err)
	}

	// write-then-rename keeps a concurrent reader from seeing a partial secret
	tmp, err := os.CreateTemp(dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("sync: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.secretFile(dir, key)); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

// Get implements Store.Get.
func (s *FileStore) Get(ctx context.Context, tabID, key string) ([]byte, bool, error) {
	if !validKey.MatchString(key) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	dir := s.tabDir(tabID)

	release, err := s.flock(ctx, dir, syscall.LOCK_SH)
	if err != nil {
		return nil, false, err
	}
	defer release()

	value, err := os.ReadFile(s.secretFile(dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		s.log.ErrorContext(ctx, "secret fetch failed", "key", key, "error", err)

		return nil, false, fmt.Errorf("read file: %w", err)
	}

	return value, true, nil
}

// Clear implements Store.Clear by removing the tab directory.
func (s *FileStore) Clear(ctx context.Context, tabID string) error {
	dir := s.tabDir(tabID)

	release, err := s.flock(ctx, dir, syscall.LOCK_EX)
	if err != nil {
		return err
	}
	defer release()

	if err := os.RemoveAll(dir); err != nil {
		s.log.ErrorContext(ctx, "secret clear failed", "error", err)

		return fmt.Errorf("remove all: %w", err)
	}

	s.log.DebugContext(ctx, "secrets cleared")

	return nil
}

// tabDir spreads tabs over a directory hierarchy like
//
//	5f/56/5f56692f0df9ff68607abdb054943ed86bcee7c9f2a2d01fdcb27032f70f3fe9
//
// Tab IDs come from a cookie and are hashed before touching the filesystem.
func (s *FileStore) tabDir(tabID string) string {
	sum := sha256.Sum256([]byte(tabID))
	basename := hex.EncodeToString(sum[:])

	parts := []string{s.cfg.Basedir}
	for i := 0; i < dirPrefixLength*dirPrefixDepth; i += dirPrefixLength {
		parts = append(parts, basename[i:i+dirPrefixLength])
	}

	return filepath.Join(append(parts, basename)...)
}

func (s *FileStore) secretFile(dir, key string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%s", key, secretExt))
}

// flock locks a sibling of dir, which survives Clear removing dir itself.
func (s *FileStore) flock(ctx context.Context, dir string, mode int) (release func(), err error) {
	lockfile := dir + ".lock"

	if err := os.MkdirAll(filepath.Dir(lockfile), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir all: %w", err)
	}

	file, err := os.OpenFile(lockfile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lockfile: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), mode); err != nil {
		_ = file.Close()

		s.log.ErrorContext(ctx, "lock failed", "lockfile", lockfile, "error", err)

		return nil, fmt.Errorf("flock: %w", err)
	}

	return func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
	}, nil
}
