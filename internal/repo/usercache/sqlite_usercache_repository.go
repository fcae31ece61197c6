package usercache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
)

// SQLiteRepositoryConfig holds configuration for the SQLite user cache.
type SQLiteRepositoryConfig struct {
	// DatabasePath defaults to a private in-memory database so the cache stays volatile
	DatabasePath string `env:"DATABASE_PATH" default:"file::memory:"`
}

// SQLiteRepository implements Repository on SQLite.
type SQLiteRepository struct {
	db        *sql.DB
	log       logging.Logger
	writeLock *sync.Mutex // go-sqlite does not support concurrent writes
}

var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepositoryFactory returns a factory for SQLiteRepository.
func SQLiteRepositoryFactory(cfg SQLiteRepositoryConfig) RepositoryFactory {
	return func() (Repository, error) {
		return NewSQLiteRepository(cfg)
	}
}

// NewSQLiteRepository opens the database and creates the schema if needed.
func NewSQLiteRepository(cfg SQLiteRepositoryConfig) (*SQLiteRepository, error) {
	log := logging.GetLogger("repo.usercache.sqlite").With(
		logging.Group("db", "path", cfg.DatabasePath),
	)

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// every connection to file::memory: is its own database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cached_users (
			tab_id     TEXT    PRIMARY KEY,
			payload    TEXT    NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteRepository{
		db:        db,
		log:       log,
		writeLock: new(sync.Mutex),
	}, nil
}

// Get implements Repository.Get using SQLite.
func (r *SQLiteRepository) Get(ctx context.Context, tabID string) (domain.CachedUser, bool, error) {
	var payload string

	err := r.db.QueryRowContext(ctx,
		"SELECT payload FROM cached_users WHERE tab_id = ?",
		tabID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CachedUser{}, false, nil
		}

		return domain.CachedUser{}, false, fmt.Errorf("query cached user: %w", err)
	}

	var user domain.CachedUser
	if err := json.Unmarshal([]byte(payload), &user); err != nil {
		return domain.CachedUser{}, false, fmt.Errorf("unmarshal cached user: %w", err)
	}

	return user, true, nil
}

// Put implements Repository.Put using SQLite.
func (r *SQLiteRepository) Put(ctx context.Context, tabID string, user domain.CachedUser) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal cached user: %w", err)
	}

	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO cached_users (tab_id, payload, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT (tab_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, tabID, string(payload)); err != nil {
		return fmt.Errorf("upsert cached user: %w", err)
	}

	return nil
}

// Delete implements Repository.Delete using SQLite.
func (r *SQLiteRepository) Delete(ctx context.Context, tabID string) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	if _, err := r.db.ExecContext(ctx, "DELETE FROM cached_users WHERE tab_id = ?", tabID); err != nil {
		return fmt.Errorf("delete cached user: %w", err)
	}

	return nil
}

// Close implements Repository.Close by closing the database connection.
func (r *SQLiteRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}
