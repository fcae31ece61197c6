package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
)

// SQLiteUserRepositoryConfig holds configuration for the SQLite user repository.
type SQLiteUserRepositoryConfig struct {
	// DatabasePath is the filesystem path to the SQLite database file
	DatabasePath string `env:"DATABASE_PATH" default:"var/storage/identitydev.db"`
}

// SQLiteUserRepository implements Repository using SQLite as the storage backend.
type SQLiteUserRepository struct {
	db        *sql.DB
	log       logging.Logger
	writeLock *sync.Mutex // go-sqlite does not support concurrent writes
}

var _ Repository = (*SQLiteUserRepository)(nil)

// SQLiteUserRepositoryFactory creates a factory function that returns a new SQLiteUserRepository.
// The factory function implements the RepositoryFactory type.
func SQLiteUserRepositoryFactory(cfg SQLiteUserRepositoryConfig) RepositoryFactory {
	return func() (Repository, error) {
		return NewSQLiteUserRepository(cfg)
	}
}

// NewSQLiteUserRepository creates a new SQLiteUserRepository with the given configuration.
// It initializes the database connection and creates the schema if needed.
// Returns an error if database connection or initialization fails.
func NewSQLiteUserRepository(cfg SQLiteUserRepositoryConfig) (*SQLiteUserRepository, error) {
	log := logging.GetLogger("repo.user.sqlite_user_repository").With(
		logging.Group("db", "path", cfg.DatabasePath),
	)

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// an in-memory database lives as long as its only connection
	if strings.Contains(cfg.DatabasePath, ":memory:") {
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := initializeDB(db); err != nil {
		return nil, fmt.Errorf("initialize db: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteUserRepository{
		db:        db,
		log:       log,
		writeLock: new(sync.Mutex),
	}, nil
}

func initializeDB(db *sql.DB) (err error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                 TEXT    PRIMARY KEY,
			email              TEXT    UNIQUE NOT NULL COLLATE NOCASE,
			username           TEXT    UNIQUE NOT NULL,
			password_hash      BLOB    NOT NULL,
			role               TEXT    NOT NULL,
			kyc_status         TEXT    NOT NULL,
			phone              TEXT    NOT NULL DEFAULT '',
			reputation_score   REAL    NOT NULL DEFAULT 0,
			total_transactions INTEGER NOT NULL DEFAULT 0,
			avatar_url         TEXT    NOT NULL DEFAULT '',
			mfa_enabled        INTEGER NOT NULL DEFAULT 0,
			created_at         INTEGER NOT NULL,
			email_verified_at  INTEGER
		)
	`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// CreateUser implements Repository.CreateUser using SQLite.
func (r *SQLiteUserRepository) CreateUser(ctx context.Context, record Record) (err error) {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	var verifiedAt sql.NullInt64
	if record.EmailVerifiedAt != nil {
		verifiedAt = sql.NullInt64{Int64: record.EmailVerifiedAt.Unix(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, username, password_hash, role, kyc_status, phone,
			reputation_score, total_transactions, avatar_url, mfa_enabled,
			created_at, email_verified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Email,
		record.Username,
		record.PasswordHash,
		string(record.Role),
		string(record.KYCStatus),
		record.Phone,
		record.ReputationScore,
		record.TotalTransactions,
		record.AvatarURL,
		record.MFAEnabled,
		record.CreatedAt.Unix(),
		verifiedAt,
	)
	if err != nil {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) {
			switch liteErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
				fallthrough
			case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				err = errors.Join(domain.ErrUserAlreadyExists, err)
			default:
				break
			}
		}

		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

const selectUser = `
	SELECT id, email, username, password_hash, role, kyc_status, phone,
	       reputation_score, total_transactions, avatar_url, mfa_enabled,
	       created_at, email_verified_at
	FROM users`

// GetUserByEmail implements Repository.GetUserByEmail using SQLite.
func (r *SQLiteUserRepository) GetUserByEmail(ctx context.Context, email string) (*Record, bool, error) {
	return r.getUser(ctx, selectUser+" WHERE email = ?", email)
}

// GetUserByID implements Repository.GetUserByID using SQLite.
func (r *SQLiteUserRepository) GetUserByID(ctx context.Context, id string) (*Record, bool, error) {
	return r.getUser(ctx, selectUser+" WHERE id = ?", id)
}

func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, arg string) (*Record, bool, error) {
	var (
		record     Record
		role, kyc  string
		createdAt  int64
		verifiedAt sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&record.ID,
		&record.Email,
		&record.Username,
		&record.PasswordHash,
		&role,
		&kyc,
		&record.Phone,
		&record.ReputationScore,
		&record.TotalTransactions,
		&record.AvatarURL,
		&record.MFAEnabled,
		&createdAt,
		&verifiedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("query user: %w", err)
	}

	record.Role = domain.Role(role)
	record.KYCStatus = domain.KYCStatus(kyc)
	record.CreatedAt = time.Unix(createdAt, 0).UTC()

	if verifiedAt.Valid {
		t := time.Unix(verifiedAt.Int64, 0).UTC()
		record.EmailVerifiedAt = &t
	}

	return &record, true, nil
}

// Close implements Repository.Close by closing the database connection.
func (r *SQLiteUserRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}
