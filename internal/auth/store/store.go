package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/academy/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrInvalidTTL    = errors.New("store: ttl must be positive")
)

// KV is the session store backend: a flat key space where every entry
// carries its own expiry. Expired entries behave exactly like missing ones.
type KV interface {
	// Set writes value under key, replacing any previous entry. ttl must be
	// positive.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key and reports whether a live entry was there. When
	// two callers race to delete the same key exactly one sees true.
	Delete(ctx context.Context, key string) (bool, error)

	Exists(ctx context.Context, key string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// CredentialStore is the relational side of the service: user accounts.
// Concrete drivers (sqlite) implement this.
type CredentialStore interface {
	Users() Users

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn inside a transaction, committing when fn returns nil
	// and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional credential store.
type Tx interface {
	CredentialStore
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail matches case-insensitively.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by the caller as a ULID).
	// A duplicate email fails with ErrAlreadyExists.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	DeleteUser(ctx context.Context, userID string) error
}
