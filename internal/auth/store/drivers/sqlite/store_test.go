package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/academy/internal/auth/domain"
	"github.com/aussiebroadwan/academy/internal/auth/store"
	"github.com/aussiebroadwan/academy/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/academy/pkg/idx"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func newUser(email string) domain.User {
	return domain.User{
		ID:           idx.New().String(),
		Email:        email,
		Username:     "learner",
		PasswordHash: "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA",
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestUsers_CreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u := newUser("Ada@Example.com")
	require.NoError(t, s.Users().CreateUser(ctx, u))

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", got.Email)
	require.Equal(t, u.Username, got.Username)
	require.Equal(t, u.PasswordHash, got.PasswordHash)
	require.False(t, got.CreatedAt.IsZero())

	got, err = s.Users().GetUserByEmail(ctx, "ADA@example.COM")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
}

func TestUsers_NotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Users().GetUserByID(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Users().GetUserByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, s.Users().DeleteUser(ctx, "nope"), store.ErrNotFound)
	require.ErrorIs(t, s.Users().UpdatePasswordHash(ctx, "nope", "x"), store.ErrNotFound)
}

func TestUsers_DuplicateEmail(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Users().CreateUser(ctx, newUser("dup@example.com")))
	err := s.Users().CreateUser(ctx, newUser("DUP@example.com"))
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestUsers_UpdatePasswordHash(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u := newUser("pw@example.com")
	u.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Users().CreateUser(ctx, u))
	require.NoError(t, s.Users().UpdatePasswordHash(ctx, u.ID, "new-hash"))

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "new-hash", got.PasswordHash)
	require.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestUsers_Delete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u := newUser("gone@example.com")
	require.NoError(t, s.Users().CreateUser(ctx, u))
	require.NoError(t, s.Users().DeleteUser(ctx, u.ID))

	_, err := s.Users().GetUserByID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u := newUser("tx@example.com")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Users().CreateUser(ctx, u))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Users().GetUserByID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTx_Commits(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u := newUser("commit@example.com")
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.Users().CreateUser(ctx, u)
	}))

	_, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
}
