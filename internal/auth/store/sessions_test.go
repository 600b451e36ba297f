package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/academy/internal/auth/domain"
	"github.com/aussiebroadwan/academy/internal/auth/store"
	"github.com/aussiebroadwan/academy/internal/auth/store/drivers/memory"
)

func TestSessions_RoundTrip(t *testing.T) {
	kv := memory.New()
	sessions := store.NewSessions(kv)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := domain.Session{
		ID:               "01HZX",
		UserID:           "u1",
		Email:            "u1@example.com",
		RefreshTokenHash: "fp",
		AccessTokenID:    "jti-1",
		AccessExpiresAt:  now.Add(15 * time.Minute),
		CreatedAt:        now,
		ExpiresAt:        now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, sessions.Put(ctx, s, time.Hour))

	ok, err := kv.Exists(ctx, "session:01HZX")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.UserID, got.UserID)
	require.Equal(t, s.AccessTokenID, got.AccessTokenID)
	require.WithinDuration(t, s.AccessExpiresAt, got.AccessExpiresAt, 0)

	deleted, err := sessions.Delete(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = sessions.Get(ctx, s.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessions_PutRequiresID(t *testing.T) {
	sessions := store.NewSessions(memory.New())
	require.Error(t, sessions.Put(context.Background(), domain.Session{}, time.Hour))
}

func TestSessions_CorruptRecord(t *testing.T) {
	kv := memory.New()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, store.SessionKey("bad"), []byte("{"), time.Hour))

	_, err := store.NewSessions(kv).Get(ctx, "bad")
	require.Error(t, err)
	require.NotErrorIs(t, err, store.ErrNotFound)
}

func TestBlacklist(t *testing.T) {
	kv := memory.New()
	bl := store.NewBlacklist(kv)
	ctx := context.Background()

	require.NoError(t, bl.Revoke(ctx, "jti-1", time.Minute))
	revoked, err := bl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	raw, err := kv.Get(ctx, "blacklist:jti-1")
	require.NoError(t, err)
	require.Equal(t, "true", string(raw))

	revoked, err = bl.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestBlacklist_SkipsDeadTokens(t *testing.T) {
	kv := memory.New()
	bl := store.NewBlacklist(kv)

	require.NoError(t, bl.Revoke(context.Background(), "jti-1", 0))
	require.NoError(t, bl.Revoke(context.Background(), "jti-2", -time.Second))
	require.Zero(t, kv.Len())
}
