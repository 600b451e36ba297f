package service_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/academy/internal/auth/service"
	"github.com/aussiebroadwan/academy/internal/auth/store/drivers/memory"
)

func TestHousekeepingSweep(t *testing.T) {
	c := &clock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	kv := memory.New(memory.WithClock(c.Now))
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "blacklist:a", []byte("true"), time.Minute))
	require.NoError(t, kv.Set(ctx, "session:b", []byte("{}"), time.Hour))
	c.Advance(2 * time.Minute)

	hk := service.NewHousekeepingService(kv, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	require.Equal(t, time.Minute, hk.Interval)
	require.Equal(t, 1, hk.Sweep())
	require.Equal(t, 1, kv.Len())
}

func TestHousekeepingStartStop(t *testing.T) {
	kv := memory.New()
	hk := service.NewHousekeepingService(kv, slog.New(slog.NewTextHandler(io.Discard, nil)), 10*time.Millisecond)
	hk.Start()
	time.Sleep(30 * time.Millisecond)
	hk.Stop()
}
