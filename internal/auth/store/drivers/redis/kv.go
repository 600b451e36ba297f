// Package redis is the production session store backend. Expiry is left to
// Redis itself; every key is written with PX.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/academy/internal/auth/store"
)

// Config holds what is needed to dial a single Redis node.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key, separated by a colon.
	Prefix string
}

// KV implements store.KV on a Redis client.
type KV struct {
	client redis.UniversalClient
	prefix string
}

var _ store.KV = (*KV)(nil)

// Open dials Redis and checks the connection.
func Open(ctx context.Context, cfg Config) (*KV, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.Prefix), nil
}

// New wraps an existing client. The KV owns the client from here on and
// closes it in Close.
func New(client redis.UniversalClient, prefix string) *KV {
	return &KV{client: client, prefix: prefix}
}

func (kv *KV) key(k string) string {
	if kv.prefix == "" {
		return k
	}
	return kv.prefix + ":" + k
}

func (kv *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return store.ErrInvalidTTL
	}
	return kv.client.Set(ctx, kv.key(key), value, ttl).Err()
}

func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := kv.client.Get(ctx, kv.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Delete relies on DEL returning the number of keys it removed; Redis runs
// commands one at a time so only one of several racing callers gets 1.
func (kv *KV) Delete(ctx context.Context, key string) (bool, error) {
	n, err := kv.client.Del(ctx, kv.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (kv *KV) Exists(ctx context.Context, key string) (bool, error) {
	n, err := kv.client.Exists(ctx, kv.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TTL returns the time left on key, or store.ErrNotFound. It sits outside
// store.KV and is only used to inspect expiry.
func (kv *KV) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := kv.client.PTTL(ctx, kv.key(key)).Result()
	if err != nil {
		return 0, err
	}
	// PTTL answers -2 for a missing key and -1 for a key without expiry.
	switch d {
	case -2:
		return 0, store.ErrNotFound
	case -1:
		return 0, fmt.Errorf("redis: key %q has no expiry", key)
	}
	return d, nil
}

func (kv *KV) Ping(ctx context.Context) error {
	return kv.client.Ping(ctx).Err()
}

func (kv *KV) Close() error {
	return kv.client.Close()
}
