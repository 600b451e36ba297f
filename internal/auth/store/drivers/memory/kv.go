// Package memory is an in-process session store backend. It is used for
// single-node development and in tests; state is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/academy/internal/auth/store"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) live(now time.Time) bool { return now.Before(e.expiresAt) }

// KV implements store.KV over a mutex guarded map.
type KV struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

var _ store.KV = (*KV)(nil)

type Option func(*KV)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(kv *KV) { kv.now = now }
}

func New(opts ...Option) *KV {
	kv := &KV{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

func (kv *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return store.ErrInvalidTTL
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	kv.entries[key] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: kv.now().Add(ttl),
	}
	return nil
}

func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.lookup(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (kv *KV) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	_, ok := kv.lookup(key)
	delete(kv.entries, key)
	return ok, nil
}

func (kv *KV) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	_, ok := kv.lookup(key)
	return ok, nil
}

// TTL returns the time left on key, or store.ErrNotFound. It sits outside
// store.KV and is only used to inspect expiry.
func (kv *KV) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.lookup(key)
	if !ok {
		return 0, store.ErrNotFound
	}
	return e.expiresAt.Sub(kv.now()), nil
}

func (kv *KV) Ping(ctx context.Context) error { return ctx.Err() }

func (kv *KV) Close() error { return nil }

// PurgeExpired drops every expired entry and returns how many went.
func (kv *KV) PurgeExpired() int {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	now := kv.now()
	n := 0
	for k, e := range kv.entries {
		if !e.live(now) {
			delete(kv.entries, k)
			n++
		}
	}
	return n
}

// Len counts stored entries, expired ones included until purged.
func (kv *KV) Len() int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return len(kv.entries)
}

// lookup must be called with mu held. Expired entries are dropped on sight.
func (kv *KV) lookup(key string) (entry, bool) {
	e, ok := kv.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.live(kv.now()) {
		delete(kv.entries, key)
		return entry{}, false
	}
	return e, true
}
