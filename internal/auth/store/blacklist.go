package store

import (
	"context"
	"time"
)

var revokedMarker = []byte("true")

// Blacklist records revoked access token ids until the token would have
// expired on its own.
type Blacklist struct {
	kv KV
}

func NewBlacklist(kv KV) *Blacklist {
	return &Blacklist{kv: kv}
}

func BlacklistKey(jti string) string { return BlacklistPrefix + jti }

// Revoke blacklists jti for ttl. A non-positive ttl means the token is
// already dead and nothing is written.
func (b *Blacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.kv.Set(ctx, BlacklistKey(jti), revokedMarker, ttl)
}

func (b *Blacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return b.kv.Exists(ctx, BlacklistKey(jti))
}
