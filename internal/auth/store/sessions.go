package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/academy/internal/auth/domain"
)

const (
	SessionPrefix   = "session:"
	BlacklistPrefix = "blacklist:"
)

// Sessions stores session records as JSON under session:<id>.
type Sessions struct {
	kv KV
}

func NewSessions(kv KV) *Sessions {
	return &Sessions{kv: kv}
}

func SessionKey(id string) string { return SessionPrefix + id }

// Put writes s with the given lifetime.
func (r *Sessions) Put(ctx context.Context, s domain.Session, ttl time.Duration) error {
	if s.ID == "" {
		return errors.New("store: session without id")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	return r.kv.Set(ctx, SessionKey(s.ID), raw, ttl)
}

// Get returns ErrNotFound when the session is gone or has expired.
func (r *Sessions) Get(ctx context.Context, id string) (domain.Session, error) {
	raw, err := r.kv.Get(ctx, SessionKey(id))
	if err != nil {
		return domain.Session{}, err
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Session{}, fmt.Errorf("store: decode session %s: %w", id, err)
	}
	return s, nil
}

// Delete reports whether this call removed a live session.
func (r *Sessions) Delete(ctx context.Context, id string) (bool, error) {
	return r.kv.Delete(ctx, SessionKey(id))
}
