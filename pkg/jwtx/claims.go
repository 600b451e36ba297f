package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/academy/pkg/idx"
)

// Default token lifetimes.
const (
	// DefaultAccessTokenTTL keeps access tokens short lived, they are only
	// revocable through the blacklist.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL matches the lifetime of the session record the
	// refresh token points at.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Kind marks which signing context a token belongs to.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// AccessClaims are carried by access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims

	// Email of the authenticated user at the time the token was minted.
	Email string `json:"email"`

	// Kind is always KindAccess.
	Kind Kind `json:"kind"`
}

// RefreshClaims are carried by refresh tokens. They hold just enough to find
// the session that was created alongside them.
type RefreshClaims struct {
	jwt.RegisteredClaims

	// SID is the session ID the refresh token is bound to.
	SID string `json:"sid"`

	// Kind is always KindRefresh.
	Kind Kind `json:"kind"`
}

// NewAccessClaims builds access claims with a fresh jti. The codec fills in
// the issuer and expiry when it signs them.
func NewAccessClaims(subject, email string, now time.Time) AccessClaims {
	now = now.UTC()
	return AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        NewJTI(now),
		},
		Email: email,
		Kind:  KindAccess,
	}
}

// NewRefreshClaims builds refresh claims bound to sessionID.
func NewRefreshClaims(sessionID, subject string, now time.Time) RefreshClaims {
	now = now.UTC()
	return RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		SID:  sessionID,
		Kind: KindRefresh,
	}
}

// NewJTI returns a ULID for the "jti" claim so token IDs sort by issue time.
func NewJTI(now time.Time) string {
	return idx.NewAt(now).String()
}

// Expiry returns the exp claim, or the zero time when it's absent.
func (c AccessClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// RemainingTTL is how long the token stays valid after now. It is zero or
// negative once the token has expired.
func (c AccessClaims) RemainingTTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// Expiry returns the exp claim, or the zero time when it's absent.
func (c RefreshClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (c *AccessClaims) validateShape() error {
	if c.Kind != KindAccess {
		return ErrKindMismatch
	}
	if c.Subject == "" || c.ID == "" || c.ExpiresAt == nil {
		return ErrMissingClaim
	}
	return nil
}

func (c *RefreshClaims) validateShape() error {
	if c.Kind != KindRefresh {
		return ErrKindMismatch
	}
	if c.Subject == "" || c.SID == "" || c.ExpiresAt == nil {
		return ErrMissingClaim
	}
	return nil
}
