package domain

import "time"

// Session binds a refresh token to the user who logged in and to the access
// token minted alongside it. Sessions are never updated in place: a refresh
// deletes the record and writes a new one under a new ID.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Email  string `json:"email"`

	// RefreshTokenHash is the fingerprint of the one refresh token that may
	// still redeem this session.
	RefreshTokenHash string `json:"refreshTokenHash"`

	// AccessTokenID and AccessExpiresAt describe the paired access token so
	// it can be blacklisted for exactly as long as it would have lived.
	AccessTokenID   string    `json:"accessTokenId"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AccessRemaining is how much longer the paired access token lives after now.
func (s Session) AccessRemaining(now time.Time) time.Duration {
	return s.AccessExpiresAt.Sub(now)
}
