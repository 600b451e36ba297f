package domain

import "time"

// TokenPair is what login and refresh hand back: a short lived access token
// and the single use refresh token that can replace it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string // always "Bearer"

	// AccessExpiresAt and RefreshExpiresAt are the exp claims of the two
	// tokens.
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time

	// SessionID of the session the refresh token is bound to.
	SessionID string
}

// ExpiresIn is the access token lifetime left at now, in whole seconds.
func (p TokenPair) ExpiresIn(now time.Time) int {
	return max(int(p.AccessExpiresAt.Sub(now).Seconds()), 0)
}
