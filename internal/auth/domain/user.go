package domain

import "time"

// User is an account in the credential store.
type User struct {
	ID           string
	Email        string // unique, stored lower case
	Username     string
	PasswordHash string // argon2id PHC string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is what an authenticated request knows about its caller.
type Identity struct {
	UserID string
	Email  string

	// TokenID is the jti of the access token that proved the identity. It is
	// empty for identities that came straight from the credential store.
	TokenID string
}

// Identity returns the identity of u.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email}
}
