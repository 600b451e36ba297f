package service

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/academy/pkg/jwtx"
)

// Session errors. Every one except ErrInternal is an expected client outcome.
var (
	ErrInvalidToken    = errors.New("invalid_token")
	ErrExpired         = errors.New("token_expired")
	ErrSessionNotFound = errors.New("session_not_found")
	ErrRevoked         = errors.New("token_revoked")
	ErrMalformedToken  = errors.New("malformed_token")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrInternal        = errors.New("internal_error")
)

// Credential errors.
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrEmailTaken         = errors.New("email_taken")
	ErrUserNotFound       = errors.New("user_not_found")
)

var outcomes = []error{
	ErrInvalidToken,
	ErrExpired,
	ErrSessionNotFound,
	ErrRevoked,
	ErrMalformedToken,
	ErrInvalidRequest,
	ErrInternal,
	ErrInvalidCredentials,
	ErrEmailTaken,
	ErrUserNotFound,
}

// Outcome names err for metrics and spans: "ok", one of the sentinel names,
// or "error" for anything unclassified.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o) {
			return o.Error()
		}
	}
	return "error"
}

func internal(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, what, err)
}

// accessTokenError maps codec failures for access tokens.
func accessTokenError(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return ErrExpired
	case errors.Is(err, jwtx.ErrKindMismatch), errors.Is(err, jwtx.ErrMissingClaim):
		return ErrMalformedToken
	default:
		return ErrInvalidToken
	}
}

// refreshTokenError maps codec failures for refresh tokens. A token of the
// wrong kind is simply not a valid refresh token.
func refreshTokenError(err error) error {
	if errors.Is(err, jwtx.ErrExpired) {
		return ErrExpired
	}
	return ErrInvalidToken
}

// logoutTokenError maps signature check failures for the access token on
// logout. Garbage is a bad request; a token that parses but was not signed
// by us is an invalid token.
func logoutTokenError(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrMalformed), errors.Is(err, jwtx.ErrKindMismatch), errors.Is(err, jwtx.ErrMissingClaim):
		return fmt.Errorf("%w: access token is malformed", ErrInvalidRequest)
	default:
		return ErrInvalidToken
	}
}
