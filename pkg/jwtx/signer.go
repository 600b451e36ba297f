package jwtx

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// hmacContext is one HS256 signing context. Access and refresh tokens each
// get their own so a key leak or a mix-up in one can't mint the other.
type hmacContext struct {
	kind   Kind
	secret []byte
	ttl    time.Duration
}

func newHMACContext(kind Kind, secret string, ttl time.Duration) (hmacContext, error) {
	if secret == "" {
		return hmacContext{}, fmt.Errorf("%w: %s secret is empty", ErrConfig, kind)
	}
	if len(secret) < MinSecretLength {
		return hmacContext{}, fmt.Errorf("%w: %s secret shorter than %d bytes", ErrConfig, kind, MinSecretLength)
	}
	if ttl <= 0 {
		return hmacContext{}, fmt.Errorf("%w: %s ttl must be positive", ErrConfig, kind)
	}
	return hmacContext{kind: kind, secret: []byte(secret), ttl: ttl}, nil
}

// sign signs claims with the context secret. Claims must already carry exp.
func (h hmacContext) sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["typ"] = "JWT"
	s, err := t.SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign %s token: %w", h.kind, err)
	}
	return s, nil
}

// key is the jwt.Keyfunc for this context.
func (h hmacContext) key(*jwt.Token) (any, error) {
	return h.secret, nil
}
