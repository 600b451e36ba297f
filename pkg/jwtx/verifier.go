package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrKindMismatch = errors.New("jwtx: token kind mismatch")
	ErrMissingClaim = errors.New("jwtx: missing required claim")

	ErrConfig = errors.New("jwtx: invalid codec config")
)

// shaped is implemented by claim types that know their required fields.
type shaped interface {
	jwt.Claims
	validateShape() error
}

// verify parses and checks a token against one signing context. Signature
// is checked before any time based claim, so a forged token never reports
// ErrExpired.
func verify(h hmacContext, token string, claims shaped, issuer string, leeway time.Duration, now func() time.Time) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(now),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	if _, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, h.key); err != nil {
		return classify(err)
	}

	return claims.validateShape()
}

// verifySignature is verify without the time based claims. The issuer and
// the token shape are still checked.
func verifySignature(h hmacContext, token string, claims shaped, issuer string) error {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := p.ParseWithClaims(token, claims, h.key); err != nil {
		return classify(err)
	}
	if issuer != "" {
		if iss, err := claims.GetIssuer(); err != nil || iss != issuer {
			return ErrIssuer
		}
	}
	return claims.validateShape()
}

// decode reads claims without checking the signature or the time claims.
// Only the shape of the token is enforced.
func decode(token string, claims shaped) error {
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return claims.validateShape()
}

// classify maps golang-jwt errors onto ours. Order matters, a token can
// fail several checks at once.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}
