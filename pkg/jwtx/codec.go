package jwtx

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HS256 secret the codec accepts.
const MinSecretLength = 32

// Config holds the key material and lifetimes for both signing contexts.
type Config struct {
	Issuer string

	AccessSecret string
	AccessTTL    time.Duration

	RefreshSecret string
	RefreshTTL    time.Duration

	// Leeway allows small clock skew when validating exp/nbf/iat.
	Leeway time.Duration

	// Now overrides the clock, mainly for tests. Defaults to time.Now.
	Now func() time.Time
}

// Codec signs and verifies access and refresh tokens. It does no I/O and is
// safe for concurrent use.
type Codec struct {
	issuer  string
	access  hmacContext
	refresh hmacContext
	leeway  time.Duration
	now     func() time.Time
}

// NewCodec validates cfg and returns a Codec. Both secrets are required and
// must differ, so neither kind of token can verify under the other's key.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}
	if cfg.Leeway < 0 {
		return nil, fmt.Errorf("%w: leeway must not be negative", ErrConfig)
	}

	access, err := newHMACContext(KindAccess, cfg.AccessSecret, cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := newHMACContext(KindRefresh, cfg.RefreshSecret, cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Codec{
		issuer:  cfg.Issuer,
		access:  access,
		refresh: refresh,
		leeway:  cfg.Leeway,
		now:     now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.access.ttl }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refresh.ttl }

// Leeway returns the clock skew allowed past exp. A token keeps verifying
// for this long after it expires.
func (c *Codec) Leeway() time.Duration { return c.leeway }

// Now returns the codec clock in UTC.
func (c *Codec) Now() time.Time { return c.now().UTC() }

// SignAccess signs claims as an access token. Issuer, kind and exp are set
// here, exp counting from the claims' iat (or now when iat is missing). The
// claims as signed are returned alongside the token.
func (c *Codec) SignAccess(claims AccessClaims) (string, AccessClaims, error) {
	issued := c.issuedAt(claims.IssuedAt)
	claims.IssuedAt = jwt.NewNumericDate(issued)
	if claims.NotBefore == nil {
		claims.NotBefore = jwt.NewNumericDate(issued)
	}
	if claims.ID == "" {
		claims.ID = NewJTI(issued)
	}
	claims.Issuer = c.issuer
	claims.Kind = KindAccess
	claims.ExpiresAt = jwt.NewNumericDate(issued.Add(c.access.ttl))

	if err := claims.validateShape(); err != nil {
		return "", AccessClaims{}, err
	}

	token, err := c.access.sign(claims)
	if err != nil {
		return "", AccessClaims{}, err
	}
	return token, claims, nil
}

// SignRefresh signs claims as a refresh token, see SignAccess.
func (c *Codec) SignRefresh(claims RefreshClaims) (string, RefreshClaims, error) {
	issued := c.issuedAt(claims.IssuedAt)
	claims.IssuedAt = jwt.NewNumericDate(issued)
	claims.Issuer = c.issuer
	claims.Kind = KindRefresh
	claims.ExpiresAt = jwt.NewNumericDate(issued.Add(c.refresh.ttl))

	if err := claims.validateShape(); err != nil {
		return "", RefreshClaims{}, err
	}

	token, err := c.refresh.sign(claims)
	if err != nil {
		return "", RefreshClaims{}, err
	}
	return token, claims, nil
}

// VerifyAccess checks the signature, the time claims and the shape of an
// access token. Errors are one of ErrMalformed, ErrInvalidSig, ErrExpired,
// ErrNotYetValid, ErrIssuer, ErrKindMismatch or ErrMissingClaim.
func (c *Codec) VerifyAccess(token string) (AccessClaims, error) {
	var claims AccessClaims
	if err := verify(c.access, token, &claims, c.issuer, c.leeway, c.now); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// VerifyRefresh is VerifyAccess for refresh tokens.
func (c *Codec) VerifyRefresh(token string) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := verify(c.refresh, token, &claims, c.issuer, c.leeway, c.now); err != nil {
		return RefreshClaims{}, err
	}
	return claims, nil
}

// VerifyAccessSignature checks the signature, issuer and shape of an access
// token but accepts it past exp. It lets logout revoke a token that has just
// expired while still refusing forged ones.
func (c *Codec) VerifyAccessSignature(token string) (AccessClaims, error) {
	var claims AccessClaims
	if err := verifySignature(c.access, token, &claims, c.issuer); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// DecodeAccess reads an access token WITHOUT verifying it. Only use it to
// pull jti/exp out of a token for revocation.
func (c *Codec) DecodeAccess(token string) (AccessClaims, error) {
	var claims AccessClaims
	if err := decode(token, &claims); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// DecodeRefresh reads a refresh token WITHOUT verifying it.
func (c *Codec) DecodeRefresh(token string) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := decode(token, &claims); err != nil {
		return RefreshClaims{}, err
	}
	return claims, nil
}

func (c *Codec) issuedAt(iat *jwt.NumericDate) time.Time {
	if iat == nil {
		return c.Now()
	}
	return iat.Time.UTC()
}
