package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aussiebroadwan/academy/internal/auth/domain"
	"github.com/aussiebroadwan/academy/internal/auth/store"
	"github.com/aussiebroadwan/academy/internal/auth/telemetry"
	"github.com/aussiebroadwan/academy/pkg/cryptox"
	"github.com/aussiebroadwan/academy/pkg/idx"
	"github.com/aussiebroadwan/academy/pkg/jwtx"
	"github.com/aussiebroadwan/academy/pkg/slogx"
)

// DefaultOpTimeout bounds a single session store call.
const DefaultOpTimeout = 2 * time.Second

// IdentityLookup re-reads a user's identity on refresh. It returns
// store.ErrNotFound when the user no longer exists.
type IdentityLookup interface {
	LookupIdentity(ctx context.Context, userID string) (domain.Identity, error)
}

type SessionManagerConfig struct {
	Codec *jwtx.Codec
	Store store.KV

	// SessionTTL is how long a session record lives. Defaults to the
	// codec's refresh token TTL.
	SessionTTL time.Duration

	// OpTimeout bounds each store call. Defaults to DefaultOpTimeout.
	OpTimeout time.Duration

	// Identities is optional. When set, Refresh fails for users that have
	// been deleted and re-signs the access token with the current email.
	Identities IdentityLookup

	Metrics *telemetry.Metrics // optional
	Tracer  trace.Tracer       // defaults to telemetry.Tracer()
}

// SessionManager issues, rotates and revokes token pairs. It keeps no state
// of its own; sessions and the blacklist live in the KV store, so any number
// of instances can share one store.
type SessionManager struct {
	codec      *jwtx.Codec
	sessions   *store.Sessions
	blacklist  *store.Blacklist
	sessionTTL time.Duration
	opTimeout  time.Duration
	identities IdentityLookup
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
}

func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.Codec == nil {
		return nil, errors.New("service: session manager needs a codec")
	}
	if cfg.Store == nil {
		return nil, errors.New("service: session manager needs a store")
	}
	if cfg.SessionTTL < 0 || cfg.OpTimeout < 0 {
		return nil, errors.New("service: session ttl and op timeout must not be negative")
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = cfg.Codec.RefreshTTL()
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer()
	}

	return &SessionManager{
		codec:      cfg.Codec,
		sessions:   store.NewSessions(cfg.Store),
		blacklist:  store.NewBlacklist(cfg.Store),
		sessionTTL: cfg.SessionTTL,
		opTimeout:  cfg.OpTimeout,
		identities: cfg.Identities,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}, nil
}

// Login starts a new session for ident. No tokens are returned unless the
// session record was written.
func (m *SessionManager) Login(ctx context.Context, ident domain.Identity) (pair domain.TokenPair, err error) {
	ctx, done := m.begin(ctx, "login")
	defer func() { done(err) }()

	if ident.UserID == "" {
		return domain.TokenPair{}, ErrInvalidRequest
	}
	return m.issue(ctx, ident, m.codec.Now())
}

// Refresh trades a refresh token for a new pair. The old session is deleted
// and the access token minted with it is blacklisted, so neither of the old
// tokens works afterwards. When several callers present the same token at
// once only one of them gets a pair.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (pair domain.TokenPair, err error) {
	ctx, done := m.begin(ctx, "refresh")
	defer func() { done(err) }()

	// Bad tokens must not reach the store.
	claims, err := m.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return domain.TokenPair{}, refreshTokenError(err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.session_id", claims.SID))

	sess, err := m.getSession(ctx, claims.SID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TokenPair{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.TokenPair{}, internal("load session", err)
	}

	// The session only honours the refresh token it was last issued with.
	if sess.UserID != claims.Subject || !cryptox.MatchFingerprint(refreshToken, sess.RefreshTokenHash) {
		return domain.TokenPair{}, ErrSessionNotFound
	}

	ident := domain.Identity{UserID: sess.UserID, Email: sess.Email}
	if m.identities != nil {
		current, err := m.lookupIdentity(ctx, sess.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrSessionNotFound
		}
		if err != nil {
			return domain.TokenPair{}, internal("lookup identity", err)
		}
		ident = current
	}

	now := m.codec.Now()
	if err := m.revoke(ctx, sess.AccessTokenID, sess.AccessRemaining(now), "rotation"); err != nil {
		return domain.TokenPair{}, internal("blacklist rotated access token", err)
	}

	deleted, err := m.deleteSession(ctx, sess.ID)
	if err != nil {
		return domain.TokenPair{}, internal("delete rotated session", err)
	}
	if !deleted {
		// Someone else rotated this session between our read and delete.
		return domain.TokenPair{}, ErrSessionNotFound
	}

	return m.issue(ctx, ident, now)
}

// Logout ends the session named by refreshToken and blacklists accessToken.
// The access token must carry a valid signature but may have expired; the
// refresh token is only decoded. A session that is already gone is not an
// error, so repeated calls succeed.
func (m *SessionManager) Logout(ctx context.Context, accessToken, refreshToken string) (err error) {
	ctx, done := m.begin(ctx, "logout")
	defer func() { done(err) }()

	rc, err := m.codec.DecodeRefresh(refreshToken)
	if err != nil {
		return fmt.Errorf("%w: refresh token is malformed", ErrInvalidRequest)
	}
	ac, err := m.codec.VerifyAccessSignature(accessToken)
	if err != nil {
		return logoutTokenError(err)
	}

	now := m.codec.Now()

	sess, err := m.getSession(ctx, rc.SID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Already rotated, logged out or expired.
	case err != nil:
		return internal("load session", err)
	case cryptox.MatchFingerprint(refreshToken, sess.RefreshTokenHash):
		if _, err := m.deleteSession(ctx, sess.ID); err != nil {
			return internal("delete session", err)
		}
		if sess.AccessTokenID != ac.ID {
			if err := m.revoke(ctx, sess.AccessTokenID, sess.AccessRemaining(now), "logout"); err != nil {
				return internal("blacklist session access token", err)
			}
		}
	default:
		// A stale refresh token does not get to end the session that
		// replaced it.
		slogx.FromContext(ctx).Debug("logout with superseded refresh token", slog.String("session_id", rc.SID))
	}

	if err := m.revoke(ctx, ac.ID, ac.RemainingTTL(now), "logout"); err != nil {
		return internal("blacklist access token", err)
	}
	return nil
}

// Authorize checks an access token on a protected request. Blacklist lookup
// failures are reported as ErrInternal, never as a pass.
func (m *SessionManager) Authorize(ctx context.Context, accessToken string) (ident domain.Identity, err error) {
	ctx, done := m.begin(ctx, "authorize")
	defer func() { done(err) }()

	claims, err := m.codec.VerifyAccess(accessToken)
	if err != nil {
		return domain.Identity{}, accessTokenError(err)
	}

	revoked, err := m.isRevoked(ctx, claims.ID)
	if err != nil {
		return domain.Identity{}, internal("check blacklist", err)
	}
	if revoked {
		return domain.Identity{}, ErrRevoked
	}

	return domain.Identity{
		UserID:  claims.Subject,
		Email:   claims.Email,
		TokenID: claims.ID,
	}, nil
}

// issue signs a new pair and persists the session that backs it.
func (m *SessionManager) issue(ctx context.Context, ident domain.Identity, now time.Time) (domain.TokenPair, error) {
	sessionID := idx.NewAt(now).String()

	access, accessClaims, err := m.codec.SignAccess(jwtx.NewAccessClaims(ident.UserID, ident.Email, now))
	if err != nil {
		return domain.TokenPair{}, internal("sign access token", err)
	}
	refresh, refreshClaims, err := m.codec.SignRefresh(jwtx.NewRefreshClaims(sessionID, ident.UserID, now))
	if err != nil {
		return domain.TokenPair{}, internal("sign refresh token", err)
	}

	sess := domain.Session{
		ID:               sessionID,
		UserID:           ident.UserID,
		Email:            ident.Email,
		RefreshTokenHash: cryptox.FingerprintToken(refresh),
		AccessTokenID:    accessClaims.ID,
		AccessExpiresAt:  accessClaims.Expiry(),
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.sessionTTL),
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	if err := m.sessions.Put(opCtx, sess, m.sessionTTL); err != nil {
		return domain.TokenPair{}, internal("write session", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.new_session_id", sessionID))

	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessClaims.Expiry(),
		RefreshExpiresAt: refreshClaims.Expiry(),
		SessionID:        sessionID,
	}, nil
}

func (m *SessionManager) getSession(ctx context.Context, id string) (domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.sessions.Get(ctx, id)
}

func (m *SessionManager) deleteSession(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.sessions.Delete(ctx, id)
}

func (m *SessionManager) isRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.blacklist.IsRevoked(ctx, jti)
}

func (m *SessionManager) lookupIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.identities.LookupIdentity(ctx, userID)
}

// revoke blacklists jti for the remaining lifetime of its token. The entry
// outlives exp by the codec leeway, since that is how long the token keeps
// verifying, but never by more than one full access token lifetime. Tokens
// past exp plus leeway are skipped.
func (m *SessionManager) revoke(ctx context.Context, jti string, remaining time.Duration, cause string) error {
	leeway := m.codec.Leeway()
	ttl := min(remaining+leeway, m.codec.AccessTTL()+leeway)
	if jti == "" || ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	if err := m.blacklist.Revoke(ctx, jti, ttl); err != nil {
		return err
	}
	m.metrics.Revoked(cause)
	return nil
}

// begin opens a span for op and returns the function that closes it,
// records metrics and logs internal failures.
func (m *SessionManager) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "SessionManager."+op)

	return ctx, func(err error) {
		outcome := Outcome(err)
		span.SetAttributes(attribute.String("auth.outcome", outcome))

		l := slogx.FromContext(ctx)
		if errors.Is(err, ErrInternal) {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			l.Error("session operation failed", slog.String("op", op), slog.Any("error", err))
		} else if err != nil {
			l.Debug("session operation rejected", slog.String("op", op), slog.String("outcome", outcome))
		}

		m.metrics.ObserveSessionOp(op, outcome, time.Since(start))
		span.End()
	}
}
