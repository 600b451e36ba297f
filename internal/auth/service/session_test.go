package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aussiebroadwan/academy/internal/auth/domain"
	"github.com/aussiebroadwan/academy/internal/auth/service"
	"github.com/aussiebroadwan/academy/internal/auth/store"
	"github.com/aussiebroadwan/academy/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/academy/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/academy/internal/auth/telemetry"
	"github.com/aussiebroadwan/academy/pkg/jwtx"
)

const (
	testIssuer        = "academy-auth"
	testAccessSecret  = "access-secret-access-secret-0123456789"
	testRefreshSecret = "refresh-secret-refresh-secret-0123456789"
)

var u1 = domain.Identity{UserID: "u1", Email: "u1@example.com"}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// inspectKV is a session store the tests can ask for remaining lifetimes.
// Both drivers implement it.
type inspectKV interface {
	store.KV
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// harness is one session manager over one backend. advance moves the codec
// clock and the store's notion of time together.
type harness struct {
	m       *service.SessionManager
	codec   *jwtx.Codec
	kv      inspectKV
	advance func(time.Duration)
}

type backend struct {
	name string
	open func(t *testing.T, c *clock) (inspectKV, func(time.Duration))
}

var backends = []backend{
	{
		name: "memory",
		open: func(t *testing.T, c *clock) (inspectKV, func(time.Duration)) {
			return memory.New(memory.WithClock(c.Now)), c.Advance
		},
	},
	{
		name: "redis",
		open: func(t *testing.T, c *clock) (inspectKV, func(time.Duration)) {
			mr := miniredis.RunT(t)
			kv := redis.New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "")
			t.Cleanup(func() { _ = kv.Close() })
			return kv, func(d time.Duration) {
				c.Advance(d)
				mr.FastForward(d)
			}
		},
	},
}

func newCodec(t *testing.T, c *clock) *jwtx.Codec {
	t.Helper()
	return newCodecWithLeeway(t, c, 0)
}

func newCodecWithLeeway(t *testing.T, c *clock, leeway time.Duration) *jwtx.Codec {
	t.Helper()
	codec, err := jwtx.NewCodec(jwtx.Config{
		Issuer:        testIssuer,
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Leeway:        leeway,
		Now:           c.Now,
	})
	require.NoError(t, err)
	return codec
}

func newHarness(t *testing.T, b backend, mutate ...func(*service.SessionManagerConfig)) *harness {
	t.Helper()
	return newHarnessWithLeeway(t, b, 0, mutate...)
}

func newHarnessWithLeeway(t *testing.T, b backend, leeway time.Duration, mutate ...func(*service.SessionManagerConfig)) *harness {
	t.Helper()
	c := &clock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	kv, advance := b.open(t, c)
	codec := newCodecWithLeeway(t, c, leeway)

	cfg := service.SessionManagerConfig{Codec: codec, Store: kv}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := service.NewSessionManager(cfg)
	require.NoError(t, err)

	return &harness{m: m, codec: codec, kv: kv, advance: advance}
}

// forEachBackend runs fn against every session store driver.
func forEachBackend(t *testing.T, fn func(t *testing.T, h *harness)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newHarness(t, b))
		})
	}
}

func (h *harness) login(t *testing.T) domain.TokenPair {
	t.Helper()
	pair, err := h.m.Login(context.Background(), u1)
	require.NoError(t, err)
	return pair
}

func (h *harness) jti(t *testing.T, accessToken string) string {
	t.Helper()
	claims, err := h.codec.DecodeAccess(accessToken)
	require.NoError(t, err)
	return claims.ID
}

func tamper(token string) string {
	i := len(token) - 5
	b := []byte(token)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func TestLoginThenAuthorize(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		pair := h.login(t)
		require.Equal(t, "Bearer", pair.TokenType)
		require.NotEmpty(t, pair.SessionID)

		ident, err := h.m.Authorize(context.Background(), pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "u1", ident.UserID)
		require.Equal(t, "u1@example.com", ident.Email)
		require.Equal(t, h.jti(t, pair.AccessToken), ident.TokenID)

		ok, err := h.kv.Exists(context.Background(), store.SessionKey(pair.SessionID))
		require.NoError(t, err)
		require.True(t, ok)

		ttl, err := h.kv.TTL(context.Background(), store.SessionKey(pair.SessionID))
		require.NoError(t, err)
		require.Equal(t, jwtx.DefaultRefreshTokenTTL, ttl)
	})
}

func TestLogin_RequiresUser(t *testing.T) {
	h := newHarness(t, backends[0])
	_, err := h.m.Login(context.Background(), domain.Identity{})
	require.ErrorIs(t, err, service.ErrInvalidRequest)
}

func TestLogin_SessionIDsAreUnique(t *testing.T) {
	h := newHarness(t, backends[0])
	a := h.login(t)
	b := h.login(t)
	require.NotEqual(t, a.SessionID, b.SessionID)
	require.NotEqual(t, a.RefreshToken, b.RefreshToken)
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pair := h.login(t)

		require.NoError(t, h.m.Logout(ctx, pair.AccessToken, pair.RefreshToken))

		_, err := h.m.Authorize(ctx, pair.AccessToken)
		require.ErrorIs(t, err, service.ErrRevoked)

		_, err = h.m.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrSessionNotFound)
	})
}

func TestLogoutIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pair := h.login(t)

		require.NoError(t, h.m.Logout(ctx, pair.AccessToken, pair.RefreshToken))
		require.NoError(t, h.m.Logout(ctx, pair.AccessToken, pair.RefreshToken))
	})
}

func TestRefreshRotates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		first := h.login(t)

		h.advance(time.Minute)
		second, err := h.m.Refresh(ctx, first.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, first.SessionID, second.SessionID)
		require.NotEqual(t, first.AccessToken, second.AccessToken)

		_, err = h.m.Refresh(ctx, first.RefreshToken)
		require.ErrorIs(t, err, service.ErrSessionNotFound)

		_, err = h.m.Authorize(ctx, first.AccessToken)
		require.ErrorIs(t, err, service.ErrRevoked)

		ident, err := h.m.Authorize(ctx, second.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "u1", ident.UserID)

		ok, err := h.kv.Exists(ctx, store.SessionKey(first.SessionID))
		require.NoError(t, err)
		require.False(t, ok)

		third, err := h.m.Refresh(ctx, second.RefreshToken)
		require.NoError(t, err)
		_, err = h.m.Authorize(ctx, third.AccessToken)
		require.NoError(t, err)
	})
}

func TestBlacklistLivesAsLongAsTheToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pair := h.login(t)
		key := store.BlacklistKey(h.jti(t, pair.AccessToken))

		h.advance(5 * time.Minute)
		require.NoError(t, h.m.Logout(ctx, pair.AccessToken, pair.RefreshToken))

		ttl, err := h.kv.TTL(ctx, key)
		require.NoError(t, err)
		require.Equal(t, 10*time.Minute, ttl)

		h.advance(10*time.Minute - time.Second)
		ok, err := h.kv.Exists(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)

		h.advance(time.Second)
		ok, err = h.kv.Exists(ctx, key)
		require.NoError(t, err)
		require.False(t, ok)

		// The token is past its exp by now, so it still does not authorize.
		_, err = h.m.Authorize(ctx, pair.AccessToken)
		require.ErrorIs(t, err, service.ErrExpired)
	})
}

func TestRefreshBlacklistsForRemainingLifetime(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pair := h.login(t)

		h.advance(14 * time.Minute)
		_, err := h.m.Refresh(ctx, pair.RefreshToken)
		require.NoError(t, err)

		ttl, err := h.kv.TTL(ctx, store.BlacklistKey(h.jti(t, pair.AccessToken)))
		require.NoError(t, err)
		require.Equal(t, time.Minute, ttl)
	})
}

func TestLogoutSkipsExpiredAccessToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pair := h.login(t)

		h.advance(20 * time.Minute)
		require.NoError(t, h.m.Logout(ctx, pair.AccessToken, pair.RefreshToken))

		ok, err := h.kv.Exists(ctx, store.BlacklistKey(h.jti(t, pair.AccessToken)))
		require.NoError(t, err)
		require.False(t, ok)

		_, err = h.m.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrSessionNotFound)
	})
}

func TestLogoutWithStaleRefreshTokenKeepsNewSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		first := h.login(t)
		second, err := h.m.Refresh(ctx, first.RefreshToken)
		require.NoError(t, err)

		require.NoError(t, h.m.Logout(ctx, first.AccessToken, first.RefreshToken))

		_, err = h.m.Authorize(ctx, second.AccessToken)
		require.NoError(t, err)
		_, err = h.m.Refresh(ctx, second.RefreshToken)
		require.NoError(t, err)
	})
}

func TestLogoutRevokesSessionAccessTokenWhenDifferent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		a := h.login(t)
		b := h.login(t)

		// Ending session a while presenting b's access token revokes both
		// access tokens but leaves session b alone.
		require.NoError(t, h.m.Logout(ctx, b.AccessToken, a.RefreshToken))

		_, err := h.m.Authorize(ctx, a.AccessToken)
		require.ErrorIs(t, err, service.ErrRevoked)
		_, err = h.m.Authorize(ctx, b.AccessToken)
		require.ErrorIs(t, err, service.ErrRevoked)

		_, err = h.m.Refresh(ctx, a.RefreshToken)
		require.ErrorIs(t, err, service.ErrSessionNotFound)
		_, err = h.m.Refresh(ctx, b.RefreshToken)
		require.NoError(t, err)
	})
}

func TestBlacklistCoversLeeway(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			h := newHarnessWithLeeway(t, b, 5*time.Second)
			ctx := context.Background()
			pair := h.login(t)

			h.advance(5 * time.Minute)
			require.NoError(t, h.m.Logout(ctx, pair.AccessToken, pair.RefreshToken))

			ttl, err := h.kv.TTL(ctx, store.BlacklistKey(h.jti(t, pair.AccessToken)))
			require.NoError(t, err)
			require.Equal(t, 10*time.Minute+5*time.Second, ttl)

			// Past exp but inside the leeway the token still verifies, so
			// the blacklist must still hold it.
			h.advance(10*time.Minute + 2*time.Second)
			_, err = h.m.Authorize(ctx, pair.AccessToken)
			require.ErrorIs(t, err, service.ErrRevoked)

			h.advance(3 * time.Second)
			_, err = h.m.Authorize(ctx, pair.AccessToken)
			require.ErrorIs(t, err, service.ErrExpired)
		})
	}
}

func TestRefreshBlacklistCoversLeeway(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			h := newHarnessWithLeeway(t, b, 5*time.Second)
			ctx := context.Background()
			pair := h.login(t)

			h.advance(14 * time.Minute)
			_, err := h.m.Refresh(ctx, pair.RefreshToken)
			require.NoError(t, err)

			h.advance(time.Minute + 2*time.Second)
			_, err = h.m.Authorize(ctx, pair.AccessToken)
			require.ErrorIs(t, err, service.ErrRevoked)
		})
	}
}

// forgeAccess signs access claims for jti with a key the codec does not know.
func forgeAccess(t *testing.T, subject, jti, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtx.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   subject,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC)),
		},
		Kind: jwtx.KindAccess,
	})
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestLogoutRefusesForeignAccessToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		victim := h.login(t)
		attacker := h.login(t)
		victimJTI := h.jti(t, victim.AccessToken)

		forged := forgeAccess(t, "u1", victimJTI, "some-other-secret-some-other-secret-01")
		require.ErrorIs(t, h.m.Logout(ctx, forged, attacker.RefreshToken), service.ErrInvalidToken)

		// Nothing was written: the victim is still signed in and the
		// attacker's own session survives.
		ok, err := h.kv.Exists(ctx, store.BlacklistKey(victimJTI))
		require.NoError(t, err)
		require.False(t, ok)
		_, err = h.m.Authorize(ctx, victim.AccessToken)
		require.NoError(t, err)
		_, err = h.m.Refresh(ctx, attacker.RefreshToken)
		require.NoError(t, err)
	})
}

func TestLogoutCapsBlacklistLifetime(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pair := h.login(t)

		// Signed with the real key but with an exp far beyond the access
		// token lifetime.
		long := forgeAccess(t, "u1", "long-lived", testAccessSecret)
		require.NoError(t, h.m.Logout(ctx, long, pair.RefreshToken))

		ttl, err := h.kv.TTL(ctx, store.BlacklistKey("long-lived"))
		require.NoError(t, err)
		require.Equal(t, h.codec.AccessTTL(), ttl)
	})
}

func TestLogoutRejectsMalformedTokens(t *testing.T) {
	h := newHarness(t, backends[0])
	ctx := context.Background()
	pair := h.login(t)

	err := h.m.Logout(ctx, pair.AccessToken, "not-a-token")
	require.ErrorIs(t, err, service.ErrInvalidRequest)
	require.EqualError(t, err, "invalid_request: refresh token is malformed")
	err = h.m.Logout(ctx, "not-a-token", pair.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidRequest)
	require.EqualError(t, err, "invalid_request: access token is malformed")

	// Swapped tokens decode but have the wrong kind.
	require.ErrorIs(t, h.m.Logout(ctx, pair.RefreshToken, pair.AccessToken), service.ErrInvalidRequest)

	// Nothing was revoked by the failed calls.
	_, err = h.m.Authorize(ctx, pair.AccessToken)
	require.NoError(t, err)
}

func TestRefreshRejections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pair := h.login(t)

		_, err := h.m.Refresh(ctx, "garbage")
		require.ErrorIs(t, err, service.ErrInvalidToken)

		_, err = h.m.Refresh(ctx, pair.AccessToken)
		require.ErrorIs(t, err, service.ErrInvalidToken)

		h.advance(jwtx.DefaultRefreshTokenTTL)
		_, err = h.m.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrExpired)
	})
}

func TestRefreshRequiresTheCurrentRefreshToken(t *testing.T) {
	h := newHarness(t, backends[0])
	ctx := context.Background()
	pair := h.login(t)

	// A correctly signed token for the same session that was never handed
	// out by Login does not match the stored fingerprint.
	h.advance(time.Second)
	other, _, err := h.codec.SignRefresh(jwtx.NewRefreshClaims(pair.SessionID, "u1", h.codec.Now()))
	require.NoError(t, err)

	_, err = h.m.Refresh(ctx, other)
	require.ErrorIs(t, err, service.ErrSessionNotFound)

	// A token naming someone else's session is refused the same way.
	stolen, _, err := h.codec.SignRefresh(jwtx.NewRefreshClaims(pair.SessionID, "u2", h.codec.Now()))
	require.NoError(t, err)
	_, err = h.m.Refresh(ctx, stolen)
	require.ErrorIs(t, err, service.ErrSessionNotFound)

	// The real token still works.
	_, err = h.m.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestAuthorizeRejections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pair := h.login(t)

		_, err := h.m.Authorize(ctx, "")
		require.ErrorIs(t, err, service.ErrInvalidToken)

		_, err = h.m.Authorize(ctx, tamper(pair.AccessToken))
		require.ErrorIs(t, err, service.ErrInvalidToken)

		_, err = h.m.Authorize(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrInvalidToken)

		h.advance(jwtx.DefaultAccessTokenTTL)
		_, err = h.m.Authorize(ctx, pair.AccessToken)
		require.ErrorIs(t, err, service.ErrExpired)
	})
}

func TestAuthorizeRequiresJTI(t *testing.T) {
	h := newHarness(t, backends[0])
	now := h.codec.Now()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtx.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Email: "u1@example.com",
		Kind:  jwtx.KindAccess,
	}).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	_, err = h.m.Authorize(context.Background(), token)
	require.ErrorIs(t, err, service.ErrMalformedToken)
}

func TestTamperedRefreshNeverTouchesStore(t *testing.T) {
	c := &clock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	kv := &faultyKV{KV: memory.New(memory.WithClock(c.Now))}
	m, err := service.NewSessionManager(service.SessionManagerConfig{Codec: newCodec(t, c), Store: kv})
	require.NoError(t, err)

	pair, err := m.Login(context.Background(), u1)
	require.NoError(t, err)
	kv.calls.Store(0)

	_, err = m.Refresh(context.Background(), tamper(pair.RefreshToken))
	require.ErrorIs(t, err, service.ErrInvalidToken)
	require.Zero(t, kv.calls.Load())
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		pair := h.login(t)

		const n = 16
		var (
			wg     sync.WaitGroup
			wins   atomic.Int32
			losses atomic.Int32
			other  atomic.Int32
		)
		start := make(chan struct{})
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := h.m.Refresh(context.Background(), pair.RefreshToken)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, service.ErrSessionNotFound):
					losses.Add(1)
				default:
					other.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.EqualValues(t, 1, wins.Load())
		require.EqualValues(t, n-1, losses.Load())
		require.Zero(t, other.Load())
	})
}

func TestStoreFailures(t *testing.T) {
	newFaulty := func(t *testing.T, timeout time.Duration) (*service.SessionManager, *faultyKV) {
		c := &clock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
		kv := &faultyKV{KV: memory.New(memory.WithClock(c.Now))}
		m, err := service.NewSessionManager(service.SessionManagerConfig{
			Codec:     newCodec(t, c),
			Store:     kv,
			OpTimeout: timeout,
		})
		require.NoError(t, err)
		return m, kv
	}
	ctx := context.Background()

	t.Run("login returns no tokens when the write fails", func(t *testing.T) {
		m, kv := newFaulty(t, 0)
		kv.failSet.Store(true)

		pair, err := m.Login(ctx, u1)
		require.ErrorIs(t, err, service.ErrInternal)
		require.ErrorIs(t, err, errStoreDown)
		require.Empty(t, pair.AccessToken)
		require.Empty(t, pair.RefreshToken)
	})

	t.Run("refresh keeps the old session when blacklisting fails", func(t *testing.T) {
		m, kv := newFaulty(t, 0)
		pair, err := m.Login(ctx, u1)
		require.NoError(t, err)

		kv.failSet.Store(true)
		next, err := m.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrInternal)
		require.Empty(t, next.AccessToken)

		kv.failSet.Store(false)
		_, err = m.Refresh(ctx, pair.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("refresh fails when the delete fails", func(t *testing.T) {
		m, kv := newFaulty(t, 0)
		pair, err := m.Login(ctx, u1)
		require.NoError(t, err)

		kv.failDelete.Store(true)
		_, err = m.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrInternal)
	})

	t.Run("authorize fails closed", func(t *testing.T) {
		m, kv := newFaulty(t, 0)
		pair, err := m.Login(ctx, u1)
		require.NoError(t, err)

		kv.failExists.Store(true)
		_, err = m.Authorize(ctx, pair.AccessToken)
		require.ErrorIs(t, err, service.ErrInternal)
	})

	t.Run("logout surfaces store errors", func(t *testing.T) {
		m, kv := newFaulty(t, 0)
		pair, err := m.Login(ctx, u1)
		require.NoError(t, err)

		kv.failGet.Store(true)
		require.ErrorIs(t, m.Logout(ctx, pair.AccessToken, pair.RefreshToken), service.ErrInternal)
	})

	t.Run("timed out write counts as failure", func(t *testing.T) {
		m, kv := newFaulty(t, 20*time.Millisecond)
		kv.block.Store(true)

		pair, err := m.Login(ctx, u1)
		require.ErrorIs(t, err, service.ErrInternal)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Empty(t, pair.AccessToken)
	})
}

type identities map[string]domain.Identity

func (ids identities) LookupIdentity(_ context.Context, userID string) (domain.Identity, error) {
	ident, ok := ids[userID]
	if !ok {
		return domain.Identity{}, store.ErrNotFound
	}
	return ident, nil
}

func TestRefreshRechecksIdentity(t *testing.T) {
	ids := identities{"u1": u1}
	h := newHarness(t, backends[0], func(cfg *service.SessionManagerConfig) {
		cfg.Identities = ids
	})
	ctx := context.Background()

	pair := h.login(t)
	ids["u1"] = domain.Identity{UserID: "u1", Email: "new@example.com"}

	next, err := h.m.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	ident, err := h.m.Authorize(ctx, next.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "new@example.com", ident.Email)

	delete(ids, "u1")
	_, err = h.m.Refresh(ctx, next.RefreshToken)
	require.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestSessionManagerTelemetry(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	metrics := telemetry.NewMetrics()

	h := newHarness(t, backends[0], func(cfg *service.SessionManagerConfig) {
		cfg.Tracer = tp.Tracer("test")
		cfg.Metrics = metrics
	})
	ctx := context.Background()

	pair := h.login(t)
	_, err := h.m.Refresh(ctx, pair.AccessToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "SessionManager.login", spans[0].Name)
	require.Contains(t, spans[0].Attributes, attribute.String("auth.outcome", "ok"))
	require.Equal(t, "SessionManager.refresh", spans[1].Name)
	require.Contains(t, spans[1].Attributes, attribute.String("auth.outcome", "invalid_token"))

	n, err := testutil.GatherAndCount(metrics.Registry(), "academy_auth_session_operations_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestNewSessionManager_Validation(t *testing.T) {
	c := &clock{t: time.Now()}
	_, err := service.NewSessionManager(service.SessionManagerConfig{Store: memory.New()})
	require.Error(t, err)
	_, err = service.NewSessionManager(service.SessionManagerConfig{Codec: newCodec(t, c)})
	require.Error(t, err)
	_, err = service.NewSessionManager(service.SessionManagerConfig{Codec: newCodec(t, c), Store: memory.New(), SessionTTL: -time.Second})
	require.Error(t, err)
}

func TestOutcome(t *testing.T) {
	require.Equal(t, "ok", service.Outcome(nil))
	require.Equal(t, "token_revoked", service.Outcome(service.ErrRevoked))
	require.Equal(t, "internal_error", service.Outcome(errors.Join(service.ErrInternal, errStoreDown)))
	require.Equal(t, "error", service.Outcome(errStoreDown))
}

var errStoreDown = errors.New("store down")

// faultyKV counts calls and can be told to fail or hang.
type faultyKV struct {
	store.KV
	calls      atomic.Int32
	failSet    atomic.Bool
	failGet    atomic.Bool
	failDelete atomic.Bool
	failExists atomic.Bool
	block      atomic.Bool
}

func (f *faultyKV) enter(ctx context.Context, fail *atomic.Bool) error {
	f.calls.Add(1)
	if f.block.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail.Load() {
		return errStoreDown
	}
	return nil
}

func (f *faultyKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.enter(ctx, &f.failSet); err != nil {
		return err
	}
	return f.KV.Set(ctx, key, value, ttl)
}

func (f *faultyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.enter(ctx, &f.failGet); err != nil {
		return nil, err
	}
	return f.KV.Get(ctx, key)
}

func (f *faultyKV) Delete(ctx context.Context, key string) (bool, error) {
	if err := f.enter(ctx, &f.failDelete); err != nil {
		return false, err
	}
	return f.KV.Delete(ctx, key)
}

func (f *faultyKV) Exists(ctx context.Context, key string) (bool, error) {
	if err := f.enter(ctx, &f.failExists); err != nil {
		return false, err
	}
	return f.KV.Exists(ctx, key)
}
