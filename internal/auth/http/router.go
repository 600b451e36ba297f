package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/academy/internal/auth/service"
	"github.com/aussiebroadwan/academy/internal/auth/store"
	"github.com/aussiebroadwan/academy/internal/auth/telemetry"
	"github.com/aussiebroadwan/academy/pkg/httpx"
	"github.com/aussiebroadwan/academy/pkg/slogx"

	_ "github.com/aussiebroadwan/academy/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// RateLimits are the three limiter profiles mounted on the routes.
type RateLimits struct {
	Strict   httpx.RateLimitConfig
	Moderate httpx.RateLimitConfig
	Lenient  httpx.RateLimitConfig
}

func DefaultRateLimits() RateLimits {
	return RateLimits{
		Strict:   httpx.StrictLimit,
		Moderate: httpx.ModerateLimit,
		Lenient:  httpx.LenientLimit,
	}
}

// withDefaults swaps any unusable profile for its default.
func (l RateLimits) withDefaults() RateLimits {
	d := DefaultRateLimits()
	if !l.Strict.Valid() {
		l.Strict = d.Strict
	}
	if !l.Moderate.Valid() {
		l.Moderate = d.Moderate
	}
	if !l.Lenient.Valid() {
		l.Lenient = d.Lenient
	}
	return l
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	sessionStore store.KV
	credentials  store.CredentialStore

	SessionManager *service.SessionManager
	UserService    *service.UserService
	Metrics        *telemetry.Metrics
	Limits         RateLimits
	SecureCookies  bool
}

func NewRouter(
	buildVersion string,
	sessionStore store.KV,
	credentials store.CredentialStore,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		sessionStore: sessionStore,
		credentials:  credentials,
		Limits:       DefaultRateLimits(),
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.Recover(),
	}

	return r
}

// ApplyRoutes mounts every handler. Set the exported fields first.
func (r *Router) ApplyRoutes() {
	r.Limits = r.Limits.withDefaults()
	r.registerAuth()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Academy Authentication Service API
//	@version		0.1.0
//	@description	Session and token lifecycle for the academy platform: login, refresh rotation, logout and access token checks.
//	@description
//	@description				Tokens are HS256 JWTs; access tokens are revocable through a blacklist.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/academy
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		Sessions:      r.SessionManager,
		Users:         r.UserService,
		SecureCookies: r.SecureCookies,
	}
	rejected := r.Metrics.RateLimited

	// Credential endpoints are limited per IP and email to slow down
	// password guessing.
	r.Mux.Handle("POST /v1/auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIPAndJSONField(r.Limits.Strict, "email", rejected),
		),
	)
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndJSONField(r.Limits.Strict, "email", rejected),
		),
	)

	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(r.Limits.Moderate, rejected),
		),
	)
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(r.Limits.Moderate, rejected),
		),
	)

	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe),
			httpx.AuthnMiddleware(h.Authorize, writeServiceError),
			httpx.RateLimitByUser(r.Limits.Lenient, rejected),
		),
	)
}

func (r *Router) registerSystem() {
	// Monitoring systems may poll frequently.
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(),
			httpx.RateLimitByIP(r.Limits.Lenient, r.Metrics.RateLimited),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.sessionStore, r.credentials),
			httpx.RateLimitByIP(r.Limits.Lenient, r.Metrics.RateLimited),
		),
	)
	r.Mux.Handle("GET /metrics", r.Metrics.Handler())
}
