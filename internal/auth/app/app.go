package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/academy/internal/auth/http"
	"github.com/aussiebroadwan/academy/internal/auth/service"
	"github.com/aussiebroadwan/academy/internal/auth/store"
	"github.com/aussiebroadwan/academy/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/academy/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/academy/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/academy/internal/auth/telemetry"
	"github.com/aussiebroadwan/academy/pkg/cryptox"
	"github.com/aussiebroadwan/academy/pkg/jwtx"
	"github.com/aussiebroadwan/academy/pkg/slogx"
)

const serviceName = "academy-auth"

// BuildVersion is overridden at build time with -ldflags.
var BuildVersion = "v0.1.0"

// Application holds the auth service and everything it depends on.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       *sqlite.Store
	sessions store.KV
	metrics  *telemetry.Metrics

	shutdownTracing func(context.Context) error

	sessionManager      *service.SessionManager
	userService         *service.UserService
	housekeepingService *service.HousekeepingService // memory store only

	server *http.Server
	router *httpapi.Router
}

// New opens the stores and wires the services. Close releases them if Run
// is never called.
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: serviceName,
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		metrics: telemetry.NewMetrics(),
	}

	if cfg.GeneratedSecrets {
		app.logger.Warn("signing secrets generated for this process; tokens will not survive a restart")
	}

	shutdown, err := telemetry.SetupTracing(serviceName, BuildVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	app.shutdownTracing = shutdown

	cryptox.SetPepperPath(cfg.PepperFile)
	if err := cryptox.LoadPepper(); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}

	if err := app.initDatabase(); err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := app.initSessionStore(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler returns the routed HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.router
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (app *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if app.housekeepingService != nil {
		app.housekeepingService.Start()
	}

	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"session_store", app.cfg.SessionStore,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		app.stopHousekeeping()
		_ = app.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		app.logger.Info("shutdown requested")
	}

	return app.Shutdown()
}

// Shutdown drains in-flight requests and then releases the stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	var errs []error
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		errs = append(errs, err, app.server.Close())
	}

	app.stopHousekeeping()

	errs = append(errs, app.Close())
	app.logger.Info("auth service stopped")
	return errors.Join(errs...)
}

// Close releases the stores and the tracer provider. It is safe to call
// more than once.
func (app *Application) Close() error {
	var errs []error
	if app.sessions != nil {
		errs = append(errs, app.sessions.Close())
		app.sessions = nil
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
		app.db = nil
	}
	if app.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, app.shutdownTracing(ctx))
		cancel()
		app.shutdownTracing = nil
	}
	return errors.Join(errs...)
}

func (app *Application) stopHousekeeping() {
	if app.housekeepingService != nil {
		app.housekeepingService.Stop()
		app.housekeepingService = nil
	}
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to open credential database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initSessionStore(ctx context.Context) error {
	switch app.cfg.SessionStore {
	case StoreRedis:
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		kv, err := redis.Open(ctx, redis.Config{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
			Prefix:   app.cfg.RedisPrefix,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to session store: %w", err)
		}
		app.sessions = kv

	case StoreMemory:
		kv := memory.New()
		app.sessions = kv
		app.housekeepingService = service.NewHousekeepingService(kv, app.logger, app.cfg.HousekeepingInterval)
		app.housekeepingService.Metrics = app.metrics
		app.logger.Warn("using in-memory session store; sessions are lost on restart and not shared between instances")

	default:
		return fmt.Errorf("unknown session store %q", app.cfg.SessionStore)
	}
	return nil
}

func (app *Application) initServices() error {
	codec, err := jwtx.NewCodec(jwtx.Config{
		Issuer:        app.cfg.Issuer,
		AccessSecret:  app.cfg.AccessSecret,
		AccessTTL:     app.cfg.AccessTTL,
		RefreshSecret: app.cfg.RefreshSecret,
		RefreshTTL:    app.cfg.RefreshTTL,
		Leeway:        app.cfg.TokenLeeway,
	})
	if err != nil {
		return fmt.Errorf("failed to build token codec: %w", err)
	}

	app.userService = &service.UserService{Store: app.db}

	app.sessionManager, err = service.NewSessionManager(service.SessionManagerConfig{
		Codec:      codec,
		Store:      app.sessions,
		SessionTTL: app.cfg.SessionTTL,
		OpTimeout:  app.cfg.StoreTimeout,
		Identities: app.userService,
		Metrics:    app.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build session manager: %w", err)
	}
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.sessions, app.db, app.logger)
	router.SessionManager = app.sessionManager
	router.UserService = app.userService
	router.Metrics = app.metrics
	router.Limits = app.cfg.RateLimits()
	router.SecureCookies = app.cfg.SecureCookies
	router.ApplyRoutes()

	app.router = router
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
