package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	httpapi "github.com/aussiebroadwan/academy/internal/auth/http"
	"github.com/aussiebroadwan/academy/pkg/cryptox"
	"github.com/aussiebroadwan/academy/pkg/httpx"
	"github.com/aussiebroadwan/academy/pkg/jwtx"
)

// Session store drivers.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config is read from the environment and an optional .env file.
type Config struct {
	Issuer        string        `mapstructure:"AUTH_ISSUER"`
	AccessSecret  string        `mapstructure:"AUTH_ACCESS_SECRET"`
	RefreshSecret string        `mapstructure:"AUTH_REFRESH_SECRET"`
	AccessTTL     time.Duration `mapstructure:"AUTH_ACCESS_TTL"`
	RefreshTTL    time.Duration `mapstructure:"AUTH_REFRESH_TTL"`
	SessionTTL    time.Duration `mapstructure:"AUTH_SESSION_TTL"`   // 0 means RefreshTTL
	StoreTimeout  time.Duration `mapstructure:"AUTH_STORE_TIMEOUT"` // per session store call
	TokenLeeway   time.Duration `mapstructure:"AUTH_TOKEN_LEEWAY"`  // clock skew allowed on exp
	SecureCookies bool          `mapstructure:"AUTH_SECURE_COOKIES"`

	SessionStore  string `mapstructure:"SESSION_STORE"` // redis or memory
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	DatabaseFile string `mapstructure:"AUTH_DATABASE_FILE"`
	PepperFile   string `mapstructure:"AUTH_PEPPER_FILE"`

	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	LogFormat            string        `mapstructure:"LOG_FORMAT"`
	Port                 int           `mapstructure:"PORT"`
	ShutdownGracePeriod  time.Duration `mapstructure:"SHUTDOWN_GRACE_PERIOD"`
	HousekeepingInterval time.Duration `mapstructure:"HOUSEKEEPING_INTERVAL"`

	StrictRequests    int `mapstructure:"RATELIMIT_STRICT_REQUESTS"`
	StrictWindowSec   int `mapstructure:"RATELIMIT_STRICT_WINDOW_SEC"`
	StrictBurst       int `mapstructure:"RATELIMIT_STRICT_BURST"`
	ModerateRequests  int `mapstructure:"RATELIMIT_MODERATE_REQUESTS"`
	ModerateWindowSec int `mapstructure:"RATELIMIT_MODERATE_WINDOW_SEC"`
	ModerateBurst     int `mapstructure:"RATELIMIT_MODERATE_BURST"`
	LenientRequests   int `mapstructure:"RATELIMIT_LENIENT_REQUESTS"`
	LenientWindowSec  int `mapstructure:"RATELIMIT_LENIENT_WINDOW_SEC"`
	LenientBurst      int `mapstructure:"RATELIMIT_LENIENT_BURST"`

	// GeneratedSecrets is set when dev mode made up the signing secrets.
	// Tokens then die with the process.
	GeneratedSecrets bool `mapstructure:"-"`
}

// LoadConfig reads .env if present, lets the environment override it and
// validates the result.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("AUTH_ISSUER", "academy-auth")
	v.SetDefault("AUTH_ACCESS_SECRET", "")
	v.SetDefault("AUTH_REFRESH_SECRET", "")
	v.SetDefault("AUTH_ACCESS_TTL", jwtx.DefaultAccessTokenTTL.String())
	v.SetDefault("AUTH_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL.String())
	v.SetDefault("AUTH_SESSION_TTL", "0s")
	v.SetDefault("AUTH_STORE_TIMEOUT", "2s")
	v.SetDefault("AUTH_TOKEN_LEEWAY", "5s")
	v.SetDefault("AUTH_SECURE_COOKIES", true)

	v.SetDefault("SESSION_STORE", StoreRedis)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "academy")

	v.SetDefault("AUTH_DATABASE_FILE", "auth.db")
	v.SetDefault("AUTH_PEPPER_FILE", "pepper")

	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("PORT", 8080)
	v.SetDefault("SHUTDOWN_GRACE_PERIOD", "10s")
	v.SetDefault("HOUSEKEEPING_INTERVAL", "1m")

	for _, l := range []httpx.RateLimitConfig{httpx.StrictLimit, httpx.ModerateLimit, httpx.LenientLimit} {
		prefix := "RATELIMIT_" + strings.ToUpper(l.Name)
		v.SetDefault(prefix+"_REQUESTS", l.RequestsPerWindow)
		v.SetDefault(prefix+"_WINDOW_SEC", int(l.Window.Seconds()))
		v.SetDefault(prefix+"_BURST", l.Burst)
	}
}

// IsDev reports whether the service runs outside production. Dev mode
// may generate its own signing secrets.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// RateLimits returns the limiter profiles for the router.
func (c Config) RateLimits() httpapi.RateLimits {
	return httpapi.RateLimits{
		Strict:   rateLimit("strict", c.StrictRequests, c.StrictWindowSec, c.StrictBurst),
		Moderate: rateLimit("moderate", c.ModerateRequests, c.ModerateWindowSec, c.ModerateBurst),
		Lenient:  rateLimit("lenient", c.LenientRequests, c.LenientWindowSec, c.LenientBurst),
	}
}

func rateLimit(name string, requests, windowSec, burst int) httpx.RateLimitConfig {
	return httpx.RateLimitConfig{
		Name:              name,
		RequestsPerWindow: requests,
		Window:            time.Duration(windowSec) * time.Second,
		Burst:             burst,
	}
}

func (c *Config) finish() error {
	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	switch c.SessionStore {
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set when SESSION_STORE=redis")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: SESSION_STORE must be %q or %q, got %q", StoreRedis, StoreMemory, c.SessionStore)
	}

	if c.AccessSecret == "" && c.RefreshSecret == "" && c.IsDev() {
		access, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		c.AccessSecret, c.RefreshSecret = access, refresh
		c.GeneratedSecrets = true
	}
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		return errors.New("config: AUTH_ACCESS_SECRET and AUTH_REFRESH_SECRET must be set")
	}
	if len(c.AccessSecret) < jwtx.MinSecretLength || len(c.RefreshSecret) < jwtx.MinSecretLength {
		return fmt.Errorf("config: signing secrets must be at least %d bytes", jwtx.MinSecretLength)
	}
	if c.AccessSecret == c.RefreshSecret {
		return errors.New("config: AUTH_ACCESS_SECRET and AUTH_REFRESH_SECRET must differ")
	}

	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: AUTH_ACCESS_TTL and AUTH_REFRESH_TTL must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return errors.New("config: AUTH_ACCESS_TTL must be shorter than AUTH_REFRESH_TTL")
	}
	if c.SessionTTL < 0 {
		return errors.New("config: AUTH_SESSION_TTL must not be negative")
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = c.RefreshTTL
	}
	if c.StoreTimeout <= 0 {
		return errors.New("config: AUTH_STORE_TIMEOUT must be positive")
	}
	if c.TokenLeeway < 0 || c.TokenLeeway >= c.AccessTTL {
		return errors.New("config: AUTH_TOKEN_LEEWAY must be between 0 and AUTH_ACCESS_TTL")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.ShutdownGracePeriod <= 0 {
		return errors.New("config: SHUTDOWN_GRACE_PERIOD must be positive")
	}

	rl := c.RateLimits()
	for _, l := range []httpx.RateLimitConfig{rl.Strict, rl.Moderate, rl.Lenient} {
		if !l.Valid() {
			return fmt.Errorf("config: RATELIMIT_%s_* values must all be positive", strings.ToUpper(l.Name))
		}
	}

	return nil
}
