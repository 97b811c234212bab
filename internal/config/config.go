package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/trentmillar/keystone-net/internal/lifecycle"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	Issuer      string

	// DatabaseURL is optional; when empty the server runs on the in-memory
	// stores, which is only useful for development and tests.
	DatabaseURL string

	// RedisAddr is optional; when empty the token cache and the event
	// publisher are disabled.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	AuthorizationCodeTTL  time.Duration
	RollingTokens         bool
	SlidingExpiration     bool
	DisableTokenStorage   bool
	DisableAuthStorage    bool
	PruneInterval         time.Duration
	TokenCacheTTL         time.Duration
	EventChannel          string

	BootstrapClientID     string
	BootstrapClientSecret string
	BootstrapRedirectURI  string
	BootstrapUserEmail    string
	BootstrapUserPassword string

	ServiceName        string
	RateLimitRPM       int
	TelemetryEndpoint  string
	TelemetryInsecure  bool
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		Issuer:      getEnv("ISSUER", "http://localhost:8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		AccessTokenTTL:       getDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:      getDuration("REFRESH_TOKEN_TTL", 14*24*time.Hour),
		AuthorizationCodeTTL: getDuration("AUTHORIZATION_CODE_TTL", 5*time.Minute),
		RollingTokens:        getBool("ROLLING_TOKENS", false),
		SlidingExpiration:    getBool("SLIDING_EXPIRATION", false),
		DisableTokenStorage:  getBool("DISABLE_TOKEN_STORAGE", false),
		DisableAuthStorage:   getBool("DISABLE_AUTHORIZATION_STORAGE", false),
		PruneInterval:        getDuration("PRUNE_INTERVAL", time.Hour),
		TokenCacheTTL:        getDuration("TOKEN_CACHE_TTL", 5*time.Minute),
		EventChannel:         getEnv("EVENT_CHANNEL", "keystone.events"),

		BootstrapClientID:     getEnv("BOOTSTRAP_CLIENT_ID", "keystone-local"),
		BootstrapClientSecret: os.Getenv("BOOTSTRAP_CLIENT_SECRET"),
		BootstrapRedirectURI:  getEnv("BOOTSTRAP_REDIRECT_URI", "http://localhost:3000/callback"),
		BootstrapUserEmail:    os.Getenv("BOOTSTRAP_USER_EMAIL"),
		BootstrapUserPassword: os.Getenv("BOOTSTRAP_USER_PASSWORD"),

		ServiceName:          getEnv("SERVICE_NAME", "keystone"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if err := cfg.LifecycleOptions().Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LifecycleOptions projects the token lifecycle settings into the form the
// lifecycle engine consumes.
func (c Config) LifecycleOptions() lifecycle.Options {
	return lifecycle.Options{
		RollingTokens:               c.RollingTokens,
		SlidingExpiration:           c.SlidingExpiration,
		DisableTokenStorage:         c.DisableTokenStorage,
		DisableAuthorizationStorage: c.DisableAuthStorage,
		RefreshTokenLifetime:        c.RefreshTokenTTL,
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
