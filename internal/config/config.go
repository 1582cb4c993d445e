package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	ClientStateCookie = "cookie"
	ClientStateRedis  = "redis"

	DefaultSecretKey = "your-secret-key-change-this-in-production"
)

var (
	ErrWeakSecretKey         = errors.New("SECRET_KEY must be set to a non-default value in production")
	ErrMissingDatabaseDSN    = errors.New("database location is empty")
	ErrInvalidClientState    = errors.New("CLIENT_STATE_BACKEND must be 'cookie' or 'redis'")
	ErrRedisRequired         = errors.New("REDIS_ADDR is required when CLIENT_STATE_BACKEND=redis")
	ErrInvalidCookieSameSite = errors.New("SESSION_COOKIE_SAMESITE must be Lax, Strict or None")
)

type Config struct {
	Environment string
	SecretKey   string
	// PreviousSecretKeys still open client state sealed before a key rotation.
	PreviousSecretKeys []string

	Server   ServerConfig
	Security SecurityConfig
	Cookie   CookieConfig
	DB       DBConfig
	Redis    RedisConfig
	Gemini   GeminiConfig
	Rate     RateConfig
	Log      LogConfig
}

type ServerConfig struct {
	ListenAddr        string
	MetricsPath       string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

type SecurityConfig struct {
	AllowedOrigins        []string
	ForceHTTPS            bool
	ContentSecurityPolicy string
}

type CookieConfig struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
	Lifetime time.Duration
	// Backend selects where the client context lives: sealed in the cookie or in redis.
	Backend string
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type RateConfig struct {
	PerHour int64
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	sameSite, err := parseSameSite(mustEnv("SESSION_COOKIE_SAMESITE", "Lax"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:        strings.ToLower(mustEnv("ENVIRONMENT", EnvDevelopment)),
		SecretKey:          mustEnv("SECRET_KEY", DefaultSecretKey),
		PreviousSecretKeys: splitList(mustEnv("SECRET_KEY_PREVIOUS", "")),
		Server: ServerConfig{
			ListenAddr:        mustEnv("LISTEN_ADDR", ":5000"),
			MetricsPath:       mustEnv("METRICS_PATH", "/metrics"),
			ReadHeaderTimeout: mustDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ShutdownTimeout:   mustDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Security: SecurityConfig{
			AllowedOrigins:        splitList(mustEnv("ALLOWED_ORIGINS", "http://localhost:5000")),
			ForceHTTPS:            mustBool("FORCE_HTTPS", false),
			ContentSecurityPolicy: mustEnv("CONTENT_SECURITY_POLICY", ""),
		},
		Cookie: CookieConfig{
			Name:     mustEnv("CLIENT_COOKIE_NAME", "simplechat_session"),
			Secure:   mustBool("SESSION_COOKIE_SECURE", false),
			SameSite: sameSite,
			Lifetime: time.Duration(mustInt("SESSION_LIFETIME_DAYS", 7)) * 24 * time.Hour,
			Backend:  strings.ToLower(mustEnv("CLIENT_STATE_BACKEND", ClientStateCookie)),
		},
		DB: loadDBConfig(),
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Gemini: GeminiConfig{
			APIKey:  mustEnv("GEMINI_API_KEY", ""),
			BaseURL: mustEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Model:   mustEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			Timeout: mustDuration("GEMINI_TIMEOUT", 10*time.Second),
		},
		Rate: RateConfig{
			PerHour: mustInt64("RATE_LIMIT_PER_HOUR", 0),
		},
		Log: LogConfig{
			Level:  strings.ToLower(mustEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(mustEnv("LOG_FORMAT", "json")),
		},
	}

	if cfg.Environment == EnvProduction && (cfg.SecretKey == "" || cfg.SecretKey == DefaultSecretKey) {
		return nil, ErrWeakSecretKey
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	switch cfg.DB.Driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}
	switch cfg.Cookie.Backend {
	case ClientStateCookie:
	case ClientStateRedis:
		if cfg.Redis.Addr == "" {
			return nil, ErrRedisRequired
		}
	default:
		return nil, ErrInvalidClientState
	}
	if cfg.Cookie.Lifetime <= 0 {
		cfg.Cookie.Lifetime = 7 * 24 * time.Hour
	}

	return cfg, nil
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// loadDBConfig resolves DATABASE_URL first, then DATABASE_PATH, then the
// embedded default file. DB_DRIVER overrides the inferred driver.
func loadDBConfig() DBConfig {
	dsn := mustEnv("DATABASE_URL", "")
	if dsn == "" {
		dsn = mustEnv("DATABASE_PATH", "chatbot.db")
	}
	dsn = stripSchemeDriver(dsn)
	driver := inferDriver(dsn)
	if d := strings.ToLower(mustEnv("DB_DRIVER", "")); d != "" {
		driver = d
	}
	switch driver {
	case "pgx", "postgresql":
		driver = "postgres"
	case "sqlite3":
		driver = "sqlite"
	}
	return DBConfig{
		Driver:      driver,
		DSN:         dsn,
		AutoMigrate: mustBool("AUTO_MIGRATE", true),
	}
}

func inferDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// stripSchemeDriver drops a "+driver" qualifier from a URL scheme, so
// postgresql+psycopg2://host/db becomes postgresql://host/db.
func stripSchemeDriver(dsn string) string {
	i := strings.Index(dsn, "://")
	if i < 0 {
		return dsn
	}
	scheme, rest := dsn[:i], dsn[i:]
	if plus := strings.IndexByte(scheme, '+'); plus >= 0 {
		scheme = scheme[:plus]
	}
	return scheme + rest
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "lax", "":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, ErrInvalidCookieSameSite
	}
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
