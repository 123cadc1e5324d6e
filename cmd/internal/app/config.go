package app

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"tasker/cmd/identity"
	authapi "tasker/cmd/internal/auth/api"
	"tasker/cmd/internal/realtime"
	"tasker/cmd/security/password"
	"tasker/cmd/security/token"
)

const defaultCORSOrigins = "http://localhost:3000"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	// BasePath prefixes every route, e.g. "/api". Empty mounts at the root.
	BasePath string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	LogLevel  string
	LogFormat string

	// Empty DatabaseURL selects the in-memory stores.
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBSchema      string
	DBAutoMigrate bool

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	MetricsEnabled bool

	Token    token.Config
	Password password.Config
	Auth     authapi.Config
	WS       realtime.GatewayConfig
}

// LoadConfig loads Config from environment variables with defaults.
// Token and password settings are validated here so a bad deployment fails at startup.
func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr: httpAddrFromEnv(),
		BasePath: normalizeBasePath(EnvString("TASKER_HTTP_BASE_PATH", "")),

		ReadHeaderTimeout: EnvDuration("TASKER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TASKER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TASKER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TASKER_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("TASKER_HTTP_MAX_HEADER_BYTES", 1<<20),

		LogLevel:  EnvString("TASKER_LOG_LEVEL", "info"),
		LogFormat: EnvString("TASKER_LOG_FORMAT", "json"),

		DatabaseURL:   EnvString("TASKER_DATABASE_URL", EnvString("DATABASE_URL", "")),
		DBMaxConns:    EnvInt32("TASKER_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("TASKER_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("TASKER_DB_SCHEMA", identity.DefaultSchema),
		DBAutoMigrate: EnvBool("TASKER_DB_AUTO_MIGRATE", true),

		ReadinessRequireDB: EnvBool("TASKER_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("TASKER_CORS_ALLOWED_ORIGINS", defaultCORSOrigins),
		CORSAllowCredentials: EnvBool("TASKER_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("TASKER_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("TASKER_METRICS_ENABLED", true),

		Auth: authapi.LoadConfigFromEnv(),
		WS:   realtime.LoadGatewayConfigFromEnv(),
	}

	if !identity.PgIdentIsValid(cfg.DBSchema) {
		return Config{}, fmt.Errorf("TASKER_DB_SCHEMA: invalid identifier %q", cfg.DBSchema)
	}

	tok, err := token.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.Token = tok

	pw, err := password.FromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.Password = pw

	return cfg, nil
}

// httpAddrFromEnv honors TASKER_HTTP_ADDR, then a platform-provided PORT.
func httpAddrFromEnv() string {
	if v := EnvString("TASKER_HTTP_ADDR", ""); v != "" {
		return v
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		return net.JoinHostPort("0.0.0.0", port)
	}
	return "0.0.0.0:5000"
}

// normalizeBasePath returns "" or a path with one leading slash and no trailing slash.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
