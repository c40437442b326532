// Package config loads the importer's settings from environment variables,
// applies defaults, and validates everything on startup so a bad deployment
// fails before it touches the database.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Redis    RedisConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout bounds reading the request including the uploaded file.
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout stays 0 so progress streams are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to every route except the progress stream.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. DB_URL is accepted as well.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies the embedded schema on startup.
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// ImportConfig holds settings for the import pipeline and run registry.
type ImportConfig struct {
	// MaxFileSize is the largest accepted upload in bytes (default: 20MB).
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"20971520"`

	MaxConcurrent int           `env:"IMPORT_MAX_CONCURRENT" default:"2"`
	MaxWaitTime   time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`
	RunTimeout    time.Duration `env:"IMPORT_RUN_TIMEOUT" default:"30m"`

	// LabelMapPath overrides the embedded labels.yaml when set.
	LabelMapPath string `env:"IMPORT_LABEL_MAP_PATH"`

	// EmailDomain is used for synthetic first.last addresses.
	EmailDomain string `env:"IMPORT_EMAIL_DOMAIN" default:"imported.local"`

	// TempCredential is set on every person the import creates.
	TempCredential string `env:"IMPORT_TEMP_CREDENTIAL" required:"true"`

	Role              string `env:"IMPORT_DEFAULT_ROLE" default:"inspector"`
	OrgID             string `env:"IMPORT_ORG_ID"`
	UsernameMaxLength int    `env:"IMPORT_USERNAME_MAX_LENGTH" default:"30"`
	MaxTextLength     int    `env:"IMPORT_TEXT_MAX_LENGTH" default:"500"`

	VisibilityAttempts   int           `env:"IMPORT_VISIBILITY_ATTEMPTS" default:"5"`
	VisibilityMaxBackoff time.Duration `env:"IMPORT_VISIBILITY_MAX_BACKOFF" default:"2s"`

	// Retention is how long a finished run stays queryable.
	Retention time.Duration `env:"IMPORT_RESULT_RETENTION" default:"15m"`
}

// RedisConfig controls the optional progress mirror.
type RedisConfig struct {
	Enabled bool          `env:"REDIS_ENABLED" default:"false"`
	URL     string        `env:"REDIS_URL" default:"redis://localhost:6379/0"`
	TTL     time.Duration `env:"REDIS_PROGRESS_TTL" default:"1h"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key checks on /api routes.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies lists proxy CIDRs whose X-Real-IP and X-Forwarded-For
	// headers are believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
