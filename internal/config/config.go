// Package config provides centralized configuration management for the
// application. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Helix     HelixConfig
	Provision ProvisionConfig
	Database  DatabaseConfig
	Rate      RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response
	// (default: 0 so progress event streams are never cut off)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// HelixConfig holds the connection to the Helix server's p4 client.
type HelixConfig struct {
	// Bin is the p4 executable to invoke (default: p4, resolved on PATH)
	Bin string `env:"HELIX_P4_BIN" default:"p4"`

	// Port is the server address (P4PORT), e.g. ssl:helix.example.edu:1666 (required)
	Port string `env:"HELIX_PORT" envAlt:"P4PORT" required:"true"`

	// User is the admin account every command runs as (required)
	User string `env:"HELIX_USER" envAlt:"P4USER" required:"true"`

	// Charset is passed as -C when set (needed against unicode servers)
	Charset string `env:"HELIX_CHARSET"`
}

// ProvisionConfig holds provisioning run settings.
type ProvisionConfig struct {
	// DefaultPassword is assigned to every newly created user (required)
	DefaultPassword string `env:"PROVISION_DEFAULT_PASSWORD" required:"true"`

	// TemplatePattern filters the depots offered as templates (default: *template*)
	TemplatePattern string `env:"PROVISION_TEMPLATE_PATTERN" default:"*template*"`

	// UndoDir is where undo command files are written (default: ./undo)
	UndoDir string `env:"PROVISION_UNDO_DIR" default:"undo"`

	// EmailDomainPattern restricts roster e-mail domains when set,
	// e.g. "myuniversity\.edu". Empty accepts any two-label domain.
	EmailDomainPattern string `env:"PROVISION_EMAIL_DOMAIN"`

	// MaxRosterSize is the maximum accepted roster upload in bytes (default: 10MB)
	MaxRosterSize int64 `env:"PROVISION_MAX_ROSTER_SIZE" default:"10485760"`
}

// DatabaseConfig holds the optional run-history database. When URL is
// empty the history store is disabled and runs are tracked in memory only.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
}

// Enabled reports whether a history database is configured.
func (c *DatabaseConfig) Enabled() bool { return c.URL != "" }

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
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
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
