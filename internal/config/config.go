// Package config provides centralized configuration management for the lookup service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
//
// A single *Config is built in main and threaded through every component; no
// other package reads the environment.
package config

import (
	"path/filepath"
	"strconv"
	"time"
)

// Store drivers accepted by TDFC_STORE.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Signature modes accepted by TDFC_SIGNATURE_MODE.
const (
	SignatureStat   = "stat"
	SignatureDigest = "digest"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Cache    CacheConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 5m).
	// A lookup may trigger a full rebuild, so this is deliberately generous.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"5m"`
}

// StorageConfig locates the source spreadsheet and controls how it is indexed.
type StorageConfig struct {
	// Dir holds the installed spreadsheet and the embedded index (default: storage)
	Dir string `env:"TDFC_STORAGE_DIR" default:"storage"`

	// DataFile is the spreadsheet file name, relative to Dir unless absolute (default: current.xlsx)
	DataFile string `env:"TDFC_DATA_FILE" default:"current.xlsx"`

	// Sheet is the default sheet to index (default: 2026)
	Sheet string `env:"TDFC_SHEET" default:"2026"`

	// HeaderScanRows bounds the header search window (default: 40)
	HeaderScanRows int `env:"TDFC_HEADER_SCAN_ROWS" default:"40"`

	// BatchSize is the number of entries written per batch during a rebuild (default: 3000)
	BatchSize int `env:"TDFC_BATCH_SIZE" default:"3000"`

	// SignatureMode is "stat" (path, mtime, size) or "digest" (content hash) (default: stat)
	SignatureMode string `env:"TDFC_SIGNATURE_MODE" default:"stat"`

	// RefreshInterval re-checks the source in the background; 0 disables (default: 0s)
	RefreshInterval time.Duration `env:"TDFC_REFRESH_INTERVAL" default:"0s"`
}

// DatabaseConfig holds index store settings.
type DatabaseConfig struct {
	// Driver selects the index store: sqlite or postgres (default: sqlite)
	Driver string `env:"TDFC_STORE" default:"sqlite"`

	// SQLitePath is the embedded index file, relative to the storage dir unless absolute
	SQLitePath string `env:"TDFC_SQLITE_PATH" default:"tdfc_cache.sqlite"`

	// URL is the PostgreSQL connection string (required when Driver is postgres)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds spreadsheet upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of parallel uploads (default: 2)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// AdminKey guards upload and rebuild. Empty disables the check.
	AdminKey string `env:"TDFC_ADMIN_KEY"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// CacheConfig holds lookup result cache settings.
type CacheConfig struct {
	// LookupEntries is the LRU capacity for lookup results; 0 disables (default: 4096)
	LookupEntries int `env:"TDFC_LOOKUP_CACHE_SIZE" default:"4096"`
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

// SourcePath returns the path of the installed spreadsheet.
func (c *StorageConfig) SourcePath() string {
	return c.resolve(c.DataFile)
}

// SQLiteFile returns the embedded index path for the given storage settings.
func (c *DatabaseConfig) SQLiteFile(storage *StorageConfig) string {
	return storage.resolve(c.SQLitePath)
}

func (c *StorageConfig) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}
