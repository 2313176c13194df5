// Package config handles configuration loading, validation, and management for humansign.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Version is the current configuration schema version.
const Version = 1

// Storage backend types.
const (
	StorageSQLite  = "sqlite"
	StorageLevelDB = "leveldb"
	StorageMemory  = "memory"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Chain controls when pending keystrokes are sealed into blocks.
	Chain ChainConfig `toml:"chain" json:"chain" yaml:"chain"`

	// Signing configuration for RS256 tokens.
	Signing SigningConfig `toml:"signing" json:"signing" yaml:"signing"`

	// Storage configuration for session snapshots and seal records.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Verify configuration for artifact and document checks.
	Verify VerifyConfig `toml:"verify" json:"verify" yaml:"verify"`

	// Server configuration for the HTTP API.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// ChainConfig holds block sealing policy.
type ChainConfig struct {
	// BlockSize seals a block once this many events are pending.
	BlockSize int `toml:"block_size" json:"block_size" yaml:"block_size" env:"HUMANSIGN_CHAIN_BLOCK_SIZE"`

	// BlockIntervalMs seals pending events this long after the first
	// event of a block. 0 disables interval sealing.
	BlockIntervalMs int `toml:"block_interval_ms" json:"block_interval_ms" yaml:"block_interval_ms" env:"HUMANSIGN_CHAIN_BLOCK_INTERVAL_MS"`
}

// SigningConfig holds RS256 key configuration.
type SigningConfig struct {
	// PrivateKeyPath is the PKCS#8 PEM private key used to seal tokens.
	PrivateKeyPath string `toml:"private_key_path" json:"private_key_path" yaml:"private_key_path" env:"HUMANSIGN_SIGNING_PRIVATE_KEY_PATH"`

	// PublicKeyPath is the PKIX PEM public key used to verify tokens.
	PublicKeyPath string `toml:"public_key_path" json:"public_key_path" yaml:"public_key_path" env:"HUMANSIGN_SIGNING_PUBLIC_KEY_PATH"`

	// Subject is the default token subject for new sessions.
	Subject string `toml:"subject" json:"subject" yaml:"subject" env:"HUMANSIGN_SIGNING_SUBJECT"`

	// KeyBits is the RSA modulus size used by keygen.
	KeyBits int `toml:"key_bits" json:"key_bits" yaml:"key_bits" env:"HUMANSIGN_SIGNING_KEY_BITS"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the storage backend type: "sqlite", "leveldb" or "memory".
	Type string `toml:"type" json:"type" yaml:"type" env:"HUMANSIGN_STORAGE_TYPE"`

	// Path is the database file (sqlite) or directory (leveldb).
	Path string `toml:"path" json:"path" yaml:"path" env:"HUMANSIGN_STORAGE_PATH"`
}

// VerifyConfig holds verification limits.
type VerifyConfig struct {
	// MaxArtifactBytes caps the size of a .humansign artifact and of an
	// uploaded document.
	MaxArtifactBytes int64 `toml:"max_artifact_bytes" json:"max_artifact_bytes" yaml:"max_artifact_bytes" env:"HUMANSIGN_VERIFY_MAX_ARTIFACT_BYTES"`

	// ArtifactExtension is the required file extension of uploaded artifacts.
	ArtifactExtension string `toml:"artifact_extension" json:"artifact_extension" yaml:"artifact_extension" env:"HUMANSIGN_VERIFY_ARTIFACT_EXTENSION"`

	// AllowedDocumentTypes lists the accepted document content types.
	AllowedDocumentTypes []string `toml:"allowed_document_types" json:"allowed_document_types" yaml:"allowed_document_types" env:"HUMANSIGN_VERIFY_ALLOWED_DOCUMENT_TYPES" envSeparator:","`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr" json:"addr" yaml:"addr" env:"HUMANSIGN_SERVER_ADDR"`

	// MetricsPath serves prometheus metrics. Empty disables the endpoint.
	MetricsPath string `toml:"metrics_path" json:"metrics_path" yaml:"metrics_path" env:"HUMANSIGN_SERVER_METRICS_PATH"`

	// ReadTimeoutSec is the HTTP read timeout.
	ReadTimeoutSec int `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec" env:"HUMANSIGN_SERVER_READ_TIMEOUT_SEC"`

	// WriteTimeoutSec is the HTTP write timeout.
	WriteTimeoutSec int `toml:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec" env:"HUMANSIGN_SERVER_WRITE_TIMEOUT_SEC"`

	// ShutdownTimeoutSec bounds graceful shutdown.
	ShutdownTimeoutSec int `toml:"shutdown_timeout_sec" json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec" env:"HUMANSIGN_SERVER_SHUTDOWN_TIMEOUT_SEC"`

	// RateLimitPerMinute is the sustained per-client request rate on
	// /api/v1. Zero disables rate limiting.
	RateLimitPerMinute int `toml:"rate_limit_per_minute" json:"rate_limit_per_minute" yaml:"rate_limit_per_minute" env:"HUMANSIGN_SERVER_RATE_LIMIT_PER_MINUTE"`

	// RateLimitBurst is how many requests a client may make at once.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst" yaml:"rate_limit_burst" env:"HUMANSIGN_SERVER_RATE_LIMIT_BURST"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level" env:"HUMANSIGN_LOG_LEVEL"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format" env:"HUMANSIGN_LOG_FORMAT"`

	// Output is the log destination: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output" env:"HUMANSIGN_LOG_OUTPUT"`

	// FilePath is the log file path when output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path" env:"HUMANSIGN_LOG_PATH"`

	// AuditPath is the audit log file. Empty disables audit logging.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path" env:"HUMANSIGN_AUDIT_PATH"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := HumansignDir()

	return &Config{
		Version: Version,
		Chain: ChainConfig{
			BlockSize:       50,
			BlockIntervalMs: 5000,
		},
		Signing: SigningConfig{
			PrivateKeyPath: filepath.Join(dir, "signing_key.pem"),
			PublicKeyPath:  filepath.Join(dir, "signing_key.pub.pem"),
			KeyBits:        2048,
		},
		Storage: StorageConfig{
			Type: StorageSQLite,
			Path: filepath.Join(dir, "sessions.db"),
		},
		Verify: VerifyConfig{
			MaxArtifactBytes:     5 * 1024 * 1024, // 5MB
			ArtifactExtension:    ".humansign",
			AllowedDocumentTypes: []string{"text/plain", "text/html", "application/pdf"},
		},
		Server: ServerConfig{
			Addr:               "127.0.0.1:8080",
			MetricsPath:        "/metrics",
			ReadTimeoutSec:     30,
			WriteTimeoutSec:    30,
			ShutdownTimeoutSec: 10,
			RateLimitPerMinute: 600,
			RateLimitBurst:     60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "humansign.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Signing.PrivateKeyPath),
		filepath.Dir(c.Signing.PublicKeyPath),
	}
	switch c.Storage.Type {
	case StorageSQLite:
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	case StorageLevelDB:
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Logging.AuditPath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.AuditPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// HumansignDir returns the base humansign data directory.
// HUMANSIGN_DATA_DIR overrides the platform default.
func HumansignDir() string {
	if envDir := os.Getenv("HUMANSIGN_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies HUMANSIGN_* environment variables on top of the
// current values. Unset variables leave fields untouched.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Verify.AllowedDocumentTypes = append([]string{}, c.Verify.AllowedDocumentTypes...)
	return &clone
}

// BlockInterval returns the block interval as a duration.
func (c *Config) BlockInterval() time.Duration {
	return time.Duration(c.Chain.BlockIntervalMs) * time.Millisecond
}

// ReadTimeout returns the server read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSec) * time.Second
}

// WriteTimeout returns the server write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSec) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
