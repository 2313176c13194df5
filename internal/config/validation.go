package config

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets callers match any validation failure with ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidateConfig checks every section and reports all problems at once.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateChain(&c.Chain)...)
	errs = append(errs, validateSigning(&c.Signing)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateVerify(&c.Verify)...)
	errs = append(errs, validateServer(&c.Server)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateChain(ch *ChainConfig) ValidationErrors {
	var errs ValidationErrors

	if ch.BlockSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "chain.block_size",
			Message: "block size must be at least 1",
		})
	}
	if ch.BlockIntervalMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "chain.block_interval_ms",
			Message: "block interval cannot be negative",
		})
	}

	return errs
}

func validateSigning(s *SigningConfig) ValidationErrors {
	var errs ValidationErrors

	if s.PrivateKeyPath == "" && s.PublicKeyPath == "" {
		errs = append(errs, ValidationError{
			Field:   "signing",
			Message: "at least one of private_key_path or public_key_path is required",
		})
	}
	if s.KeyBits != 0 && s.KeyBits < 2048 {
		errs = append(errs, ValidationError{
			Field:   "signing.key_bits",
			Message: "RSA keys must be at least 2048 bits",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Type {
	case StorageSQLite, StorageLevelDB, StorageMemory:
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("invalid storage type: %s (valid: sqlite, leveldb, memory)", s.Type),
		})
		return errs
	}

	if s.Type == StorageMemory {
		return errs
	}
	if s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: fmt.Sprintf("path is required for %s storage", s.Type),
		})
		return errs
	}

	// The parent directory may not exist yet; it is created on startup.
	dir := filepath.Dir(expandPath(s.Path))
	if dir != "" && dir != "." {
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			errs = append(errs, ValidationError{
				Field:   "storage.path",
				Message: fmt.Sprintf("parent path is not a directory: %s", dir),
			})
		}
	}

	return errs
}

func validateVerify(v *VerifyConfig) ValidationErrors {
	var errs ValidationErrors

	if v.MaxArtifactBytes < 1 {
		errs = append(errs, ValidationError{
			Field:   "verify.max_artifact_bytes",
			Message: "max artifact size must be positive",
		})
	}
	if !strings.HasPrefix(v.ArtifactExtension, ".") || len(v.ArtifactExtension) < 2 {
		errs = append(errs, ValidationError{
			Field:   "verify.artifact_extension",
			Message: fmt.Sprintf("extension must start with a dot: %q", v.ArtifactExtension),
		})
	}
	for i, ct := range v.AllowedDocumentTypes {
		if _, _, err := mime.ParseMediaType(ct); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("verify.allowed_document_types[%d]", i),
				Message: fmt.Sprintf("invalid media type %q: %v", ct, err),
			})
		}
	}

	return errs
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Addr == "" {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: "listen address is required",
		})
	}
	if s.MetricsPath != "" && !strings.HasPrefix(s.MetricsPath, "/") {
		errs = append(errs, ValidationError{
			Field:   "server.metrics_path",
			Message: "metrics path must start with /",
		})
	}
	if s.ReadTimeoutSec < 0 || s.WriteTimeoutSec < 0 || s.ShutdownTimeoutSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "server",
			Message: "timeouts cannot be negative",
		})
	}
	if s.RateLimitPerMinute < 0 || s.RateLimitBurst < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit",
			Message: "rate limits cannot be negative",
		})
	}
	if s.RateLimitPerMinute > 0 && s.RateLimitBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_burst",
			Message: "burst must be at least 1 when rate limiting is enabled",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
