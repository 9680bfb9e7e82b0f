package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validation range constants.
const (
	minConcurrentStreams = 1
	maxConcurrentStreams = 64
	minChunkBytes        = 64 * kibibyte
	maxChunkBytes         = 100 * mebibyte
	minRetryAttempts     = 0
	maxRetryAttempts     = 20
	minKeySize           = 128
	minThreshold         = 0.0
	maxThreshold         = 1.0
)

var validStorageAdapters = map[string]bool{
	"file":   true,
	"sqlite": true,
}

var validEncryptionAlgorithms = map[string]bool{
	"AES-GCM": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"json": true,
	"text": true,
}

// Validate checks every configuration section and returns all errors found.
// It accumulates every error rather than stopping at the first, so a user
// sees a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)
	errs = append(errs, validateResource(&cfg.Resource)...)
	errs = append(errs, validateResumable(&cfg.Resumable)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if t.ConcurrentStreams < minConcurrentStreams || t.ConcurrentStreams > maxConcurrentStreams {
		errs = append(errs, fmt.Errorf("transfers.concurrent_streams: must be between %d and %d, got %d",
			minConcurrentStreams, maxConcurrentStreams, t.ConcurrentStreams))
	}

	if t.RetryAttempts < minRetryAttempts || t.RetryAttempts > maxRetryAttempts {
		errs = append(errs, fmt.Errorf("transfers.retry_attempts: must be between %d and %d, got %d",
			minRetryAttempts, maxRetryAttempts, t.RetryAttempts))
	}

	errs = append(errs, validateChunkSize(t.ChunkSize)...)

	if t.BandwidthLimit != "" && t.BandwidthLimit != "0" {
		if _, err := ParseSize(t.BandwidthLimit); err != nil {
			errs = append(errs, fmt.Errorf("transfers.bandwidth_limit: %w", err))
		}
	}

	return errs
}

func validateChunkSize(s string) []error {
	n, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("transfers.chunk_size: %w", err)}
	}

	if n < minChunkBytes || n > maxChunkBytes {
		return []error{fmt.Errorf("transfers.chunk_size: must be between 64KiB and 100MiB, got %s", s)}
	}

	return nil
}

func validateSecurity(s *SecurityConfig) []error {
	var errs []error

	if s.MaxFileSize != "" && s.MaxFileSize != "0" {
		if _, err := ParseSize(s.MaxFileSize); err != nil {
			errs = append(errs, fmt.Errorf("security.max_file_size: %w", err))
		}
	}

	if len(s.AllowedMimeTypes) == 0 {
		errs = append(errs, errors.New("security.allowed_mime_types: must not be empty"))
	}

	if s.Encryption.Enabled && !validEncryptionAlgorithms[s.Encryption.Algorithm] {
		errs = append(errs, fmt.Errorf("security.encryption.algorithm: unsupported %q", s.Encryption.Algorithm))
	}

	if s.Encryption.Enabled && s.Encryption.KeySize < minKeySize {
		errs = append(errs, fmt.Errorf("security.encryption.key_size: must be at least %d bits, got %d",
			minKeySize, s.Encryption.KeySize))
	}

	if s.RateLimit.Enabled && s.RateLimit.MaxRequestsPerMinute <= 0 {
		errs = append(errs, errors.New("security.rate_limit.max_requests_per_minute: must be positive when enabled"))
	}

	if s.RateLimit.Enabled && s.RateLimit.MaxConcurrentUploads <= 0 {
		errs = append(errs, errors.New("security.rate_limit.max_concurrent_uploads: must be positive when enabled"))
	}

	if s.AccessControl.Enabled {
		if _, err := parseDurationStrict(s.AccessControl.TokenExpiration); err != nil {
			errs = append(errs, fmt.Errorf("security.access_control.token_expiration: %w", err))
		}

		if s.AccessControl.MaxTokensPerUser <= 0 {
			errs = append(errs, errors.New("security.access_control.max_tokens_per_user: must be positive when enabled"))
		}
	}

	return errs
}

func validateResource(r *ResourceConfig) []error {
	var errs []error

	if _, err := ParseSize(r.MaxMemoryUsage); err != nil {
		errs = append(errs, fmt.Errorf("resource.max_memory_usage: %w", err))
	}

	if _, err := parseDurationStrict(r.CleanupInterval); err != nil {
		errs = append(errs, fmt.Errorf("resource.cleanup_interval: %w", err))
	}

	if r.Thresholds.Warning < minThreshold || r.Thresholds.Warning > maxThreshold {
		errs = append(errs, fmt.Errorf("resource.thresholds.warning: must be between 0 and 1, got %v", r.Thresholds.Warning))
	}

	if r.Thresholds.Critical < minThreshold || r.Thresholds.Critical > maxThreshold {
		errs = append(errs, fmt.Errorf("resource.thresholds.critical: must be between 0 and 1, got %v", r.Thresholds.Critical))
	}

	if r.Thresholds.Warning > r.Thresholds.Critical {
		errs = append(errs, fmt.Errorf("resource.thresholds: warning (%v) must not exceed critical (%v)",
			r.Thresholds.Warning, r.Thresholds.Critical))
	}

	return errs
}

func validateResumable(r *ResumableConfig) []error {
	var errs []error

	if !validStorageAdapters[r.StorageAdapter] {
		errs = append(errs, fmt.Errorf("resumable.storage_adapter: must be \"file\" or \"sqlite\", got %q", r.StorageAdapter))
	}

	if r.MaxRetries < 0 {
		errs = append(errs, errors.New("resumable.max_retries: must not be negative"))
	}

	if _, err := parseDurationStrict(r.RetryDelay); err != nil {
		errs = append(errs, fmt.Errorf("resumable.retry_delay: %w", err))
	}

	if _, err := parseDurationStrict(r.AutoSaveInterval); err != nil {
		errs = append(errs, fmt.Errorf("resumable.auto_save_interval: %w", err))
	}

	return errs
}

func validateCache(c *CacheConfig) []error {
	var errs []error

	if !c.Enabled {
		return errs
	}

	if c.Capacity <= 0 {
		errs = append(errs, errors.New("cache.capacity: must be positive when enabled"))
	}

	if _, err := parseDurationStrict(c.TTL); err != nil {
		errs = append(errs, fmt.Errorf("cache.ttl: %w", err))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, json, text; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if _, err := parseDurationStrict(n.ConnectTimeout); err != nil {
		errs = append(errs, fmt.Errorf("network.connect_timeout: %w", err))
	}

	if _, err := parseDurationStrict(n.DataTimeout); err != nil {
		errs = append(errs, fmt.Errorf("network.data_timeout: %w", err))
	}

	if strings.TrimSpace(n.UserAgent) == "" {
		errs = append(errs, errors.New("network.user_agent: must not be empty"))
	}

	return errs
}
