// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the upload engine.
package config

// Config is the top-level configuration structure, covering every option
// named in the engine's configuration schema: chunking, the pipeline,
// security, resource accounting, and resumability.
type Config struct {
	Transfers TransfersConfig `toml:"transfers"`
	Security  SecurityConfig  `toml:"security"`
	Resource  ResourceConfig  `toml:"resource"`
	Resumable ResumableConfig `toml:"resumable"`
	Cache     CacheConfig     `toml:"cache"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// CacheConfig controls the Chunk Cache (C4), an in-memory LRU that lets a
// retried or resumed attempt skip re-reading a chunk already materialized
// from disk this run.
type CacheConfig struct {
	Enabled  bool   `toml:"enabled"`
	Capacity int    `toml:"capacity"`
	TTL      string `toml:"ttl"`
}

// TransfersConfig controls chunking and pipeline parallelism.
type TransfersConfig struct {
	ChunkSize          string `toml:"chunk_size"`
	ConcurrentStreams  int    `toml:"concurrent_streams"`
	CompressionEnabled bool   `toml:"compression_enabled"`
	ValidateChunks     bool   `toml:"validate_chunks"`
	RetryAttempts      int    `toml:"retry_attempts"`
	BandwidthLimit     string `toml:"bandwidth_limit"`
}

// SecurityConfig controls file validation, encryption, and rate limiting.
type SecurityConfig struct {
	MaxFileSize           string             `toml:"max_file_size"`
	AllowedMimeTypes       []string           `toml:"allowed_mime_types"`
	AllowedExtensions      []string           `toml:"allowed_extensions"`
	ValidateFileSignature  bool               `toml:"validate_file_signature"`
	EnableVirusScan        bool               `toml:"enable_virus_scan"`
	Encryption             EncryptionConfig   `toml:"encryption"`
	RateLimit              RateLimitConfig    `toml:"rate_limit"`
	AccessControl          AccessControlConfig `toml:"access_control"`
}

// EncryptionConfig controls AES-GCM chunk encryption.
type EncryptionConfig struct {
	Enabled   bool   `toml:"enabled"`
	Algorithm string `toml:"algorithm"`
	KeySize   int    `toml:"key_size"`
}

// RateLimitConfig bounds request rate and concurrent uploads per user.
type RateLimitConfig struct {
	Enabled              bool `toml:"enabled"`
	MaxRequestsPerMinute int  `toml:"max_requests_per_minute"`
	MaxConcurrentUploads int  `toml:"max_concurrent_uploads"`
}

// AccessControlConfig controls access-token issuance and lifetime.
type AccessControlConfig struct {
	Enabled          bool   `toml:"enabled"`
	TokenExpiration  string `toml:"token_expiration"`
	MaxTokensPerUser int    `toml:"max_tokens_per_user"`
}

// ResourceConfig controls the in-flight memory budget and cleanup cadence.
type ResourceConfig struct {
	MaxMemoryUsage    string            `toml:"max_memory_usage"`
	CleanupInterval   string            `toml:"cleanup_interval"`
	EnableAutoCleanup bool              `toml:"enable_auto_cleanup"`
	Thresholds        ThresholdsConfig  `toml:"thresholds"`
}

// ThresholdsConfig expresses warning/critical levels as fractions of MaxMemoryUsage.
type ThresholdsConfig struct {
	Warning  float64 `toml:"warning"`
	Critical float64 `toml:"critical"`
}

// ResumableConfig controls the resumable-upload state store.
type ResumableConfig struct {
	Enabled              bool   `toml:"enabled"`
	MaxRetries           int    `toml:"max_retries"`
	RetryDelay           string `toml:"retry_delay"`
	ChecksumVerification bool   `toml:"checksum_verification"`
	StorageAdapter       string `toml:"storage_adapter"` // "file" or "sqlite"
	AutoSaveInterval     string `toml:"auto_save_interval"`
	StatePath            string `toml:"state_path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}
