package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain (defaults -> file -> env -> flags) and
// are chosen to be safe, reasonable starting points that work without any
// config file.
const (
	defaultChunkSize         = "10MiB"
	defaultConcurrentStreams = 4
	defaultRetryAttempts     = 3
	defaultBandwidthLimit    = "0"

	defaultMaxFileSize          = "5GiB"
	defaultValidateFileSignature = true
	defaultEnableVirusScan      = false

	defaultEncryptionAlgorithm = "AES-GCM"
	defaultEncryptionKeySize   = 256

	defaultMaxRequestsPerMinute = 60
	defaultMaxConcurrentUploads = 3

	defaultTokenExpiration  = "1h"
	defaultMaxTokensPerUser = 5

	defaultMaxMemoryUsage    = "256MiB"
	defaultCleanupInterval   = "30s"
	defaultThresholdWarning  = 0.7
	defaultThresholdCritical = 0.9

	defaultResumableMaxRetries       = 5
	defaultResumableRetryDelay       = "1s"
	defaultResumableAutoSaveInterval = "10s"
	defaultStorageAdapter            = "file"

	defaultCacheCapacity = 64
	defaultCacheTTL      = "5m"

	defaultLogLevel  = "info"
	defaultLogFormat = "auto"

	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
	defaultUserAgent      = "chunkup/0.1"
)

// DefaultConfig returns a Config populated with all default values. This is
// used both as the starting point for TOML decoding (so unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Transfers: defaultTransfersConfig(),
		Security:  defaultSecurityConfig(),
		Resource:  defaultResourceConfig(),
		Resumable: defaultResumableConfig(),
		Cache:     defaultCacheConfig(),
		Logging:   defaultLoggingConfig(),
		Network:   defaultNetworkConfig(),
	}
}

func defaultTransfersConfig() TransfersConfig {
	return TransfersConfig{
		ChunkSize:          defaultChunkSize,
		ConcurrentStreams:  defaultConcurrentStreams,
		CompressionEnabled: true,
		ValidateChunks:     true,
		RetryAttempts:      defaultRetryAttempts,
		BandwidthLimit:     defaultBandwidthLimit,
	}
}

func defaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxFileSize:           defaultMaxFileSize,
		AllowedMimeTypes:      []string{"*/*"},
		AllowedExtensions:     []string{"*"},
		ValidateFileSignature: defaultValidateFileSignature,
		EnableVirusScan:       defaultEnableVirusScan,
		Encryption: EncryptionConfig{
			Enabled:   false,
			Algorithm: defaultEncryptionAlgorithm,
			KeySize:   defaultEncryptionKeySize,
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			MaxRequestsPerMinute: defaultMaxRequestsPerMinute,
			MaxConcurrentUploads: defaultMaxConcurrentUploads,
		},
		AccessControl: AccessControlConfig{
			Enabled:          true,
			TokenExpiration:  defaultTokenExpiration,
			MaxTokensPerUser: defaultMaxTokensPerUser,
		},
	}
}

func defaultResourceConfig() ResourceConfig {
	return ResourceConfig{
		MaxMemoryUsage:    defaultMaxMemoryUsage,
		CleanupInterval:   defaultCleanupInterval,
		EnableAutoCleanup: true,
		Thresholds: ThresholdsConfig{
			Warning:  defaultThresholdWarning,
			Critical: defaultThresholdCritical,
		},
	}
}

func defaultResumableConfig() ResumableConfig {
	return ResumableConfig{
		Enabled:              true,
		MaxRetries:           defaultResumableMaxRetries,
		RetryDelay:           defaultResumableRetryDelay,
		ChecksumVerification: true,
		StorageAdapter:       defaultStorageAdapter,
		AutoSaveInterval:     defaultResumableAutoSaveInterval,
	}
}

func defaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:  true,
		Capacity: defaultCacheCapacity,
		TTL:      defaultCacheTTL,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
		UserAgent:      defaultUserAgent,
	}
}
