package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger that writes to stderr, ensuring
// config debug output appears in test output for CI visibility.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
[transfers]
chunk_size = "8MiB"
concurrent_streams = 8
compression_enabled = false
retry_attempts = 5

[security]
max_file_size = "1GiB"
allowed_mime_types = ["image/png", "application/pdf"]

[security.encryption]
enabled = true
algorithm = "AES-GCM"
key_size = 256

[resumable]
storage_adapter = "sqlite"
`
	path := writeTestConfig(t, tomlContent)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "8MiB", cfg.Transfers.ChunkSize)
	assert.Equal(t, 8, cfg.Transfers.ConcurrentStreams)
	assert.False(t, cfg.Transfers.CompressionEnabled)
	assert.Equal(t, 5, cfg.Transfers.RetryAttempts)
	assert.Equal(t, "1GiB", cfg.Security.MaxFileSize)
	assert.True(t, cfg.Security.Encryption.Enabled)
	assert.Equal(t, "sqlite", cfg.Resumable.StorageAdapter)

	// Fields not present in the TOML keep their defaults.
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml", testLogger(t))
	require.Error(t, err)
}

func TestLoad_InvalidValue_FailsValidation(t *testing.T) {
	path := writeTestConfig(t, `
[transfers]
concurrent_streams = -1
`)
	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrent_streams")
}

func TestLoadOrDefault_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"), testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOrDefault_ExistingFile_Loads(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
log_level = "debug"
`)

	cfg, err := LoadOrDefault(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}
