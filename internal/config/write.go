package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written on first run.
// Every option is present as a commented-out default so a user can discover
// the full schema without reading docs. The template is written once and
// never regenerated; subsequent edits are the user's own.
const configTemplate = `# chunkup configuration
# Uncomment and modify any line below to override its default.

[transfers]
# chunk_size = "10MiB"
# concurrent_streams = 4
# compression_enabled = true
# validate_chunks = true
# retry_attempts = 3
# bandwidth_limit = "0"

[security]
# max_file_size = "5GiB"
# allowed_mime_types = ["*/*"]
# allowed_extensions = ["*"]
# validate_file_signature = true
# enable_virus_scan = false

[security.encryption]
# enabled = false
# algorithm = "AES-GCM"
# key_size = 256

[security.rate_limit]
# enabled = true
# max_requests_per_minute = 60
# max_concurrent_uploads = 3

[security.access_control]
# enabled = true
# token_expiration = "1h"
# max_tokens_per_user = 5

[resource]
# max_memory_usage = "256MiB"
# cleanup_interval = "30s"
# enable_auto_cleanup = true

[resource.thresholds]
# warning = 0.7
# critical = 0.9

[resumable]
# enabled = true
# max_retries = 5
# retry_delay = "1s"
# checksum_verification = true
# storage_adapter = "file"
# auto_save_interval = "10s"
# state_path = ""

[cache]
# enabled = true
# capacity = 64
# ttl = "5m"

[logging]
# log_level = "info"
# log_file = ""
# log_format = "auto"

[network]
# connect_timeout = "10s"
# data_timeout = "60s"
# user_agent = "chunkup/0.1"
`

// CreateConfig writes the default config template to path. Used on first
// run when no config file exists. The write is atomic (temp file + rename)
// and parent directories are created as needed.
func CreateConfig(path string) error {
	slog.Info("creating config file", "path", path)

	return atomicWriteFile(path, []byte(configTemplate))
}

// RenderEffective writes cfg to w as TOML, showing the fully-resolved
// configuration after defaults, file overrides, and env/flag overrides
// have all been applied.
func RenderEffective(cfg *Config, w io.Writer) error {
	enc := toml.NewEncoder(w)

	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("rendering effective config: %w", err)
	}

	return nil
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	// Flush data to disk before rename. Without fsync, a power loss after
	// rename could leave the file empty (rename is metadata-only on POSIX).
	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
