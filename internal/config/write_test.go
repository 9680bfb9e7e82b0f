package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConfig_WritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	err := CreateConfig(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# chunkup configuration")
	assert.Contains(t, content, "[transfers]")
	assert.Contains(t, content, "[security.encryption]")
	assert.Contains(t, content, "[resumable]")
}

func TestCreateConfig_CreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "config.toml")

	err := CreateConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestCreateConfig_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfig(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())
}

func TestCreateConfig_TemplateIsCommentedOut(t *testing.T) {
	// The template should contain no active values — only section headers
	// and comments — so that loading it yields pure defaults.
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfig(path))

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestCreateConfig_TemplateIsValidTOML(t *testing.T) {
	var m map[string]any

	_, err := toml.Decode(configTemplate, &m)
	require.NoError(t, err)
}

func TestAtomicWriteFile_NoPartialWriteOnRepeat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, atomicWriteFile(path, []byte("first")))
	require.NoError(t, atomicWriteFile(path, []byte("second, a longer value")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second, a longer value", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files")
}
