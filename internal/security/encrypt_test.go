package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyManager_EncryptDecryptRoundTrip(t *testing.T) {
	km := NewKeyManager(32)
	require.NoError(t, km.GenerateKey("file-1"))

	plaintext := []byte("chunk payload bytes")

	ciphertext, err := km.Encrypt("file-1", plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)
	assert.True(t, len(ciphertext) >= gcmNonceSize+len(plaintext))

	got, err := km.Decrypt("file-1", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestKeyManager_DistinctIVsPerCall(t *testing.T) {
	km := NewKeyManager(32)
	require.NoError(t, km.GenerateKey("file-1"))

	a, err := km.Encrypt("file-1", []byte("same plaintext"))
	require.NoError(t, err)

	b, err := km.Encrypt("file-1", []byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "fresh IV per call must change ciphertext framing")
}

func TestKeyManager_EncryptWithoutKeyFails(t *testing.T) {
	km := NewKeyManager(32)

	_, err := km.Encrypt("unbound", []byte("x"))
	assert.Error(t, err)
}

func TestKeyManager_DestroyKeyRevokesAccess(t *testing.T) {
	km := NewKeyManager(32)
	require.NoError(t, km.GenerateKey("file-1"))
	assert.True(t, km.HasKey("file-1"))

	km.DestroyKey("file-1")
	assert.False(t, km.HasKey("file-1"))

	_, err := km.Encrypt("file-1", []byte("x"))
	assert.Error(t, err)
}

func TestKeyManager_DefaultKeySizeIs256Bit(t *testing.T) {
	km := NewKeyManager(0)
	assert.Equal(t, 32, km.keySize)
}

func TestKeyManager_DecryptTooShortFails(t *testing.T) {
	km := NewKeyManager(32)
	require.NoError(t, km.GenerateKey("file-1"))

	_, err := km.Decrypt("file-1", []byte("short"))
	assert.Error(t, err)
}
