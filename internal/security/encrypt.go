package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
)

const gcmNonceSize = 12

// KeyManager issues and tracks one AES-GCM key per fileId, generated at
// upload start and destroyed on terminal status.
type KeyManager struct {
	keySize int // bytes: 16, 24, or 32

	mu   sync.Mutex
	keys map[string][]byte
}

// NewKeyManager creates a KeyManager minting keys of keySize bytes
// (default 32, i.e. AES-256, if keySize is not one of 16/24/32).
func NewKeyManager(keySize int) *KeyManager {
	switch keySize {
	case 16, 24, 32:
	default:
		keySize = 32
	}

	return &KeyManager{keySize: keySize, keys: make(map[string][]byte)}
}

// GenerateKey mints and stores a fresh key for fileId, replacing any
// existing one.
func (m *KeyManager) GenerateKey(fileID string) error {
	key := make([]byte, m.keySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("security: generating key for %s: %w", fileID, err)
	}

	m.mu.Lock()
	m.keys[fileID] = key
	m.mu.Unlock()

	return nil
}

// HasKey reports whether a key is currently bound to fileId.
func (m *KeyManager) HasKey(fileID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.keys[fileID]
	return ok
}

// DestroyKey zeroes and removes fileId's key. Safe to call on a fileId
// with no bound key.
func (m *KeyManager) DestroyKey(fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.keys[fileID]; ok {
		for i := range key {
			key[i] = 0
		}
		delete(m.keys, fileID)
	}
}

// Encrypt encrypts plaintext under fileId's bound key with a fresh 12-byte
// IV, returning IV‖ciphertext. Returns an error if no key is bound.
func (m *KeyManager) Encrypt(fileID string, plaintext []byte) ([]byte, error) {
	gcm, err := m.gcmFor(fileID)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("security: generating iv for %s: %w", fileID, err)
	}

	return gcm.Seal(iv, iv, plaintext, nil), nil
}

// Decrypt splits the first 12 bytes off framed as the IV and decrypts the
// remainder under fileId's bound key.
func (m *KeyManager) Decrypt(fileID string, framed []byte) ([]byte, error) {
	gcm, err := m.gcmFor(fileID)
	if err != nil {
		return nil, err
	}

	if len(framed) < gcmNonceSize {
		return nil, &invalidCiphertextError{}
	}

	iv, ciphertext := framed[:gcmNonceSize], framed[gcmNonceSize:]

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypting for %s: %w", fileID, err)
	}

	return plaintext, nil
}

func (m *KeyManager) gcmFor(fileID string) (cipher.AEAD, error) {
	m.mu.Lock()
	key, ok := m.keys[fileID]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("security: no key bound to file %s", fileID)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: creating cipher for %s: %w", fileID, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: creating gcm for %s: %w", fileID, err)
	}

	return gcm, nil
}

type invalidCiphertextError struct{}

func (e *invalidCiphertextError) Error() string { return "security: ciphertext shorter than iv" }
