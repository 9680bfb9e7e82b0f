package security

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/upload-engine/chunkup/internal/tokenfile"
)

// metaUserKey is the tokenfile metadata key a persisted token's owning user
// is stored under.
const metaUserKey = "user_id"

// PersistToken writes token, previously returned by IssueToken, to path so a
// later process resuming the same upload can restore it with LoadToken
// instead of minting a new one. Returns an error if token was not issued by
// this manager (already revoked or expired).
func (m *TokenManager) PersistToken(path, token string) error {
	userID, _, _, err := parseToken(token)
	if err != nil {
		return err
	}

	m.mu.Lock()
	issuedAt, ok := m.issuedAt[token]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("security: token was not issued by this manager")
	}

	return tokenfile.Save(path, &oauth2.Token{
		AccessToken: token,
		Expiry:      issuedAt.Add(m.expiration),
	}, map[string]string{metaUserKey: userID})
}

// LoadToken reads a token file written by PersistToken and, if it has not
// expired, re-registers it as active so IsValid and Revoke treat it exactly
// as one just returned by IssueToken. Returns "" if the file does not exist
// or the token inside it has already expired.
func (m *TokenManager) LoadToken(path string) (string, error) {
	tok, meta, err := tokenfile.Load(path)
	if err != nil {
		return "", err
	}

	if tok == nil || !tok.Valid() {
		return "", nil
	}

	userID := meta[metaUserKey]
	issuedAt := tok.Expiry.Add(-m.expiration)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byUser[userID] = append(m.byUser[userID], tok.AccessToken)
	m.issuedAt[tok.AccessToken] = issuedAt
	m.expireTimers[tok.AccessToken] = time.AfterFunc(time.Until(tok.Expiry), func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeTokenLocked(userID, tok.AccessToken)
	})

	return tok.AccessToken, nil
}

// ForgetPersisted removes a token file written by PersistToken. Safe to call
// even if no file was ever written.
func ForgetPersisted(path string) error {
	return tokenfile.Remove(path)
}
