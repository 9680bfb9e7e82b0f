package security

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultTokenExpiration is the fallback used when a caller configures a
// zero or negative expiration. spec.md's reference implementation carries
// a latent bug where a zero fallback, multiplied against elapsed time,
// always evaluates "expired"; this is the resolved Go behavior: a
// positive fallback duration instead of zero.
const defaultTokenExpiration = time.Hour

// TokenManager issues, validates, and expires access tokens of the form
// "{userId}:{uuid}:{epochMs}".
type TokenManager struct {
	expiration       time.Duration
	maxTokensPerUser int

	mu         sync.Mutex
	byUser     map[string][]string // ordered oldest-first
	issuedAt   map[string]time.Time
	expireTimers map[string]*time.Timer
}

// NewTokenManager creates a TokenManager. expiration <= 0 is replaced with
// defaultTokenExpiration. maxTokensPerUser <= 0 means unbounded.
func NewTokenManager(expiration time.Duration, maxTokensPerUser int) *TokenManager {
	if expiration <= 0 {
		expiration = defaultTokenExpiration
	}

	return &TokenManager{
		expiration:       expiration,
		maxTokensPerUser: maxTokensPerUser,
		byUser:           make(map[string][]string),
		issuedAt:         make(map[string]time.Time),
		expireTimers:     make(map[string]*time.Timer),
	}
}

// IssueToken mints a fresh token for userId, evicting the oldest token for
// that user if maxTokensPerUser is already reached.
func (m *TokenManager) IssueToken(userID string) string {
	now := time.Now()
	token := fmt.Sprintf("%s:%s:%d", userID, uuid.NewString(), now.UnixMilli())

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := m.byUser[userID]
	if m.maxTokensPerUser > 0 && len(tokens) >= m.maxTokensPerUser {
		oldest := tokens[0]
		tokens = tokens[1:]
		m.deleteLocked(oldest)
	}

	tokens = append(tokens, token)
	m.byUser[userID] = tokens
	m.issuedAt[token] = now

	m.expireTimers[token] = time.AfterFunc(m.expiration, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeTokenLocked(userID, token)
	})

	return token
}

// IsValid reports whether token is present in the active set and has not
// exceeded its expiration.
func (m *TokenManager) IsValid(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	issuedAt, ok := m.issuedAt[token]
	if !ok {
		return false
	}

	return time.Since(issuedAt) < m.expiration
}

// Revoke removes token from the active set immediately.
func (m *TokenManager) Revoke(token string) {
	userID, _, _, err := parseToken(token)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeTokenLocked(userID, token)
}

func (m *TokenManager) removeTokenLocked(userID, token string) {
	m.deleteLocked(token)

	tokens := m.byUser[userID]
	for i, t := range tokens {
		if t == token {
			m.byUser[userID] = append(tokens[:i], tokens[i+1:]...)
			break
		}
	}
}

// deleteLocked removes bookkeeping for token; callers hold m.mu.
func (m *TokenManager) deleteLocked(token string) {
	delete(m.issuedAt, token)

	if timer, ok := m.expireTimers[token]; ok {
		timer.Stop()
		delete(m.expireTimers, token)
	}
}

func parseToken(token string) (userID, id string, epochMs int64, err error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("security: malformed token %q", token)
	}

	epochMs, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("security: malformed token epoch in %q: %w", token, err)
	}

	return parts[0], parts[1], epochMs, nil
}
