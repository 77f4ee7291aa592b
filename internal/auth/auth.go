// Package auth validates the bearer token presented by the controller on the
// agent's HTTP API.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the work factor used when hashing tokens.
// It can be lowered in tests via the exported variable below.
var bcryptCost = bcrypt.DefaultCost

// Manager checks API tokens against a bcrypt hash taken from the config
// file. With no hash configured, authentication is disabled.
type Manager struct {
	tokenHash []byte
}

// NewManager creates a manager for the given bcrypt hash. The hash is
// checked for a valid bcrypt prefix so a plain token pasted into the config
// is rejected at startup.
func NewManager(tokenHash string) (*Manager, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return &Manager{}, nil
	}
	if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
		return nil, errors.New("api.token_hash is not a bcrypt hash; generate one with hash-token")
	}
	return &Manager{tokenHash: []byte(tokenHash)}, nil
}

// Enabled reports whether requests must carry a token.
func (m *Manager) Enabled() bool {
	return len(m.tokenHash) > 0
}

// ValidateToken returns true if token matches the configured hash.
func (m *Manager) ValidateToken(token string) bool {
	if token == "" || !m.Enabled() {
		return false
	}
	return bcrypt.CompareHashAndPassword(m.tokenHash, []byte(token)) == nil
}

// HashToken returns the bcrypt hash to put into api.token_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("token cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GenerateToken returns a cryptographically random 32-byte hex string.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
