// Package identity resolves bearer tokens to stable user identifiers.
package identity

import (
	"crypto/subtle"
	"strings"
)

// Authenticator maps a bearer token to a user ID.
type Authenticator interface {
	Authenticate(token string) (userID string, ok bool)
}

// StaticTokens authenticates against a fixed token table.
type StaticTokens struct {
	tokens map[string]string
}

// NewStaticTokens copies the token → user ID table.
func NewStaticTokens(tokens map[string]string) *StaticTokens {
	copied := make(map[string]string, len(tokens))
	for token, userID := range tokens {
		if token = strings.TrimSpace(token); token != "" && userID != "" {
			copied[token] = userID
		}
	}
	return &StaticTokens{tokens: copied}
}

// Authenticate compares token against every entry in constant time so the
// response time does not reveal which prefix matched.
func (s *StaticTokens) Authenticate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	var match string
	for candidate, userID := range s.tokens {
		if constantTimeEqual(token, candidate) {
			match = userID
		}
	}
	return match, match != ""
}

// constantTimeEqual compares two strings using constant-time comparison.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
