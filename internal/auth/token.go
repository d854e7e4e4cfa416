// Package auth verifies bearer tokens and mints session-resume tokens.
//
// Token verification is the demo pattern contract: tokens are opaque strings
// mapped to a principal by substring. A real deployment swaps Verify for a JWT
// verifier without touching callers.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
)

// Principal is the authenticated identity a token resolves to.
type Principal struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verify maps a token to a principal. An empty token fails.
func Verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("empty token")
	}
	switch {
	case strings.Contains(token, "admin"):
		return Principal{UserID: "admin-user-789", Roles: []string{"admin", "trader", "viewer"}}, nil
	case strings.Contains(token, "trader"):
		return Principal{UserID: "trader-user-123", Roles: []string{"trader", "viewer"}}, nil
	case strings.Contains(token, "viewer"):
		return Principal{UserID: "viewer-user-456", Roles: []string{"viewer"}}, nil
	case strings.Contains(token, "demo"):
		return Principal{UserID: "demo-user-001", Roles: []string{"viewer"}}, nil
	}
	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return Principal{UserID: "authenticated-user-" + prefix, Roles: []string{"viewer"}}, nil
}

// DefaultDeviceID derives a stable device id for clients that do not present
// one.
func DefaultDeviceID(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return fmt.Sprintf("trading-device-%d", h.Sum32()%1000000)
}

// ResumeToken is the 16-byte opaque token a client presents to reclaim its
// session within the TTL.
type ResumeToken [16]byte

// Hex returns the lowercase hex wire form (32 characters).
func (t ResumeToken) Hex() string {
	return hex.EncodeToString(t[:])
}

// IsZero reports whether the token is unset.
func (t ResumeToken) IsZero() bool {
	return t == ResumeToken{}
}

// NewResumeToken derives a token from the first 128 bits of
// SHA-256(userId ":" deviceId ":" nowMs ":" secret).
func NewResumeToken(userID, deviceID string, nowMs int64, secret string) ResumeToken {
	raw := fmt.Sprintf("%s:%s:%d:%s", userID, deviceID, nowMs, secret)
	sum := sha256.Sum256([]byte(raw))
	var t ResumeToken
	copy(t[:], sum[:16])
	return t
}

// ParseResumeToken decodes the 32-hex wire form. Anything else is rejected.
func ParseResumeToken(s string) (ResumeToken, error) {
	var t ResumeToken
	if len(s) != 32 {
		return t, fmt.Errorf("resume token must be 32 hex characters, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("resume token not hex: %w", err)
	}
	copy(t[:], raw)
	return t, nil
}
