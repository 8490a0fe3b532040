package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// APIKey authenticates callers of the HTTP surface as a member of one
// organization. Key holds the normalized form: opaque keys verbatim, legacy
// keys as their SHA-256 hex digest.
type APIKey struct {
	ID        int64      `json:"id"`
	Key       string     `json:"-"`
	Name      string     `json:"name,omitempty"`
	OrgID     string     `json:"organization_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the key is no longer valid at now.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// Opaque key prefixes. Keys carrying one of these are stored verbatim.
const (
	KeyPrefixSecure   = "mlps_"
	KeyPrefixInsecure = "mlpi_"
)

// keySecretLen is the number of random bytes in a generated key (64 hex chars).
const keySecretLen = 32

// GenerateRawKey produces a new opaque API key: mlps_<64-char-secret>.
func GenerateRawKey() (string, error) {
	secret := make([]byte, keySecretLen)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("model: generate key secret: %w", err)
	}
	return KeyPrefixSecure + hex.EncodeToString(secret), nil
}

// HasOpaquePrefix reports whether raw uses one of the opaque key formats.
func HasOpaquePrefix(raw string) bool {
	return strings.HasPrefix(raw, KeyPrefixSecure) || strings.HasPrefix(raw, KeyPrefixInsecure)
}
