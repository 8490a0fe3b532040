// Package auth resolves bearer API keys to the organization they belong to
// and, for the run endpoints, to a run inside that organization.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mlop-ai/monitor/internal/model"
)

// NormalizeKey returns the stored form of a raw API key. Opaque keys are
// stored verbatim; anything else is stored as its lowercase SHA-256 hex digest.
func NormalizeKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if model.HasOpaquePrefix(raw) {
		return raw
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
