package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeQueryHash returns the SHA-256 hex digest of the trimmed query text.
// The hash deduplicates history entries for analytics; surrounding whitespace
// must not produce distinct hashes.
func ComputeQueryHash(queryText string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(queryText)))
	return hex.EncodeToString(sum[:])
}
