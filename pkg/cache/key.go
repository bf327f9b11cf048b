package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	maxKeyPrefix = 64
	// hashSuffixBytes of SHA-256 are appended to every storage key (16 hex chars).
	hashSuffixBytes = 8
)

// Fingerprint derives a logical cache key from content.
func Fingerprint(namespace, content string) string {
	sum := sha256.Sum256([]byte(content))
	return namespace + "_" + hex.EncodeToString(sum[:])
}

// StorageKey maps a logical key onto a name that is safe for any persistent
// tier: unsafe characters become '_', the readable prefix is bounded, and a
// digest of the full logical key keeps distinct keys apart after truncation.
func StorageKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if b.Len() >= maxKeyPrefix {
			break
		}
		if isSafeKeyRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(key))
	return b.String() + "-" + hex.EncodeToString(sum[:hashSuffixBytes])
}

var storageKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{0,64}-[0-9a-f]{16}$`)

// IsStorageKey reports whether name has the shape StorageKey produces. Tiers
// that share a namespace with other data use it to leave foreign names alone.
func IsStorageKey(name string) bool {
	return storageKeyPattern.MatchString(name)
}

func isSafeKeyRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}
