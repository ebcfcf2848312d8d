package ingest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex sha256 digest of the exact byte sequence.
// This is the sole deduplication key; no file-name or metadata comparison.
// Empty input is valid and hashes like any other byte sequence.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
