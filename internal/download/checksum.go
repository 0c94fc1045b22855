package download

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Checksum computes the lowercase hex SHA-256 digest of payload.
// Callers may pin the result and re-verify an asset later.
func Checksum(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// VerifyChecksum compares the SHA-256 digest of payload against
// expectedHex, case-insensitively. A mismatch returns false; it never
// fails in any other way.
func VerifyChecksum(payload []byte, expectedHex string) bool {
	if expectedHex == "" {
		return false
	}
	return Checksum(payload) == strings.ToLower(expectedHex)
}
