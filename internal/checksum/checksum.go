// Package checksum computes the content digests used as note ETags.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Match reports whether ifMatch is empty or equals the digest of data.
// Surrounding quotes, as sent in HTTP If-Match headers, are ignored.
func Match(ifMatch string, data []byte) bool {
	if ifMatch == "" || ifMatch == "*" {
		return true
	}
	if len(ifMatch) >= 2 && ifMatch[0] == '"' && ifMatch[len(ifMatch)-1] == '"' {
		ifMatch = ifMatch[1 : len(ifMatch)-1]
	}
	return ifMatch == Sum(data)
}
