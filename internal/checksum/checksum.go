// Package checksum computes content digests used to skip unchanged work.
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

// Fingerprint digests an ordered list of parts. Each part is length-prefixed
// so ("ab", "c") and ("a", "bc") differ.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		l := uint64(len(p))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WithFingerprint binds a content checksum to a fingerprint, so a changed
// fingerprint invalidates every stored checksum.
func WithFingerprint(sum, fingerprint string) string {
	if fingerprint == "" {
		return sum
	}
	return Fingerprint(fingerprint, sum)
}
