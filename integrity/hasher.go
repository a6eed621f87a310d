// Package integrity computes tamper-evident fingerprints for tracking
// records. The encoding is canonical: every field is length-prefixed before
// hashing, so no combination of field values can collide with a different
// field split of the same bytes.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Fingerprint returns a hex-encoded SHA-256 digest over the ordered fields.
// Each field is encoded as "<decimal length>:<value>" before concatenation.
func Fingerprint(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
