// Package sha256 fingerprints stored artifacts so log lines can identify a
// recovery dump or uploaded key without echoing its contents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintLen is the number of hex characters kept by Fingerprint.
const FingerprintLen = 12

// Sum returns the full hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short prefix of the digest, enough to tell two
// uploads apart in the logs.
func Fingerprint(data []byte) string {
	return Sum(data)[:FingerprintLen]
}
