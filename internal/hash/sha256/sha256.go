// Package sha256 fingerprints normalized content so unchanged pages can be
// recognized across crawls.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix tags digests with their algorithm.
const Prefix = "sha256:"

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the prefixed hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}
