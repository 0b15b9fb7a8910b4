package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256  HashAlgorithm = "sha256"
	BLAKE2b HashAlgorithm = "blake2b"
)

// Hasher computes package digests
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{
		algorithm: algorithm,
	}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(BLAKE2b)
}

// Algorithm returns the configured algorithm
func (h *Hasher) Algorithm() HashAlgorithm {
	return h.algorithm
}

// Hash computes the hex hash of data
func (h *Hasher) Hash(data []byte) string {
	switch h.algorithm {
	case BLAKE2b:
		sum := blake2b.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// Digest returns "<algorithm>:<hex>"
func (h *Hasher) Digest(data []byte) string {
	alg := h.algorithm
	if alg != BLAKE2b {
		alg = SHA256
	}
	return fmt.Sprintf("%s:%s", alg, h.Hash(data))
}

// VerifyDigest checks data against a digest. A bare hex value is treated as sha256.
func VerifyDigest(data []byte, digest string) error {
	alg, sum, ok := strings.Cut(digest, ":")
	if !ok {
		alg, sum = string(SHA256), digest
	}
	var algorithm HashAlgorithm
	switch HashAlgorithm(strings.ToLower(alg)) {
	case SHA256:
		algorithm = SHA256
	case BLAKE2b:
		algorithm = BLAKE2b
	default:
		return fmt.Errorf("unsupported digest algorithm %q", alg)
	}
	got := NewHasher(algorithm).Hash(data)
	if subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(sum))) != 1 {
		return fmt.Errorf("digest mismatch: want %s, got %s:%s", digest, algorithm, got)
	}
	return nil
}
