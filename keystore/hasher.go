package keystore

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/keyguard/keygen"
)

// Hash algorithm constants.
const (
	HashAlgSHA256    = "sha256"
	HashAlgSHA512    = "sha512"
	HashAlgBcrypt    = "bcrypt"
	HashAlgPlaintext = "plaintext"
)

// Hasher hashes API keys into their stored form and verifies raw keys
// against stored hashes.
type Hasher interface {
	// Hash returns the stored form of a raw key.
	Hash(key string) (string, error)

	// Verify reports whether a raw key matches a stored hash.
	Verify(key, hash string) bool

	// Deterministic reports whether Hash always produces the same
	// output for the same key, which allows hash-indexed lookup.
	Deterministic() bool
}

// NewHasher creates a hasher for the given algorithm. An empty
// algorithm defaults to sha256.
func NewHasher(algorithm string) (Hasher, error) {
	switch algorithm {
	case "", HashAlgSHA256:
		return SHA256Hasher{}, nil
	case HashAlgSHA512:
		return SHA512Hasher{}, nil
	case HashAlgBcrypt:
		return BcryptHasher{}, nil
	case HashAlgPlaintext:
		return PlaintextHasher{}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// SHA256Hasher hashes keys with SHA-256, hex encoded.
type SHA256Hasher struct{}

// Hash returns the hex-encoded SHA-256 digest of the key.
func (SHA256Hasher) Hash(key string) (string, error) {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether the key's digest matches the stored hash.
func (h SHA256Hasher) Verify(key, hash string) bool {
	computed, _ := h.Hash(key)
	return keygen.Compare(computed, hash)
}

// Deterministic reports that SHA-256 hashing is repeatable.
func (SHA256Hasher) Deterministic() bool { return true }

// SHA512Hasher hashes keys with SHA-512, hex encoded.
type SHA512Hasher struct{}

// Hash returns the hex-encoded SHA-512 digest of the key.
func (SHA512Hasher) Hash(key string) (string, error) {
	sum := sha512.Sum512([]byte(key))
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether the key's digest matches the stored hash.
func (h SHA512Hasher) Verify(key, hash string) bool {
	computed, _ := h.Hash(key)
	return keygen.Compare(computed, hash)
}

// Deterministic reports that SHA-512 hashing is repeatable.
func (SHA512Hasher) Deterministic() bool { return true }

// BcryptHasher hashes keys with bcrypt. Each Hash call salts anew, so
// records must be verified rather than looked up by hash.
type BcryptHasher struct {
	// Cost is the bcrypt cost. Zero uses bcrypt.DefaultCost.
	Cost int
}

// Hash returns the bcrypt hash of the key.
func (h BcryptHasher) Hash(key string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash failed: %w", err)
	}
	return string(out), nil
}

// Verify reports whether the key matches the stored bcrypt hash.
func (BcryptHasher) Verify(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// Deterministic reports that bcrypt hashing is salted.
func (BcryptHasher) Deterministic() bool { return false }

// PlaintextHasher stores keys unhashed. Development only.
type PlaintextHasher struct{}

// Hash returns the key unchanged.
func (PlaintextHasher) Hash(key string) (string, error) {
	return key, nil
}

// Verify compares the key against the stored value in constant time.
func (PlaintextHasher) Verify(key, hash string) bool {
	return keygen.Compare(key, hash)
}

// Deterministic reports that plaintext storage is repeatable.
func (PlaintextHasher) Deterministic() bool { return true }
