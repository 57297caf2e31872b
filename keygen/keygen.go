// Package keygen provides API key generation and timing-safe comparison
// utilities for validators built on top of package keyguard. Key
// generation is a convenience, not a key-management system.
package keygen

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// DefaultLength is the generated key length when Options.Length is not
// set.
const DefaultLength = 32

// Options configures Generate.
type Options struct {
	// Prefix, when non-empty, is prepended to the key as prefix + "_".
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// Length is the number of random URL-safe characters in the key,
	// excluding the prefix. Defaults to DefaultLength.
	Length int `yaml:"length,omitempty" json:"length,omitempty"`
}

// Generate produces a cryptographically random URL-safe key of exactly
// Length characters, prepended with Prefix + "_" when a prefix is set.
func Generate(opts Options) (string, error) {
	length := opts.Length
	if length <= 0 {
		length = DefaultLength
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	// Base64 expands 3 bytes to 4 characters, so encoding length random
	// bytes always yields at least length characters.
	key := base64.RawURLEncoding.EncodeToString(buf)[:length]
	if opts.Prefix != "" {
		key = opts.Prefix + "_" + key
	}
	return key, nil
}

// Compare reports whether a equals b byte for byte in constant time.
// When lengths differ it performs a constant-time self-comparison
// before returning false so the mismatch is not observable through
// timing.
func Compare(a, b string) bool {
	ab := []byte(a)
	bb := []byte(b)
	if len(ab) != len(bb) {
		subtle.ConstantTimeCompare(ab, ab)
		return false
	}
	return subtle.ConstantTimeCompare(ab, bb) == 1
}
