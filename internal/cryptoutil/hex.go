// Package cryptoutil holds key-material helpers shared by configuration
// validation and the evidence signer.
package cryptoutil

import (
	"encoding/hex"
	"fmt"
)

// IsHexString reports whether s consists entirely of hexadecimal characters
// (0-9, a-f, A-F). It returns true for an empty string; callers should check
// length separately when a minimum size is required.
func IsHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// ResolveKey interprets key as hex when it is at least 2*minBytes even-length
// hex characters, and as raw bytes otherwise. Either form must yield at
// least minBytes bytes.
func ResolveKey(key string, minBytes int) ([]byte, error) {
	n := len(key)
	if n >= 2*minBytes && n%2 == 0 && IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("key hex decode: %w", err)
		}
		return decoded, nil
	}
	if n < minBytes {
		return nil, fmt.Errorf("key must be at least %d bytes or %d+ hex characters (got %d)", minBytes, 2*minBytes, n)
	}
	return []byte(key), nil
}
