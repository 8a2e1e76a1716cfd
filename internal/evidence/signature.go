package evidence

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dativo-io/tarja/internal/cryptoutil"
)

// SignaturePrefix tags every signature with its algorithm.
const SignaturePrefix = "hmac-sha256:"

// Signer creates and verifies HMAC-SHA256 signatures for record integrity.
type Signer struct {
	key []byte
}

// NewSigner creates an HMAC-SHA256 signer. Key must be at least 32 raw bytes or 64+ hex characters (decoded ≥32 bytes).
func NewSigner(key string) (*Signer, error) {
	keyBytes, err := ResolveSigningKey(key)
	if err != nil {
		return nil, err
	}
	return &Signer{key: keyBytes}, nil
}

// ResolveSigningKey interprets the key as raw bytes or hex (64+ even hex
// chars are decoded). Either form must yield at least 32 bytes.
func ResolveSigningKey(key string) ([]byte, error) {
	b, err := cryptoutil.ResolveKey(key, 32)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	return b, nil
}

// Sign creates an HMAC-SHA256 signature for the given data.
func (s *Signer) Sign(data []byte) (string, error) {
	h := hmac.New(sha256.New, s.key)
	if _, err := h.Write(data); err != nil {
		return "", err
	}
	return SignaturePrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks if a signature is valid for the given data.
func (s *Signer) Verify(data []byte, signature string) bool {
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}
	expected, err := s.Sign(data)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// KeyID returns a short fingerprint of the signing key, safe to display.
func (s *Signer) KeyID() string {
	sum := sha256.Sum256(s.key)
	return hex.EncodeToString(sum[:4])
}
