// Package testutil provides shared test helpers, fakes, and fixtures for Tarja tests.
package testutil

// TestSigningKey is the 32+ byte HMAC key used by tests only.
const TestSigningKey = "test-signing-key-1234567890123456"

// TestLexicon is a small name/location lexicon for the static recognizer.
var TestLexicon = map[string][]string{
	"PER": {"Maria Souza", "João da Silva"},
	"LOC": {"Taguatinga", "Brasília"},
}
