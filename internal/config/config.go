// Package config holds OPERATOR-LEVEL configuration for a Tarja installation.
//
// Values come from env vars (TARJA_*), an optional config file
// (tarja.config.yaml in . or ~/.tarja) and defaults, merged by Viper.
// The evidence signing key and the optional OpenAI API key are the only
// secrets. API keys for the HTTP server map a key to a caller name that is
// written into audit records.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/cryptoutil"
	"github.com/dativo-io/tarja/internal/ner"
)

// Viper keys. Each maps to an env var with the TARJA_ prefix
// (e.g. "signing_key" → TARJA_SIGNING_KEY) and to a YAML field
// in tarja.config.yaml (e.g. signing_key: "...").
const (
	KeyDataDir          = "data_dir"
	KeySigningKey       = "signing_key"
	KeyPatternFile      = "pattern_file"
	KeyStoplistFile     = "stoplist_file"
	KeyStoplistReplace  = "stoplist_replace"
	KeyNERURL           = "ner_url"
	KeyNERPrimaryModel  = "ner_primary_model"
	KeyNERFallbackModel = "ner_fallback_model"
	KeyNERTimeout       = "ner_timeout"
	KeyWorkers          = "workers"
	KeyMaxDocumentMB    = "max_document_mb"
	KeyRiskOverrides    = "risk_overrides"
	KeyEnabledEntities  = "enabled_entities"
	KeyDisabledEntities = "disabled_entities"
	KeyAPIKeys          = "api_keys"
	KeyRateLimitRPM     = "rate_limit_rpm"
	KeyCallerRPM        = "caller_rate_limit_rpm"
	KeyOpenAIBaseURL    = "openai_base_url"
	KeyOpenAIAPIKey     = "openai_api_key"
	KeyOpenAIModel      = "openai_model"
)

// Defaults that do NOT involve crypto material. The signing key
// has no baked-in default. When unset we generate a
// deterministic per-machine fallback and warn loudly.
const (
	DefaultNERURL       = "http://localhost:8081"
	DefaultNERTimeout   = 30 * time.Second
	DefaultWorkers      = 4
	DefaultMaxDocMB     = 10
	DefaultRateLimitRPM = 600
	DefaultCallerRPM    = 120
)

// Config holds resolved operator-level configuration for a Tarja process.
type Config struct {
	DataDir          string            // Base directory for all state (~/.tarja)
	SigningKey       string            // HMAC-SHA256 key for evidence signing (≥32 bytes)
	PatternFile      string            // Optional recognizer pack layered over the defaults
	StoplistFile     string            // Optional stoplist merged with (or replacing) the defaults
	StoplistReplace  bool              // Replace the default stoplist instead of extending it
	NERURL           string            // NER sidecar base URL
	NERPrimaryModel  string            // Preferred statistical model
	NERFallbackModel string            // Model tried when the primary is unavailable
	NERTimeout       time.Duration     // Per-request NER timeout
	Workers          int               // Batch worker pool size
	MaxDocumentMB    int               // Maximum input file size in MB
	RiskOverrides    map[string]string // PII type → risk level name
	EnabledEntities  []string          // Whitelist of recognizer entities (empty = all)
	DisabledEntities []string          // Blacklist of recognizer entities
	APIKeys          map[string]string // API key → caller name, from "caller:key" entries
	RateLimitRPM     int               // Global HTTP requests per minute
	CallerRPM        int               // Per-caller HTTP requests per minute
	OpenAIBaseURL    string            // OpenAI-compatible API host (empty = api.openai.com)
	OpenAIAPIKey     string            // API key for the OpenAI-compatible NER backend
	OpenAIModel      string            // Chat model used by the OpenAI-compatible NER backend

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the evidence signing key was derived (not set explicitly).
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// EvidenceDBPath returns the full path to the evidence SQLite database.
func (c *Config) EvidenceDBPath() string {
	return filepath.Join(c.DataDir, "evidence.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// RiskTable returns the default risk table with the configured overrides.
func (c *Config) RiskTable() (classifier.RiskTable, error) {
	return classifier.DefaultRiskTable().WithOverrides(c.RiskOverrides)
}

// NERModels returns the model chain in load order.
func (c *Config) NERModels() []string {
	return []string{c.NERPrimaryModel, c.NERFallbackModel}
}

// WarnIfDefaultKeys logs a warning when the signing key is not explicitly set.
// Suppressed when TARJA_QUICKSTART=1 or true (e.g. first-time exploration, demos).
func (c *Config) WarnIfDefaultKeys() {
	if isQuickstart() {
		return
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default TARJA_SIGNING_KEY; set via env var or config file for production")
	}
}

func isQuickstart() bool {
	v := os.Getenv("TARJA_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func init() {
	viper.SetEnvPrefix("TARJA")
	viper.AutomaticEnv()
	SetDefaults()
}

// SetDefaults registers the non-secret defaults with Viper.
func SetDefaults() {
	viper.SetDefault(KeyNERURL, DefaultNERURL)
	viper.SetDefault(KeyNERPrimaryModel, ner.DefaultPrimaryModel)
	viper.SetDefault(KeyNERFallbackModel, ner.DefaultFallbackModel)
	viper.SetDefault(KeyNERTimeout, DefaultNERTimeout)
	viper.SetDefault(KeyWorkers, DefaultWorkers)
	viper.SetDefault(KeyMaxDocumentMB, DefaultMaxDocMB)
	viper.SetDefault(KeyRateLimitRPM, DefaultRateLimitRPM)
	viper.SetDefault(KeyCallerRPM, DefaultCallerRPM)
	viper.SetDefault(KeyOpenAIModel, ner.DefaultOpenAIModel)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:          resolveDataDir(),
		SigningKey:       viper.GetString(KeySigningKey),
		PatternFile:      viper.GetString(KeyPatternFile),
		StoplistFile:     viper.GetString(KeyStoplistFile),
		StoplistReplace:  viper.GetBool(KeyStoplistReplace),
		NERURL:           viper.GetString(KeyNERURL),
		NERPrimaryModel:  viper.GetString(KeyNERPrimaryModel),
		NERFallbackModel: viper.GetString(KeyNERFallbackModel),
		NERTimeout:       viper.GetDuration(KeyNERTimeout),
		Workers:          viper.GetInt(KeyWorkers),
		MaxDocumentMB:    viper.GetInt(KeyMaxDocumentMB),
		RiskOverrides:    viper.GetStringMapString(KeyRiskOverrides),
		EnabledEntities:  viper.GetStringSlice(KeyEnabledEntities),
		DisabledEntities: viper.GetStringSlice(KeyDisabledEntities),
		RateLimitRPM:     viper.GetInt(KeyRateLimitRPM),
		CallerRPM:        viper.GetInt(KeyCallerRPM),
		OpenAIBaseURL:    viper.GetString(KeyOpenAIBaseURL),
		OpenAIAPIKey:     viper.GetString(KeyOpenAIAPIKey),
		OpenAIModel:      viper.GetString(KeyOpenAIModel),
	}

	apiKeys, err := parseAPIKeys(viper.GetStringSlice(KeyAPIKeys))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.APIKeys = apiKeys

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "evidence-signing--")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tarja"
	}
	return filepath.Join(home, ".tarja")
}

// deriveDefaultKey produces a deterministic 64-hex-character fallback key
// from the data directory path and a salt. This is NOT cryptographically
// strong. It exists solely so `tarja redact` works out of the box while
// still signing evidence with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("tarja:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if _, err := cryptoutil.ResolveKey(c.SigningKey, 32); err != nil {
		return fmt.Errorf("signing_key: %w; set TARJA_SIGNING_KEY", err)
	}
	if c.MaxDocumentMB <= 0 {
		return fmt.Errorf("max_document_mb must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.NERTimeout <= 0 {
		return fmt.Errorf("ner_timeout must be positive")
	}
	if c.NERPrimaryModel == "" && c.NERFallbackModel == "" {
		return fmt.Errorf("at least one of ner_primary_model and ner_fallback_model must be set")
	}
	if _, err := c.RiskTable(); err != nil {
		return fmt.Errorf("risk_overrides: %w", err)
	}
	return nil
}

// parseAPIKeys turns "caller:key" entries into a key → caller map. Entries
// are a list rather than a YAML map because Viper lowercases map keys.
func parseAPIKeys(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		caller, key, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || caller == "" || key == "" {
			return nil, fmt.Errorf("api_keys: entry %q must be caller:key", e)
		}
		if prev, dup := out[key]; dup {
			return nil, fmt.Errorf("api_keys: key for %q already assigned to %q", caller, prev)
		}
		out[key] = caller
	}
	return out, nil
}
