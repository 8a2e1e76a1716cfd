package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RecognizerFile is the top-level YAML structure for a recognizer config file.
// Mirrors Presidio's recognizer registry YAML format.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// RecognizerConfig mirrors Presidio's YAML recognizer schema with Tarja extensions.
type RecognizerConfig struct {
	Name            string          `yaml:"name" json:"name"`
	SupportedEntity string          `yaml:"supported_entity" json:"supported_entity"`
	Enabled         *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns        []PatternConfig `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	// Tarja extensions (Presidio ignores unknown fields)
	Validator string         `yaml:"validator,omitempty" json:"validator,omitempty"`
	Filters   []FilterConfig `yaml:"filters,omitempty" json:"filters,omitempty"`
	Countries []string       `yaml:"countries,omitempty" json:"countries,omitempty"`
}

// PatternConfig is a single regex pattern within a recognizer. Group selects
// the capture group holding the value; 0 means the whole match.
type PatternConfig struct {
	Name  string  `yaml:"name" json:"name"`
	Regex string  `yaml:"regex" json:"regex"`
	Group int     `yaml:"group,omitempty" json:"group,omitempty"`
	Score float64 `yaml:"score,omitempty" json:"score,omitempty"`
}

// isEnabled returns true if the recognizer is enabled (defaults to true when nil).
func (r *RecognizerConfig) isEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// ParseRecognizerFile parses recognizer YAML bytes into a RecognizerFile.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	return &rf, nil
}

// LoadRecognizerFile reads and parses a recognizer YAML file from disk.
// Returns nil (not an error) if the file does not exist, so callers can
// treat a missing global config as a no-op.
func LoadRecognizerFile(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file %s: %w", path, err)
	}
	return ParseRecognizerFile(data)
}

// MergeRecognizers performs a layered merge: defaults, then global overrides,
// then caller overrides. Later layers override earlier ones by matching on
// the recognizer Name field. New recognizers are appended.
func MergeRecognizers(layers ...[]*RecognizerConfig) []RecognizerConfig {
	index := make(map[string]int)
	var merged []RecognizerConfig

	for _, layer := range layers {
		for _, rc := range layer {
			if rc == nil {
				continue
			}
			if idx, exists := index[rc.Name]; exists {
				merged[idx] = *rc
			} else {
				index[rc.Name] = len(merged)
				merged = append(merged, *rc)
			}
		}
	}

	return merged
}

// toPtrSlice converts []RecognizerConfig to []*RecognizerConfig for MergeRecognizers.
func toPtrSlice(configs []RecognizerConfig) []*RecognizerConfig {
	ptrs := make([]*RecognizerConfig, len(configs))
	for i := range configs {
		ptrs[i] = &configs[i]
	}
	return ptrs
}

// CompilePIIPatterns converts a list of recognizer configs into the compiled
// []PIIPattern slice used by the Scanner at runtime. Disabled recognizers are
// skipped. Each regex pattern in a recognizer produces one PIIPattern entry
// sharing the recognizer's validator and filters.
func CompilePIIPatterns(recognizers []RecognizerConfig) ([]PIIPattern, error) {
	var patterns []PIIPattern

	for _, rec := range recognizers {
		if !rec.isEnabled() {
			continue
		}
		piiType, err := ParsePIIType(rec.SupportedEntity)
		if err != nil {
			return nil, fmt.Errorf("recognizer %q: %w", rec.Name, err)
		}

		var validate Validator
		if rec.Validator != "" {
			v, ok := validators[rec.Validator]
			if !ok {
				return nil, fmt.Errorf("recognizer %q: unknown validator %q", rec.Name, rec.Validator)
			}
			validate = v
		}

		filters := make([]NoiseFilter, 0, len(rec.Filters))
		for _, fc := range rec.Filters {
			f, err := buildFilter(fc)
			if err != nil {
				return nil, fmt.Errorf("recognizer %q: %w", rec.Name, err)
			}
			filters = append(filters, f)
		}

		for _, p := range rec.Patterns {
			compiled, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %q: %w", p.Name, rec.Name, err)
			}
			if p.Group < 0 || p.Group > compiled.NumSubexp() {
				return nil, fmt.Errorf("pattern %q in recognizer %q: group %d out of range (pattern has %d)",
					p.Name, rec.Name, p.Group, compiled.NumSubexp())
			}
			patterns = append(patterns, PIIPattern{
				Name:      rec.Name,
				Type:      piiType,
				Pattern:   compiled,
				Group:     p.Group,
				Validate:  validate,
				Filters:   filters,
				Countries: rec.Countries,
			})
		}
	}

	return patterns, nil
}

// FilterByEntities applies enabled/disabled entity filters to a recognizer list.
// If enabledEntities is non-empty, only recognizers with matching supported_entity
// are kept (whitelist). Then any recognizer in disabledEntities is removed (blacklist).
// Entity names are compared after ParsePIIType normalisation, so legacy
// labels such as "CPF" select NATIONAL_ID recognizers.
func FilterByEntities(recognizers []RecognizerConfig, enabledEntities, disabledEntities []string) []RecognizerConfig {
	result := recognizers

	if len(enabledEntities) > 0 {
		allowed := entitySet(enabledEntities)
		var filtered []RecognizerConfig
		for _, r := range result {
			if allowed[normalizeEntity(r.SupportedEntity)] {
				filtered = append(filtered, r)
			}
		}
		result = filtered
	}

	if len(disabledEntities) > 0 {
		blocked := entitySet(disabledEntities)
		var filtered []RecognizerConfig
		for _, r := range result {
			if !blocked[normalizeEntity(r.SupportedEntity)] {
				filtered = append(filtered, r)
			}
		}
		result = filtered
	}

	return result
}

func entitySet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[normalizeEntity(n)] = true
	}
	return set
}

func normalizeEntity(name string) string {
	if t, err := ParsePIIType(name); err == nil {
		return string(t)
	}
	return name
}
