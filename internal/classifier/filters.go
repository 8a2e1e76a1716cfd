package classifier

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FilterConfig configures a named noise filter inside a recognizer. Only the
// parameters relevant to the named filter are read.
type FilterConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Digits   int      `yaml:"digits,omitempty" json:"digits,omitempty"`
	Prefixes []string `yaml:"prefixes,omitempty" json:"prefixes,omitempty"`
	Markers  []string `yaml:"markers,omitempty" json:"markers,omitempty"`
	Min      int      `yaml:"min,omitempty" json:"min,omitempty"`
}

// NoiseFilter reports whether a candidate that matched a pattern should be
// discarded as contextually implausible.
type NoiseFilter func(value string) bool

// Filter names accepted in recognizer configs.
const (
	FilterYearLike        = "year_like"
	FilterUnformatted     = "unformatted"
	FilterMinPrefixLength = "min_prefix_length"
)

// buildFilter turns a FilterConfig into a NoiseFilter.
func buildFilter(fc FilterConfig) (NoiseFilter, error) {
	switch fc.Name {
	case FilterYearLike:
		if fc.Digits <= 0 || len(fc.Prefixes) == 0 {
			return nil, fmt.Errorf("filter %s requires digits and prefixes", fc.Name)
		}
		return yearLike(fc.Digits, fc.Prefixes), nil
	case FilterUnformatted:
		if fc.Digits <= 0 || len(fc.Markers) == 0 {
			return nil, fmt.Errorf("filter %s requires digits and markers", fc.Name)
		}
		return unformatted(fc.Digits, fc.Markers), nil
	case FilterMinPrefixLength:
		if fc.Min <= 0 {
			return nil, fmt.Errorf("filter %s requires min > 0", fc.Name)
		}
		return minPrefixLength(fc.Min), nil
	default:
		return nil, fmt.Errorf("unknown filter %q", fc.Name)
	}
}

// yearLike discards digit runs of exactly n digits that start with one of
// prefixes; "20240115" in running text is far more often a date than a phone.
func yearLike(n int, prefixes []string) NoiseFilter {
	return func(value string) bool {
		digits := stripNonDigits(value)
		if len(digits) != n {
			return false
		}
		for _, p := range prefixes {
			if strings.HasPrefix(digits, p) {
				return true
			}
		}
		return false
	}
}

// unformatted discards digit runs of exactly n digits whose raw text carries
// none of the formatting markers; bare 8-digit runs are usually protocol or
// ticket numbers.
func unformatted(n int, markers []string) NoiseFilter {
	return func(value string) bool {
		if len(stripNonDigits(value)) != n {
			return false
		}
		for _, m := range markers {
			if strings.Contains(value, m) {
				return false
			}
		}
		return true
	}
}

// minPrefixLength discards matches whose text before the first comma is
// shorter than minLen characters.
func minPrefixLength(minLen int) NoiseFilter {
	return func(value string) bool {
		prefix, _, _ := strings.Cut(value, ",")
		return utf8.RuneCountInString(strings.TrimSpace(prefix)) < minLen
	}
}
