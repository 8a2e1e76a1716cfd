package ner

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/patterns"
)

// Stoplist holds administrative boilerplate phrases that statistical
// recognizers tend to tag as names or places. Phrases are stored NFC
// normalized and case folded.
type Stoplist struct {
	phrases []string
}

type stoplistFile struct {
	Stoplist []string `yaml:"stoplist"`
}

// NewStoplist builds a stoplist from raw phrases. Empty phrases are ignored.
func NewStoplist(phrases ...string) *Stoplist {
	s := &Stoplist{}
	seen := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		f := fold(strings.TrimSpace(p))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		s.phrases = append(s.phrases, f)
	}
	return s
}

// ParseStoplist parses YAML of the form {stoplist: [phrase, ...]}.
func ParseStoplist(data []byte) (*Stoplist, error) {
	var f stoplistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing stoplist YAML: %w", err)
	}
	return NewStoplist(f.Stoplist...), nil
}

// LoadStoplist reads a stoplist file from disk.
func LoadStoplist(path string) (*Stoplist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stoplist %s: %w", path, err)
	}
	return ParseStoplist(data)
}

// DefaultStoplist returns the embedded Brazilian administrative stoplist.
func DefaultStoplist() *Stoplist {
	s, err := ParseStoplist(patterns.StoplistBRYAML())
	if err != nil {
		panic(fmt.Sprintf("ner.DefaultStoplist: %v", err))
	}
	return s
}

// Merge returns a stoplist holding the phrases of s and other.
func (s *Stoplist) Merge(other *Stoplist) *Stoplist {
	if other == nil {
		return s
	}
	return NewStoplist(append(append([]string{}, s.phrases...), other.phrases...)...)
}

// Len returns the number of phrases.
func (s *Stoplist) Len() int {
	if s == nil {
		return 0
	}
	return len(s.phrases)
}

// Match reports whether text contains any stoplist phrase, comparing
// case-insensitively after NFC normalization. The first matching phrase is
// returned.
func (s *Stoplist) Match(text string) (string, bool) {
	if s.Len() == 0 {
		return "", false
	}
	folded := fold(text)
	for _, p := range s.phrases {
		if strings.Contains(folded, p) {
			return p, true
		}
	}
	return "", false
}

// fold normalizes to NFC and applies Unicode case folding. A Caser is not
// safe for concurrent use, so one is created per call.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// FilterEntities keeps the entities that map to the PII taxonomy and survive
// the blacklist rules: single-token person names, placeholder fragments and
// stoplist phrases are dropped.
func FilterEntities(entities []Entity, stop *Stoplist) []Entity {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		typ, ok := MapLabel(e.Label)
		if !ok {
			continue
		}
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		if typ == classifier.PersonName && !strings.ContainsFunc(text, unicode.IsSpace) {
			continue
		}
		if strings.ContainsAny(text, "[]") {
			continue
		}
		if _, hit := stop.Match(text); hit {
			continue
		}
		out = append(out, e)
	}
	return out
}
