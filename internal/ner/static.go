package ner

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// StaticRecognizer finds entities from a fixed lexicon of phrases. It runs
// in-process, which makes it suitable for offline runs and tests. Matching is
// exact and requires a word boundary on both sides.
type StaticRecognizer struct {
	entries []lexiconEntry
}

type lexiconEntry struct {
	label  string
	phrase string
}

// NewStaticRecognizer builds a recognizer from label -> phrases.
func NewStaticRecognizer(lexicon map[string][]string) *StaticRecognizer {
	labels := make([]string, 0, len(lexicon))
	for label := range lexicon {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	r := &StaticRecognizer{}
	for _, label := range labels {
		for _, phrase := range lexicon[label] {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			r.entries = append(r.entries, lexiconEntry{label: label, phrase: phrase})
		}
	}
	return r
}

// LoadLexicon reads a YAML lexicon file of the form {LABEL: [phrase, ...]}.
func LoadLexicon(path string) (*StaticRecognizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon %s: %w", path, err)
	}
	var lexicon map[string][]string
	if err := yaml.Unmarshal(data, &lexicon); err != nil {
		return nil, fmt.Errorf("parsing lexicon %s: %w", path, err)
	}
	return NewStaticRecognizer(lexicon), nil
}

// Recognize returns every lexicon occurrence in text ordered by start offset.
func (r *StaticRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Entity
	for _, e := range r.entries {
		out = append(out, locate(text, e.label, e.phrase)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func wordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// StaticProvider serves a fixed set of in-process recognizers by model id.
type StaticProvider map[string]Recognizer

// Load returns the recognizer registered under modelID.
func (p StaticProvider) Load(_ context.Context, modelID string) (Recognizer, error) {
	r, ok := p[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	return r, nil
}
