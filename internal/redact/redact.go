package redact

import (
	"fmt"
	"strings"

	"github.com/dativo-io/tarja/internal/classifier"
)

// Placeholder renders the marker written in place of a finding. It must not
// produce text matched by any detector, or redaction stops being idempotent.
type Placeholder func(t classifier.PIIType) string

// DefaultPlaceholder renders "[<TYPE> OMITIDO]".
func DefaultPlaceholder(t classifier.PIIType) string {
	return "[" + strings.ToUpper(string(t)) + " OMITIDO]"
}

// Result is the terminal artifact of one redaction.
type Result struct {
	DocumentID   string               `json:"document_id"`
	RedactedText string               `json:"redacted_text"`
	Findings     []classifier.Finding `json:"findings"`
}

// Redact resolves candidates and applies them to text.
func Redact(docID, text string, candidates []classifier.Finding, ph Placeholder) (*Result, error) {
	resolved := Resolve(candidates)
	redacted, err := Apply(text, resolved, ph)
	if err != nil {
		return nil, err
	}
	return &Result{DocumentID: docID, RedactedText: redacted, Findings: resolved}, nil
}

// Apply builds a new string from text, copying unmatched bytes verbatim and
// substituting each finding's span with its placeholder. Substitution is by
// offset only; other occurrences of the same value are left untouched.
// findings must be sorted by Start, disjoint, in range, and carry the exact
// text at their span.
func Apply(text string, findings []classifier.Finding, ph Placeholder) (string, error) {
	if ph == nil {
		ph = DefaultPlaceholder
	}
	if err := checkSpans(text, findings); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, f := range findings {
		b.WriteString(text[cursor:f.Start])
		b.WriteString(ph(f.Type))
		cursor = f.End
	}
	b.WriteString(text[cursor:])
	return b.String(), nil
}

// Restore inverts Apply: given the redacted text and the findings used to
// produce it, it puts the original values back. It fails if a placeholder is
// not found where the findings say it should be.
func Restore(redacted string, findings []classifier.Finding, ph Placeholder) (string, error) {
	if ph == nil {
		ph = DefaultPlaceholder
	}
	var b strings.Builder
	b.Grow(len(redacted))
	r, prevEnd := 0, 0
	for i, f := range findings {
		gap := f.Start - prevEnd
		if gap < 0 || r+gap > len(redacted) {
			return "", fmt.Errorf("finding %d: span [%d,%d) does not fit redacted text", i, f.Start, f.End)
		}
		b.WriteString(redacted[r : r+gap])
		r += gap

		marker := ph(f.Type)
		if !strings.HasPrefix(redacted[r:], marker) {
			return "", fmt.Errorf("finding %d: expected placeholder %q at offset %d", i, marker, r)
		}
		b.WriteString(f.Value)
		r += len(marker)
		prevEnd = f.End
	}
	b.WriteString(redacted[r:])
	return b.String(), nil
}

func checkSpans(text string, findings []classifier.Finding) error {
	prevEnd := 0
	for i, f := range findings {
		if f.Start < 0 || f.End > len(text) || f.Start >= f.End {
			return fmt.Errorf("finding %d: span [%d,%d) out of range for text of %d bytes", i, f.Start, f.End, len(text))
		}
		if f.Start < prevEnd {
			return fmt.Errorf("finding %d: span [%d,%d) overlaps or precedes previous span ending at %d", i, f.Start, f.End, prevEnd)
		}
		if text[f.Start:f.End] != f.Value {
			return fmt.Errorf("finding %d: value does not match text at [%d,%d)", i, f.Start, f.End)
		}
		prevEnd = f.End
	}
	return nil
}
