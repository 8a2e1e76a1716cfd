package ner

import (
	"strings"

	"github.com/dativo-io/tarja/internal/classifier"
)

// labelTypes maps recognizer labels from the common model families (spaCy
// pt/en, CoNLL, OntoNotes) to the PII taxonomy.
var labelTypes = map[string]classifier.PIIType{
	"PER":    classifier.PersonName,
	"PERSON": classifier.PersonName,
	"LOC":    classifier.Location,
	"GPE":    classifier.Location,
}

// MapLabel returns the PII type for a recognizer label. Labels outside the
// taxonomy (ORG, MISC, DATE, ...) report false.
func MapLabel(label string) (classifier.PIIType, bool) {
	t, ok := labelTypes[strings.ToUpper(strings.TrimSpace(label))]
	return t, ok
}
