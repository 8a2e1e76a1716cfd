package ner

import (
	"context"
	"fmt"
	"time"

	"github.com/dativo-io/tarja/internal/classifier"
)

// Layer is the statistical detection layer: a loaded recognizer followed by
// label mapping and the blacklist filter.
type Layer struct {
	Recognizer Recognizer
	// Name is recorded as the Recognizer field of emitted findings.
	Name     string
	Stoplist *Stoplist
	Risk     classifier.RiskTable
}

// Detect recognizes entities in text and returns them as statistical
// findings stamped with ts. Entities whose offsets do not reproduce their
// text are dropped so that every finding satisfies Value == text[Start:End].
func (l *Layer) Detect(ctx context.Context, text string, ts time.Time) ([]classifier.Finding, error) {
	entities, err := l.Recognizer.Recognize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("recognizing entities: %w", err)
	}

	risk := l.Risk
	if risk == nil {
		risk = classifier.DefaultRiskTable()
	}

	kept := FilterEntities(entities, l.Stoplist)
	findings := make([]classifier.Finding, 0, len(kept))
	for _, e := range kept {
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End || text[e.Start:e.End] != e.Text {
			continue
		}
		typ, _ := MapLabel(e.Label)
		findings = append(findings, classifier.Finding{
			Type:       typ,
			Value:      e.Text,
			Start:      e.Start,
			End:        e.End,
			Risk:       risk.Level(typ),
			Source:     classifier.SourceStatistical,
			Recognizer: l.Name,
			Timestamp:  ts,
		})
	}
	return findings, nil
}
