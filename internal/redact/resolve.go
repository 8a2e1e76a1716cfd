// Package redact reconciles overlapping findings from independent detectors
// and rewrites text by position, replacing each finding with a typed
// placeholder.
package redact

import (
	"sort"

	"github.com/dativo-io/tarja/internal/classifier"
)

// Resolve merges candidate findings into a pairwise disjoint set sorted by
// start offset. Candidates are taken in priority order: higher risk, then the
// longer span, then the rule layer over the statistical one, then the lower
// type name, then the earlier start. Each candidate is kept unless it
// overlaps one already kept, so a finding is dropped only when a finding of
// higher priority covering part of it ends up in the output. The input slice
// is not modified.
func Resolve(findings []classifier.Finding) []classifier.Finding {
	cands := make([]classifier.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Start >= 0 && f.End > f.Start {
			cands = append(cands, f)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if beats(a, b) != beats(b, a) {
			return beats(a, b)
		}
		return a.Start < b.Start
	})

	// out stays sorted by start and disjoint, so its end offsets increase
	// too and the only span that can overlap c is the first ending after
	// c.Start.
	out := make([]classifier.Finding, 0, len(cands))
	for _, c := range cands {
		i := sort.Search(len(out), func(i int) bool { return out[i].End > c.Start })
		if i < len(out) && out[i].Start < c.End {
			continue
		}
		out = append(out, classifier.Finding{})
		copy(out[i+1:], out[i:])
		out[i] = c
	}
	return out
}

// beats reports whether a has priority over b when the two overlap.
func beats(a, b classifier.Finding) bool {
	if a.Risk != b.Risk {
		return a.Risk > b.Risk
	}
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	if a.Source != b.Source {
		return a.Source == classifier.SourceRule
	}
	return a.Type < b.Type
}
