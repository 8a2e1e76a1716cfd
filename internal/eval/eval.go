// Package eval measures detection accuracy against a hand-labelled gold
// standard. Comparison is at the level of PII type sets per example, not
// spans.
package eval

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/tarja/internal/classifier"
	tarjaotel "github.com/dativo-io/tarja/internal/otel"
)

var tracer = tarjaotel.Tracer("github.com/dativo-io/tarja/internal/eval")

// DetectFunc is the pipeline under evaluation.
type DetectFunc func(ctx context.Context, text string) ([]classifier.Finding, error)

// Counts are the confusion counts of a binary label vector.
type Counts struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Precision is TP/(TP+FP), 0 when undefined.
func (c Counts) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }

// Recall is TP/(TP+FN), 0 when undefined.
func (c Counts) Recall() float64 { return ratio(c.TP, c.TP+c.FN) }

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func (c Counts) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// ExampleResult is the outcome of one gold example. Passed means the found
// type set equals the expected one exactly.
type ExampleResult struct {
	Index    int                  `json:"index"`
	Passed   bool                 `json:"passed"`
	Expected []classifier.PIIType `json:"expected"`
	Found    []classifier.PIIType `json:"found"`
	Error    string               `json:"error,omitempty"`
}

// Result aggregates an evaluation run.
type Result struct {
	Totals     Counts                        `json:"totals"`
	Precision  float64                       `json:"precision"`
	Recall     float64                       `json:"recall"`
	F1         float64                       `json:"f1"`
	Passed     int                           `json:"passed"`
	PerExample []ExampleResult               `json:"per_example"`
	PerType    map[classifier.PIIType]Counts `json:"per_type"`
}

// Evaluate runs fn over every gold example. For each example the union of
// expected and found types contributes one entry per type to two parallel
// binary vectors, over which precision, recall and F1 are computed. A
// detection error fails that example (nothing found); only a cancelled
// context aborts the run.
func Evaluate(ctx context.Context, fn DetectFunc, gold []GoldExample) (*Result, error) {
	ctx, span := tracer.Start(ctx, "eval.evaluate")
	defer span.End()

	res := &Result{
		PerExample: make([]ExampleResult, 0, len(gold)),
		PerType:    make(map[classifier.PIIType]Counts),
	}

	for i, ex := range gold {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		expected := typeSet(ex.ExpectedTypes)
		er := ExampleResult{Index: i + 1}

		findings, err := fn(ctx, ex.Text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Int("example", i+1).Msg("evaluation_detect_failed")
			er.Error = err.Error()
			findings = nil
		}
		found := make(map[classifier.PIIType]bool)
		for _, f := range findings {
			found[f.Type] = true
		}

		for t := range union(expected, found) {
			c := res.PerType[t]
			switch {
			case expected[t] && found[t]:
				c.TP++
				res.Totals.TP++
			case found[t]:
				c.FP++
				res.Totals.FP++
			default:
				c.FN++
				res.Totals.FN++
			}
			res.PerType[t] = c
		}

		er.Expected = sortedTypes(expected)
		er.Found = sortedTypes(found)
		er.Passed = er.Error == "" && equalSets(expected, found)
		if er.Passed {
			res.Passed++
		}
		res.PerExample = append(res.PerExample, er)
	}

	res.Precision = res.Totals.Precision()
	res.Recall = res.Totals.Recall()
	res.F1 = res.Totals.F1()
	return res, nil
}

func typeSet(types []classifier.PIIType) map[classifier.PIIType]bool {
	out := make(map[classifier.PIIType]bool, len(types))
	for _, t := range types {
		out[t] = true
	}
	return out
}

func union(a, b map[classifier.PIIType]bool) map[classifier.PIIType]bool {
	out := make(map[classifier.PIIType]bool, len(a)+len(b))
	for t := range a {
		out[t] = true
	}
	for t := range b {
		out[t] = true
	}
	return out
}

func equalSets(a, b map[classifier.PIIType]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for t := range a {
		if !b[t] {
			return false
		}
	}
	return true
}

func sortedTypes(set map[classifier.PIIType]bool) []classifier.PIIType {
	out := make([]classifier.PIIType, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
