// Package pipeline wires the detection layers, the span resolver and the
// redactor into the per-document and batch operations.
//
// A document flows through: rule layer (classifier.Scanner) and statistical
// layer (ner.Layer) → redact.Resolve → redact.Apply → settle. The settle step
// re-scans the redacted text with the rule layer and folds any match found in
// a verbatim segment back into the findings, so that redacting the output
// again is a no-op.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/evidence"
	"github.com/dativo-io/tarja/internal/ner"
	tarjaotel "github.com/dativo-io/tarja/internal/otel"
	"github.com/dativo-io/tarja/internal/redact"
	"github.com/dativo-io/tarja/internal/requestctx"
)

var tracer = tarjaotel.Tracer("github.com/dativo-io/tarja/internal/pipeline")

// maxSettlePasses bounds the re-scan loop. Every pass that changes anything
// adds at least one finding inside a shrinking verbatim region.
const maxSettlePasses = 4

// DefaultWorkers is the batch worker pool size when none is configured.
const DefaultWorkers = 4

// ErrNoRecognizer is returned by New when no statistical layer is given.
var ErrNoRecognizer = errors.New("pipeline: statistical layer requires a loaded recognizer")

// Document is one unit of input.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Pipeline runs detection and redaction. It is safe for concurrent use as
// long as the scanner and recognizer are.
type Pipeline struct {
	scanner     *classifier.Scanner
	layer       *ner.Layer
	placeholder redact.Placeholder
	risk        classifier.RiskTable
	now         func() time.Time
	workers     int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPlaceholder sets the redaction marker renderer.
func WithPlaceholder(ph redact.Placeholder) Option {
	return func(p *Pipeline) { p.placeholder = ph }
}

// WithClock sets the function used for finding and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithWorkers sets the batch worker pool size. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithRiskTable re-stamps every finding with levels from rt before
// resolution, overriding the tables of the individual layers.
func WithRiskTable(rt classifier.RiskTable) Option {
	return func(p *Pipeline) { p.risk = rt }
}

// New builds a pipeline from a rule scanner and a statistical layer. The
// layer's recognizer must already be loaded (see ner.LoadChain).
func New(scanner *classifier.Scanner, layer *ner.Layer, opts ...Option) (*Pipeline, error) {
	if scanner == nil {
		return nil, errors.New("pipeline: scanner is required")
	}
	if layer == nil || layer.Recognizer == nil {
		return nil, ErrNoRecognizer
	}
	p := &Pipeline{
		scanner:     scanner,
		layer:       layer,
		placeholder: redact.DefaultPlaceholder,
		now:         time.Now,
		workers:     DefaultWorkers,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Model returns the name of the statistical model in use.
func (p *Pipeline) Model() string {
	return p.layer.Name
}

// Scan returns the resolved findings for text without redacting it.
func (p *Pipeline) Scan(ctx context.Context, text string) ([]classifier.Finding, error) {
	findings, _, err := p.run(ctx, text)
	return findings, err
}

// Process detects, resolves and redacts one document.
func (p *Pipeline) Process(ctx context.Context, doc Document) (*redact.Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(tarjaotel.DocumentAttributes(doc.ID, p.layer.Name)...))
	defer span.End()

	findings, redacted, err := p.run(ctx, doc.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	var highest classifier.RiskLevel
	for _, f := range findings {
		if f.Risk > highest {
			highest = f.Risk
		}
	}
	risk := ""
	if len(findings) > 0 {
		risk = highest.String()
	}
	span.SetAttributes(tarjaotel.FindingAttributes(len(findings), risk)...)
	return &redact.Result{DocumentID: doc.ID, RedactedText: redacted, Findings: findings}, nil
}

// Audited processes doc and wraps the outcome into an audit record. A
// detection failure is recorded on the record and returned as err; the
// record is always usable.
func (p *Pipeline) Audited(ctx context.Context, doc Document) (*redact.Result, evidence.Record, error) {
	start := time.Now()
	res, err := p.Process(ctx, doc)

	params := evidence.RecordParams{
		DocumentID: doc.ID,
		Caller:     requestctx.Caller(ctx),
		NERModel:   p.layer.Name,
		InputText:  doc.Text,
		Duration:   time.Since(start),
		Error:      err,
		Timestamp:  p.now(),
	}
	if res != nil {
		params.Findings = res.Findings
		params.RedactedText = res.RedactedText
	}
	rec := evidence.NewRecord(params)
	recordDocument(ctx, rec)
	return res, rec, err
}

func (p *Pipeline) run(ctx context.Context, text string) ([]classifier.Finding, string, error) {
	ts := p.now()

	candidates := p.scanner.Detect(ctx, text)
	statistical, err := p.layer.Detect(ctx, text, ts)
	if err != nil {
		log.Warn().
			Err(err).
			Str("model", p.layer.Name).
			Func(tarjaotel.LogTraceFields(ctx)).
			Msg("ner_detect_failed")
		return nil, "", fmt.Errorf("statistical layer: %w", err)
	}
	candidates = append(candidates, statistical...)
	p.stamp(candidates, ts)

	findings := redact.Resolve(candidates)
	redacted, err := redact.Apply(text, findings, p.placeholder)
	if err != nil {
		return nil, "", fmt.Errorf("applying redaction: %w", err)
	}
	return p.settle(ctx, text, findings, redacted, ts)
}

// settle re-runs the rule layer over the redacted text until it finds
// nothing new in the verbatim segments.
func (p *Pipeline) settle(ctx context.Context, text string, findings []classifier.Finding, redacted string, ts time.Time) ([]classifier.Finding, string, error) {
	for pass := 0; pass < maxSettlePasses; pass++ {
		extra := mapToOriginal(text, redacted, findings, p.scanner.Detect(ctx, redacted), p.placeholder)
		if len(extra) == 0 {
			return findings, redacted, nil
		}
		p.stamp(extra, ts)
		findings = redact.Resolve(append(findings, extra...))

		var err error
		redacted, err = redact.Apply(text, findings, p.placeholder)
		if err != nil {
			return nil, "", fmt.Errorf("applying redaction: %w", err)
		}
	}
	log.Debug().Int("passes", maxSettlePasses).Msg("redaction_settle_limit")
	return findings, redacted, nil
}

// stamp applies the pipeline clock and, when set, the risk table override.
func (p *Pipeline) stamp(findings []classifier.Finding, ts time.Time) {
	for i := range findings {
		findings[i].Timestamp = ts
		if p.risk != nil {
			findings[i].Risk = p.risk.Level(findings[i].Type)
		}
	}
}

// mapToOriginal translates findings over the redacted text back to offsets
// in the original text. Only findings lying entirely inside a verbatim
// segment (text between placeholders) can be mapped; the rest touch a
// placeholder and are dropped.
func mapToOriginal(text, redacted string, applied, found []classifier.Finding, ph redact.Placeholder) []classifier.Finding {
	if len(found) == 0 {
		return nil
	}

	type segment struct{ rStart, rEnd, oStart int }
	segs := make([]segment, 0, len(applied)+1)
	r, o := 0, 0
	for _, f := range applied {
		gap := f.Start - o
		segs = append(segs, segment{rStart: r, rEnd: r + gap, oStart: o})
		r += gap + len(ph(f.Type))
		o = f.End
	}
	segs = append(segs, segment{rStart: r, rEnd: len(redacted), oStart: o})

	var out []classifier.Finding
	for _, f := range found {
		for _, s := range segs {
			if f.Start < s.rStart || f.End > s.rEnd {
				continue
			}
			start := s.oStart + (f.Start - s.rStart)
			end := start + f.Len()
			if text[start:end] == f.Value {
				f.Start, f.End = start, end
				out = append(out, f)
			}
			break
		}
	}
	return out
}
