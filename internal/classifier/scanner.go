package classifier

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	tarjaotel "github.com/dativo-io/tarja/internal/otel"
)

var tracer = tarjaotel.Tracer("github.com/dativo-io/tarja/internal/classifier")

// Scanner runs the compiled recognizer registry over text.
type Scanner struct {
	patterns []PIIPattern
	risk     RiskTable
	now      func() time.Time
}

// ScannerOption configures a Scanner via the functional options pattern.
type ScannerOption func(*scannerConfig)

type scannerConfig struct {
	patternFile       string
	enabledEntities   []string
	disabledEntities  []string
	customRecognizers []RecognizerConfig
	risk              RiskTable
	now               func() time.Time
}

// WithPatternFile loads additional recognizers from a global pattern file.
// If the file does not exist, it is silently skipped.
func WithPatternFile(path string) ScannerOption {
	return func(c *scannerConfig) { c.patternFile = path }
}

// WithEnabledEntities sets a whitelist of entity types. When non-empty, only
// recognizers with a matching supported_entity will be active.
func WithEnabledEntities(entities []string) ScannerOption {
	return func(c *scannerConfig) { c.enabledEntities = entities }
}

// WithDisabledEntities sets a blacklist of entity types to exclude.
func WithDisabledEntities(entities []string) ScannerOption {
	return func(c *scannerConfig) { c.disabledEntities = entities }
}

// WithCustomRecognizers adds caller-supplied recognizer definitions on top of
// the defaults and the pattern file.
func WithCustomRecognizers(recognizers []RecognizerConfig) ScannerOption {
	return func(c *scannerConfig) { c.customRecognizers = recognizers }
}

// WithRiskTable replaces the default risk table used to stamp findings.
func WithRiskTable(rt RiskTable) ScannerOption {
	return func(c *scannerConfig) { c.risk = rt }
}

// WithClock sets the function used to timestamp findings.
func WithClock(now func() time.Time) ScannerOption {
	return func(c *scannerConfig) { c.now = now }
}

// NewScanner creates a PII scanner. Without options it uses the embedded
// Brazilian defaults. Options layer a global pattern file and caller
// recognizers on top.
func NewScanner(opts ...ScannerOption) (*Scanner, error) {
	var cfg scannerConfig
	for _, o := range opts {
		o(&cfg)
	}

	// Layer 1: embedded defaults
	defaults, err := DefaultRecognizers()
	if err != nil {
		return nil, fmt.Errorf("loading default recognizers: %w", err)
	}

	// Layer 2: global pattern file (optional)
	var globalRecs []*RecognizerConfig
	if cfg.patternFile != "" {
		rf, err := LoadRecognizerFile(cfg.patternFile)
		if err != nil {
			return nil, fmt.Errorf("loading global pattern file: %w", err)
		}
		if rf != nil {
			globalRecs = toPtrSlice(rf.Recognizers)
		}
	}

	// Layer 3: caller recognizers
	var customRecs []*RecognizerConfig
	if len(cfg.customRecognizers) > 0 {
		customRecs = toPtrSlice(cfg.customRecognizers)
	}

	merged := MergeRecognizers(toPtrSlice(defaults), globalRecs, customRecs)
	merged = FilterByEntities(merged, cfg.enabledEntities, cfg.disabledEntities)

	compiled, err := CompilePIIPatterns(merged)
	if err != nil {
		return nil, fmt.Errorf("compiling patterns: %w", err)
	}

	risk := cfg.risk
	if risk == nil {
		risk = DefaultRiskTable()
	}
	now := cfg.now
	if now == nil {
		now = time.Now
	}

	return &Scanner{patterns: compiled, risk: risk, now: now}, nil
}

// MustNewScanner is like NewScanner but panics on error. Useful for zero-config
// startup where the embedded defaults are expected to always compile.
func MustNewScanner(opts ...ScannerOption) *Scanner {
	s, err := NewScanner(opts...)
	if err != nil {
		panic(fmt.Sprintf("classifier.NewScanner: %v", err))
	}
	return s
}

// Patterns returns the active compiled patterns in registry order.
func (s *Scanner) Patterns() []PIIPattern {
	out := make([]PIIPattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Detect runs every active recognizer over text and returns the candidate
// findings sorted by start offset. Candidates may overlap; reconciling them
// is the caller's job. Each match is trimmed of surrounding whitespace, then
// passed through the recognizer's validator and noise filters.
func (s *Scanner) Detect(ctx context.Context, text string) []Finding {
	_, span := tracer.Start(ctx, "classifier.detect")
	defer span.End()

	ts := s.now()
	findings := []Finding{}

	for _, p := range s.patterns {
		for _, loc := range p.matchSpans(text) {
			start, end := trimSpan(text, loc[0], loc[1])
			if start >= end {
				continue
			}
			value := text[start:end]

			if p.Validate != nil && !p.Validate(stripNonDigits(value)) {
				continue
			}
			if rejected(p.Filters, value) {
				continue
			}

			findings = append(findings, Finding{
				Type:       p.Type,
				Value:      value,
				Start:      start,
				End:        end,
				Risk:       s.risk.Level(p.Type),
				Source:     SourceRule,
				Recognizer: p.Name,
				Timestamp:  ts,
			})
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Start != findings[j].Start {
			return findings[i].Start < findings[j].Start
		}
		return findings[i].End > findings[j].End
	})

	span.SetAttributes(
		attribute.Int("pii.pattern_count", len(s.patterns)),
		attribute.Int("pii.candidate_count", len(findings)),
	)

	return findings
}

// matchSpans returns the byte spans of the selected capture group for every
// match in text. Whole-match patterns use the standard non-overlapping
// iteration. Group patterns resume searching at the end of the captured
// group so that a trailing guard character can serve as the leading guard
// of the next match ("111.444.777-35 529.982.247-25").
func (p PIIPattern) matchSpans(text string) [][2]int {
	var spans [][2]int
	if p.Group == 0 {
		for _, m := range p.Pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, [2]int{m[0], m[1]})
		}
		return spans
	}

	pos := 0
	for pos <= len(text) {
		loc := p.Pattern.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		next := pos + loc[1]
		gs, ge := loc[2*p.Group], loc[2*p.Group+1]
		if gs >= 0 {
			spans = append(spans, [2]int{pos + gs, pos + ge})
			next = pos + ge
		}
		if next <= pos {
			_, size := utf8.DecodeRuneInString(text[pos:])
			if size == 0 {
				break
			}
			next = pos + size
		}
		pos = next
	}
	return spans
}

func trimSpan(text string, start, end int) (int, int) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}

func rejected(filters []NoiseFilter, value string) bool {
	for _, f := range filters {
		if f(value) {
			return true
		}
	}
	return false
}
