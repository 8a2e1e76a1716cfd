package pipeline

import (
	"context"
	"fmt"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/ner"
)

// ScannerFromConfig builds the rule layer: embedded recognizers, the
// configured pattern file and the entity allow/deny lists.
func ScannerFromConfig(cfg *config.Config) (*classifier.Scanner, error) {
	rt, err := cfg.RiskTable()
	if err != nil {
		return nil, err
	}
	opts := []classifier.ScannerOption{
		classifier.WithRiskTable(rt),
		classifier.WithEnabledEntities(cfg.EnabledEntities),
		classifier.WithDisabledEntities(cfg.DisabledEntities),
	}
	if cfg.PatternFile != "" {
		opts = append(opts, classifier.WithPatternFile(cfg.PatternFile))
	}
	return classifier.NewScanner(opts...)
}

// StoplistFromConfig returns the default stoplist, extended with or replaced
// by the configured stoplist file.
func StoplistFromConfig(cfg *config.Config) (*ner.Stoplist, error) {
	if cfg.StoplistFile == "" {
		return ner.DefaultStoplist(), nil
	}
	custom, err := ner.LoadStoplist(cfg.StoplistFile)
	if err != nil {
		return nil, err
	}
	if cfg.StoplistReplace {
		return custom, nil
	}
	return ner.DefaultStoplist().Merge(custom), nil
}

// FromConfig assembles a pipeline from operator configuration. The
// statistical model is loaded through provider following the configured
// primary-to-fallback chain; a nil provider means the HTTP sidecar at
// cfg.NERURL.
func FromConfig(ctx context.Context, cfg *config.Config, provider ner.Provider, opts ...Option) (*Pipeline, error) {
	scanner, err := ScannerFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building rule layer: %w", err)
	}
	stop, err := StoplistFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading stoplist: %w", err)
	}
	rt, err := cfg.RiskTable()
	if err != nil {
		return nil, err
	}

	if provider == nil {
		provider = ner.NewHTTPProvider(cfg.NERURL, ner.WithTimeout(cfg.NERTimeout))
	}
	loaded, err := ner.LoadChain(ctx, provider, cfg.NERModels()...)
	if err != nil {
		return nil, err
	}

	layer := &ner.Layer{
		Recognizer: loaded,
		Name:       loaded.Model,
		Stoplist:   stop,
		Risk:       rt,
	}
	opts = append([]Option{WithWorkers(cfg.Workers), WithRiskTable(rt)}, opts...)
	return New(scanner, layer, opts...)
}
