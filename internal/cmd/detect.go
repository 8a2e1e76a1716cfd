package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dativo-io/tarja/internal/config"
	"github.com/dativo-io/tarja/internal/document"
	"github.com/dativo-io/tarja/internal/ner"
	"github.com/dativo-io/tarja/internal/pipeline"
)

var (
	nerMode     string
	lexiconPath string
)

// addDetectionFlags registers the statistical-layer flags shared by every
// command that runs the pipeline.
func addDetectionFlags(c *cobra.Command) {
	c.Flags().StringVar(&nerMode, "ner", "http", "statistical layer: http (sidecar at ner_url), openai (chat model at openai_base_url) or static (in-process lexicon)")
	c.Flags().StringVar(&lexiconPath, "lexicon", "", "YAML lexicon {LABEL: [phrase, ...]} for --ner=static")
}

// nerProvider returns the provider selected by --ner. A nil provider means
// the HTTP sidecar configured by ner_url. With --ner=openai the model chain
// in cfg is replaced by openai_model.
func nerProvider(cfg *config.Config) (ner.Provider, error) {
	if nerMode != "static" && lexiconPath != "" {
		return nil, fmt.Errorf("--lexicon requires --ner=static")
	}
	switch nerMode {
	case "", "http":
		return nil, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("--ner=openai needs TARJA_OPENAI_API_KEY or openai_base_url")
		}
		if cfg.OpenAIModel == "" {
			return nil, fmt.Errorf("--ner=openai needs openai_model")
		}
		cfg.NERPrimaryModel, cfg.NERFallbackModel = cfg.OpenAIModel, ""
		return ner.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), nil
	case "static":
		var rec ner.Recognizer = ner.NewStaticRecognizer(nil)
		if lexiconPath != "" {
			loaded, err := ner.LoadLexicon(lexiconPath)
			if err != nil {
				return nil, err
			}
			rec = loaded
		}
		provider := ner.StaticProvider{}
		for _, m := range cfg.NERModels() {
			if m != "" {
				provider[m] = rec
			}
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown --ner mode %q (use http, openai or static)", nerMode)
	}
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, error) {
	provider, err := nerProvider(cfg)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.FromConfig(ctx, cfg, provider)
	if err != nil {
		return nil, fmt.Errorf("building pipeline: %w", err)
	}
	return p, nil
}

// readDocuments loads the documents named by arg. "-" reads one plain-text
// document from in.
func readDocuments(ctx context.Context, cfg *config.Config, arg string, in io.Reader) ([]pipeline.Document, error) {
	loader := document.NewLoader(cfg.MaxDocumentMB)
	if arg == "-" {
		content, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return loader.LoadBytes(ctx, "stdin.txt", "stdin", content)
	}
	if _, err := os.Stat(arg); err != nil {
		return nil, err
	}
	return loader.Load(ctx, arg, filepath.Base(arg))
}
