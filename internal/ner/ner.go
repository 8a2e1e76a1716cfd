// Package ner adapts an external statistical named-entity recognizer to the
// PII pipeline: model loading with a primary-to-fallback chain, label mapping
// and the administrative stoplist applied to its output.
package ner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	tarjaotel "github.com/dativo-io/tarja/internal/otel"
)

var tracer = tarjaotel.Tracer("github.com/dativo-io/tarja/internal/ner")

// Default model identifiers for Portuguese administrative text.
const (
	DefaultPrimaryModel  = "pt_core_news_sm"
	DefaultFallbackModel = "en_core_web_sm"
)

var (
	// ErrModelNotFound is returned by a Provider when the requested model is
	// not available.
	ErrModelNotFound = errors.New("ner model not found")
	// ErrNoRecognizer is wrapped by LoadError when no model in the chain loads.
	ErrNoRecognizer = errors.New("no ner model could be loaded")
)

// Entity is a raw entity emitted by a recognizer. Start and End are byte
// offsets into the recognized text.
type Entity struct {
	Label string `json:"label"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Recognizer extracts entities from text. Implementations must be safe for
// concurrent use; a loaded model is shared read-only by every worker.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Entity, error)
}

// Provider loads a recognizer by model identifier. A missing model yields an
// error wrapping ErrModelNotFound.
type Provider interface {
	Load(ctx context.Context, modelID string) (Recognizer, error)
}

// LoadError reports every model tried by LoadChain and why each failed.
type LoadError struct {
	Models []string
	Errs   []error
}

func (e *LoadError) Error() string {
	if len(e.Models) == 0 {
		return fmt.Sprintf("%v (no models configured)", ErrNoRecognizer)
	}
	parts := make([]string, len(e.Models))
	for i, m := range e.Models {
		parts[i] = fmt.Sprintf("%s: %v", m, e.Errs[i])
	}
	return fmt.Sprintf("%v (%s)", ErrNoRecognizer, strings.Join(parts, "; "))
}

// Unwrap exposes ErrNoRecognizer and the per-model causes to errors.Is/As.
func (e *LoadError) Unwrap() []error {
	return append([]error{ErrNoRecognizer}, e.Errs...)
}

// Loaded is a recognizer together with the model that produced it.
type Loaded struct {
	Recognizer
	Model    string
	Fallback bool
}

// LoadChain tries each model in order and returns the first that loads.
// Failures are logged and the next model is attempted; when every model
// fails the result is a *LoadError. Call it once at startup and pass the
// recognizer to the pipeline explicitly.
func LoadChain(ctx context.Context, p Provider, models ...string) (*Loaded, error) {
	ctx, span := tracer.Start(ctx, "ner.load_chain")
	defer span.End()

	loadErr := &LoadError{}
	for i, id := range models {
		if id == "" {
			continue
		}
		rec, err := p.Load(ctx, id)
		if err == nil {
			if i > 0 {
				log.Warn().Str("model", id).Strs("skipped", loadErr.Models).Msg("ner_fallback_model_loaded")
			} else {
				log.Debug().Str("model", id).Msg("ner_model_loaded")
			}
			return &Loaded{Recognizer: rec, Model: id, Fallback: i > 0}, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("loading ner model %s: %w", id, ctx.Err())
		}
		log.Warn().Err(err).Str("model", id).Msg("ner_model_unavailable")
		loadErr.Models = append(loadErr.Models, id)
		loadErr.Errs = append(loadErr.Errs, err)
	}
	span.RecordError(loadErr)
	return nil, loadErr
}
