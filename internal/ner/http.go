package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 32 << 20
)

// HTTPProvider loads models served by an NER sidecar (a small spaCy service):
//
//	GET  {base}/models/{id}           200 when loaded, 404 when unknown
//	POST {base}/models/{id}/entities  {"text": ...} -> {"entities": [...]}
//
// Entity offsets on the wire are code-point offsets.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// NewHTTPProvider creates a provider for the sidecar at baseURL
// (e.g. "http://localhost:8010").
func NewHTTPProvider(baseURL string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *HTTPProvider) modelURL(modelID string, suffix string) string {
	return p.baseURL + "/models/" + url.PathEscape(modelID) + suffix
}

// Load checks that the sidecar serves modelID.
func (p *HTTPProvider) Load(ctx context.Context, modelID string) (Recognizer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.modelURL(modelID, ""), nil)
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK:
		return &httpRecognizer{provider: p, model: modelID}, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	default:
		return nil, fmt.Errorf("ner: loading %s: unexpected status %d", modelID, resp.StatusCode)
	}
}

type entitiesRequest struct {
	Text string `json:"text"`
}

type entitiesResponse struct {
	Entities []Entity `json:"entities"`
}

// httpRecognizer is safe for concurrent use; it only shares the http.Client.
type httpRecognizer struct {
	provider *HTTPProvider
	model    string
}

// Recognize posts text to the sidecar and converts code-point offsets to byte
// offsets. Entities whose offsets fall outside text, or whose text does not
// match the document at those offsets, are dropped.
func (r *httpRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	ctx, span := tracer.Start(ctx, "ner.recognize")
	defer span.End()
	span.SetAttributes(attribute.String("ner.model", r.model))

	body, err := json.Marshal(entitiesRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.provider.modelURL(r.model, "/entities"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.provider.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner: recognize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner: recognize: unexpected status %d", resp.StatusCode)
	}

	var out entitiesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("ner: decode: %w", err)
	}

	entities := alignEntities(text, out.Entities)
	span.SetAttributes(attribute.Int("ner.entity_count", len(entities)))
	return entities, nil
}

// alignEntities converts code-point offsets to byte offsets and drops
// entities that do not line up with text.
func alignEntities(text string, raw []Entity) []Entity {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))
	runes := len(offsets) - 1

	entities := make([]Entity, 0, len(raw))
	for _, e := range raw {
		if e.Start < 0 || e.End > runes || e.Start >= e.End {
			log.Debug().Int("start", e.Start).Int("end", e.End).Str("label", e.Label).Msg("ner_entity_out_of_range")
			continue
		}
		start, end := offsets[e.Start], offsets[e.End]
		if text[start:end] != e.Text {
			log.Debug().Int("start", e.Start).Int("end", e.End).Str("label", e.Label).Msg("ner_entity_misaligned")
			continue
		}
		entities = append(entities, Entity{Label: e.Label, Text: e.Text, Start: start, End: end})
	}
	return entities
}
