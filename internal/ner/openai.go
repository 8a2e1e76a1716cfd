package ner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultOpenAIModel is the chat model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

const entityPrompt = `You extract named entities from Brazilian Portuguese public-records text.
Return only JSON of the form {"entities":[{"label":"PER","text":"..."}]}.
Use label PER for names of people and LOC for places (cities, neighbourhoods,
administrative regions). Copy "text" exactly as it appears in the document.
Do not return organisations, dates or numbers. Return {"entities":[]} when
there are none.`

// OpenAIProvider loads chat models served by an OpenAI-compatible API and
// prompts them for person and place names. Models only return the entity
// text; offsets are found by locating that text in the document.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider for the OpenAI API. A non-empty
// baseURL (scheme and host, e.g. a local vLLM or Ollama server) replaces the
// public endpoint; the client appends /v1.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

// Load checks that the API serves modelID.
func (p *OpenAIProvider) Load(ctx context.Context, modelID string) (Recognizer, error) {
	if _, err := p.client.GetModel(ctx, modelID); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
		}
		return nil, fmt.Errorf("ner: openai model lookup: %w", err)
	}
	return &openAIRecognizer{client: p.client, model: modelID}, nil
}

func notFound(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusNotFound
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}

// openAIRecognizer shares the client, which is safe for concurrent use.
type openAIRecognizer struct {
	client *openai.Client
	model  string
}

type chatEntities struct {
	Entities []struct {
		Label string `json:"label"`
		Text  string `json:"text"`
	} `json:"entities"`
}

// Recognize asks the model for entities and returns every word-bounded
// occurrence of each reported text. Reported texts that do not occur in the
// document are dropped.
func (r *openAIRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	ctx, span := tracer.Start(ctx, "ner.recognize")
	defer span.End()
	span.SetAttributes(attribute.String("ner.model", r.model), attribute.String("ner.backend", "openai"))

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: entityPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "openai api call")
		return nil, fmt.Errorf("ner: openai api call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("ner: openai api call: no choices returned")
	}

	var out chatEntities
	if err := json.Unmarshal([]byte(stripFence(resp.Choices[0].Message.Content)), &out); err != nil {
		return nil, fmt.Errorf("ner: decode model reply: %w", err)
	}

	seen := make(map[Entity]bool)
	var entities []Entity
	for _, e := range out.Entities {
		phrase := strings.TrimSpace(e.Text)
		if phrase == "" {
			continue
		}
		for _, ent := range locate(text, e.Label, phrase) {
			if !seen[ent] {
				seen[ent] = true
				entities = append(entities, ent)
			}
		}
	}
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Start < entities[j].Start })
	span.SetAttributes(attribute.Int("ner.entity_count", len(entities)))
	return entities, nil
}

// locate returns the word-bounded occurrences of phrase in text.
func locate(text, label, phrase string) []Entity {
	var out []Entity
	from := 0
	for {
		idx := strings.Index(text[from:], phrase)
		if idx < 0 {
			return out
		}
		start := from + idx
		end := start + len(phrase)
		if wordBoundary(text, start, end) {
			out = append(out, Entity{Label: label, Text: phrase, Start: start, End: end})
		}
		from = end
	}
}

// stripFence removes a Markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
