package ner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newChatServer serves the OpenAI models and chat completions endpoints.
// Only model "ner-test" exists; every completion replies with content.
func newChatServer(t *testing.T, content string) (*httptest.Server, *[]openai.ChatCompletionRequest) {
	t.Helper()
	var requests []openai.ChatCompletionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.PathValue("id") != "ner-test" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.Model{ID: "ner-test", Object: "model"})
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		requests = append(requests, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestOpenAIProvider_Load(t *testing.T) {
	srv, _ := newChatServer(t, `{"entities":[]}`)
	p := NewOpenAIProvider("sk-test", srv.URL)

	rec, err := p.Load(context.Background(), "ner-test")
	require.NoError(t, err)
	assert.NotNil(t, rec)

	_, err = p.Load(context.Background(), "gpt-missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelNotFound))
}

func TestOpenAIProvider_LoadUnreachable(t *testing.T) {
	srv, _ := newChatServer(t, "")
	srv.Close()

	_, err := NewOpenAIProvider("sk-test", srv.URL).Load(context.Background(), "ner-test")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrModelNotFound))
}

func TestOpenAIRecognizer_LocatesReportedText(t *testing.T) {
	reply := "```json\n" + `{"entities":[
		{"label":"PER","text":"Maria Souza"},
		{"label":"LOC","text":"Taguatinga"},
		{"label":"PER","text":"Maria Souza"},
		{"label":"LOC","text":"Ceilândia"},
		{"label":"PER","text":"  "}
	]}` + "\n```"
	srv, requests := newChatServer(t, reply)

	rec, err := NewOpenAIProvider("sk-test", srv.URL).Load(context.Background(), "ner-test")
	require.NoError(t, err)

	text := "Maria Souza mora em Taguatinga. Assinado: Maria Souza."
	entities, err := rec.Recognize(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, entities, 3)
	for _, e := range entities {
		assert.Equal(t, e.Text, text[e.Start:e.End])
	}
	assert.Equal(t, Entity{Label: "PER", Text: "Maria Souza", Start: 0, End: 11}, entities[0])
	assert.Equal(t, "LOC", entities[1].Label)
	assert.Equal(t, 42, entities[2].Start)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "ner-test", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, text, req.Messages[1].Content)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
}

func TestOpenAIRecognizer_InvalidReply(t *testing.T) {
	srv, _ := newChatServer(t, "Maria Souza is a person")

	rec, err := NewOpenAIProvider("sk-test", srv.URL).Load(context.Background(), "ner-test")
	require.NoError(t, err)

	_, err = rec.Recognize(context.Background(), "Maria Souza")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode model reply")
}

func TestOpenAIProvider_InLoadChain(t *testing.T) {
	srv, _ := newChatServer(t, `{"entities":[{"label":"LOC","text":"Brasília"}]}`)

	loaded, err := LoadChain(context.Background(), NewOpenAIProvider("sk-test", srv.URL), "gpt-missing", "ner-test")
	require.NoError(t, err)
	assert.Equal(t, "ner-test", loaded.Model)
	assert.True(t, loaded.Fallback)

	entities, err := loaded.Recognize(context.Background(), "Moro em Brasília.")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Brasília", entities[0].Text)
}
