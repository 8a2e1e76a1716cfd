package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"unicode/utf8"

	"github.com/dativo-io/tarja/internal/ner"
)

type sidecarEntity struct {
	Label string `json:"label"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// NewNERSidecar starts an httptest.Server speaking the NER sidecar protocol.
// Only the listed models load; entities come from a static recognizer over
// lexicon and are reported with code-point offsets, as the real sidecar does.
// Caller must call server.Close() or register t.Cleanup(server.Close).
func NewNERSidecar(models []string, lexicon map[string][]string) *httptest.Server {
	rec := ner.NewStaticRecognizer(lexicon)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(models, r.PathValue("id")) {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /models/{id}/entities", func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(models, r.PathValue("id")) {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		found, err := rec.Recognize(r.Context(), req.Text)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]sidecarEntity, 0, len(found))
		for _, e := range found {
			start := utf8.RuneCountInString(req.Text[:e.Start])
			out = append(out, sidecarEntity{
				Label: e.Label,
				Text:  e.Text,
				Start: start,
				End:   start + utf8.RuneCountInString(e.Text),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"entities": out})
	})
	return httptest.NewServer(mux)
}
