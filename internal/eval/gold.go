package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/dativo-io/tarja/internal/classifier"
)

// goldSchema accepts the current {text, labels} form and the older
// {texto, labels} form.
const goldSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "text":   {"type": "string"},
      "texto":  {"type": "string"},
      "labels": {"type": "array", "items": {"type": "string"}}
    },
    "required": ["labels"],
    "anyOf": [
      {"required": ["text"]},
      {"required": ["texto"]}
    ]
  }
}`

// GoldExample is one hand-labelled input: the text and the set of PII types
// a correct pipeline finds in it.
type GoldExample struct {
	Text          string               `json:"text"`
	ExpectedTypes []classifier.PIIType `json:"labels"`
}

type goldEntry struct {
	Text   string   `json:"text"`
	Texto  string   `json:"texto"`
	Labels []string `json:"labels"`
}

// LoadGold reads a gold-standard JSON file. A missing, unreadable or invalid
// file yields an empty gold set and a warning; evaluation then reports no
// examples instead of failing.
func LoadGold(path string) []GoldExample {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("gold_file_unavailable")
		return []GoldExample{}
	}
	gold, err := ParseGold(data)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("gold_file_invalid")
		return []GoldExample{}
	}
	return gold
}

// ParseGold validates and decodes gold-standard JSON. Unknown labels are
// skipped with a warning; legacy labels (CPF, RG, ...) are mapped to the
// current taxonomy.
func ParseGold(data []byte) ([]GoldExample, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(goldSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("gold schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msg strings.Builder
		for _, verr := range result.Errors() {
			fmt.Fprintf(&msg, "- %s\n", verr)
		}
		return nil, fmt.Errorf("gold schema validation errors:\n%s", msg.String())
	}

	var entries []goldEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding gold file: %w", err)
	}

	gold := make([]GoldExample, 0, len(entries))
	for i, e := range entries {
		text := e.Text
		if text == "" {
			text = e.Texto
		}
		ex := GoldExample{Text: text, ExpectedTypes: []classifier.PIIType{}}
		for _, label := range e.Labels {
			t, err := classifier.ParsePIIType(label)
			if err != nil {
				log.Warn().Int("example", i+1).Str("label", label).Msg("gold_label_unknown")
				continue
			}
			ex.ExpectedTypes = append(ex.ExpectedTypes, t)
		}
		gold = append(gold, ex)
	}
	return gold, nil
}
