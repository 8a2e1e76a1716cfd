package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// recognizerSchema is the JSON Schema for recognizer pack files.
const recognizerSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Recognizer pack",
  "type": "object",
  "required": ["recognizers"],
  "properties": {
    "recognizers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "supported_entity"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "supported_entity": {"type": "string", "minLength": 1},
          "enabled": {"type": "boolean"},
          "validator": {"type": "string", "enum": ["mod11", "luhn"]},
          "countries": {"type": "array", "items": {"type": "string", "pattern": "^[A-Z]{2}$"}},
          "patterns": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "regex"],
              "properties": {
                "name": {"type": "string"},
                "regex": {"type": "string", "minLength": 1},
                "group": {"type": "integer", "minimum": 0},
                "score": {"type": "number", "minimum": 0, "maximum": 1}
              }
            }
          },
          "filters": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name"],
              "properties": {
                "name": {"type": "string", "enum": ["year_like", "unformatted", "min_prefix_length"]},
                "digits": {"type": "integer", "minimum": 1},
                "prefixes": {"type": "array", "items": {"type": "string"}},
                "markers": {"type": "array", "items": {"type": "string"}},
                "min": {"type": "integer", "minimum": 1}
              }
            }
          }
        }
      }
    }
  }
}`

// ValidateRecognizerSchema checks recognizer YAML against the pack schema.
// With strict set, the recognizers are also compiled so regex syntax, entity
// names and filter parameters are verified.
// The YAML is first converted to JSON because gojsonschema operates on JSON.
func ValidateRecognizerSchema(yamlBytes []byte, strict bool) error {
	var raw interface{}
	if err := yaml.Unmarshal(yamlBytes, &raw); err != nil {
		return fmt.Errorf("parsing YAML for schema validation: %w", err)
	}

	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("converting YAML to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(recognizerSchema),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msg strings.Builder
		for _, verr := range result.Errors() {
			fmt.Fprintf(&msg, "- %s\n", verr)
		}
		return fmt.Errorf("schema validation errors:\n%s", msg.String())
	}

	if strict {
		rf, err := ParseRecognizerFile(yamlBytes)
		if err != nil {
			return err
		}
		if _, err := CompilePIIPatterns(rf.Recognizers); err != nil {
			return fmt.Errorf("strict mode: %w", err)
		}
	}
	return nil
}
