// Package patterns provides embedded default recognizer definitions.
// YAML files in this directory use the Presidio-compatible recognizer format
// with Tarja extensions (group, validator, filters, countries).
package patterns

import _ "embed"

//go:embed pii_br.yaml
var piiBRYAML []byte

//go:embed stoplist_br.yaml
var stoplistBRYAML []byte

// PIIBRYAML returns the embedded default PII recognizer definitions.
func PIIBRYAML() []byte { return piiBRYAML }

// StoplistBRYAML returns the embedded administrative boilerplate stoplist
// applied to statistical entities.
func StoplistBRYAML() []byte { return stoplistBRYAML }
