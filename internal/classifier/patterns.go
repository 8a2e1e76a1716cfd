package classifier

import (
	"fmt"
	"regexp"

	"github.com/dativo-io/tarja/patterns"
)

// PIIPattern represents a compiled, ready-to-use PII detection pattern.
type PIIPattern struct {
	Name      string
	Type      PIIType
	Pattern   *regexp.Regexp
	Group     int
	Validate  Validator
	Filters   []NoiseFilter
	Countries []string
}

// DefaultRecognizers returns the built-in PII recognizers parsed from the
// embedded pii_br.yaml file. This is the first layer in the merge chain.
func DefaultRecognizers() ([]RecognizerConfig, error) {
	rf, err := ParseRecognizerFile(patterns.PIIBRYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded PII patterns: %w", err)
	}
	return rf.Recognizers, nil
}
