package testutil

import (
	"testing"

	"github.com/dativo-io/tarja/internal/classifier"
	"github.com/dativo-io/tarja/internal/ner"
	"github.com/dativo-io/tarja/internal/pipeline"
)

// NewTestPipeline builds a pipeline with the default recognizers and a static
// recognizer over TestLexicon.
func NewTestPipeline(t *testing.T, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	layer := &ner.Layer{
		Recognizer: ner.NewStaticRecognizer(TestLexicon),
		Name:       "static",
		Stoplist:   ner.DefaultStoplist(),
	}
	p, err := pipeline.New(classifier.MustNewScanner(), layer, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}
