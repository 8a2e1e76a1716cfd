package ner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadChain_PrimaryLoads(t *testing.T) {
	primary := NewStaticRecognizer(map[string][]string{"PER": {"Maria Souza"}})
	p := StaticProvider{DefaultPrimaryModel: primary}

	loaded, err := LoadChain(context.Background(), p, DefaultPrimaryModel, DefaultFallbackModel)
	require.NoError(t, err)
	assert.Equal(t, DefaultPrimaryModel, loaded.Model)
	assert.False(t, loaded.Fallback)
	assert.Same(t, primary, loaded.Recognizer)
}

func TestLoadChain_FallsBack(t *testing.T) {
	fallback := NewStaticRecognizer(nil)
	p := StaticProvider{DefaultFallbackModel: fallback}

	loaded, err := LoadChain(context.Background(), p, DefaultPrimaryModel, DefaultFallbackModel)
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackModel, loaded.Model)
	assert.True(t, loaded.Fallback)
}

func TestLoadChain_AllFail(t *testing.T) {
	_, err := LoadChain(context.Background(), StaticProvider{}, DefaultPrimaryModel, DefaultFallbackModel)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrNoRecognizer))
	assert.True(t, errors.Is(err, ErrModelNotFound))

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, []string{DefaultPrimaryModel, DefaultFallbackModel}, loadErr.Models)
	assert.Contains(t, err.Error(), DefaultPrimaryModel)
	assert.Contains(t, err.Error(), DefaultFallbackModel)
}

func TestLoadChain_SkipsEmptyIDs(t *testing.T) {
	p := StaticProvider{"only": NewStaticRecognizer(nil)}
	loaded, err := LoadChain(context.Background(), p, "", "only")
	require.NoError(t, err)
	assert.Equal(t, "only", loaded.Model)

	_, err = LoadChain(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no models configured")
}

type failingProvider struct{ err error }

func (f failingProvider) Load(context.Context, string) (Recognizer, error) { return nil, f.err }

func TestLoadChain_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LoadChain(ctx, failingProvider{err: context.Canceled}, "a", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoRecognizer)
}

func TestMapLabel(t *testing.T) {
	tests := []struct {
		label string
		want  string
		ok    bool
	}{
		{"PER", "PERSON_NAME", true},
		{"person", "PERSON_NAME", true},
		{"LOC", "LOCATION", true},
		{"GPE", "LOCATION", true},
		{"ORG", "", false},
		{"MISC", "", false},
	}
	for _, tt := range tests {
		got, ok := MapLabel(tt.label)
		assert.Equal(t, tt.ok, ok, tt.label)
		assert.Equal(t, tt.want, string(got), tt.label)
	}
}
