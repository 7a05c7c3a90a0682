package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/phraseforge/llm"
	"github.com/c360studio/phraseforge/storage"
)

// scriptedCompleter decides per request whether to answer, based on the
// tier and prompt it receives.
type scriptedCompleter struct {
	respond func(req llm.Request) (*llm.Response, error)
	calls   int
}

func (s *scriptedCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	return s.respond(req)
}

func okResponse(sentences string) *llm.Response {
	return &llm.Response{
		Content: sentences,
		Usage:   llm.TokenUsage{TotalTokens: 10},
	}
}

var transientErr = llm.NewTransientError(errors.New("upstream hiccup"))

func defaultSettings() storage.ProcessingSettings {
	return storage.ProcessingSettings{ModelTier: "balanced", SentenceLength: 8}
}

func TestExtractTierZeroSuccess(t *testing.T) {
	client := &scriptedCompleter{respond: func(req llm.Request) (*llm.Response, error) {
		assert.Equal(t, "balanced", req.Tier)
		return okResponse(`["Le chat dort.", "Il mange bien."]`), nil
	}}
	engine := NewEngine(client, Config{}, nil)

	result, err := engine.Extract(context.Background(), "texte du chunk", defaultSettings())
	require.NoError(t, err)
	assert.Empty(t, result.FallbackMarker)
	assert.Len(t, result.Sentences, 2)
	assert.Equal(t, 10, result.TokenCount)
	assert.Equal(t, 1, client.calls)
}

func TestExtractModelFallback(t *testing.T) {
	client := &scriptedCompleter{respond: func(req llm.Request) (*llm.Response, error) {
		if req.Tier == "quality" {
			return okResponse(`["Le chat dort."]`), nil
		}
		return nil, transientErr
	}}
	engine := NewEngine(client, Config{}, nil)

	result, err := engine.Extract(context.Background(), "texte du chunk", defaultSettings())
	require.NoError(t, err)
	assert.Equal(t, MarkerModelFallback, result.FallbackMarker)
}

func TestExtractSubchunkFallback(t *testing.T) {
	fullText := "Première moitié du texte. Seconde moitié du texte."
	client := &scriptedCompleter{respond: func(req llm.Request) (*llm.Response, error) {
		// Full payload always fails; halves succeed.
		if req.Messages[1].Content == fullText {
			return nil, transientErr
		}
		return okResponse(`["Une phrase."]`), nil
	}}
	engine := NewEngine(client, Config{}, nil)

	result, err := engine.Extract(context.Background(), fullText, defaultSettings())
	require.NoError(t, err)
	assert.Equal(t, MarkerSubchunkFallback, result.FallbackMarker)
	// One sentence from each half, order preserved.
	assert.Len(t, result.Sentences, 2)
}

func TestExtractMinimalPromptFallback(t *testing.T) {
	client := &scriptedCompleter{respond: func(req llm.Request) (*llm.Response, error) {
		if req.Messages[0].Content == MinimalPrompt() {
			return okResponse(`["Le chat dort."]`), nil
		}
		return nil, transientErr
	}}
	engine := NewEngine(client, Config{}, nil)

	result, err := engine.Extract(context.Background(), "texte", defaultSettings())
	require.NoError(t, err)
	assert.Equal(t, MarkerMinimalPromptFallback, result.FallbackMarker)
}

func TestExtractLocalFallback(t *testing.T) {
	client := &scriptedCompleter{respond: func(_ llm.Request) (*llm.Response, error) {
		return nil, transientErr
	}}
	engine := NewEngine(client, Config{AllowLocalFallback: true}, nil)

	text := "Le chat dort sur le tapis. Il mange bien chaque matin."
	result, err := engine.Extract(context.Background(), text, defaultSettings())
	require.NoError(t, err)
	assert.Equal(t, MarkerLocalFallback, result.FallbackMarker)
	assert.Len(t, result.Sentences, 2)
}

func TestExtractLocalFallbackDisabled(t *testing.T) {
	client := &scriptedCompleter{respond: func(_ llm.Request) (*llm.Response, error) {
		return nil, transientErr
	}}
	engine := NewEngine(client, Config{AllowLocalFallback: false}, nil)

	_, err := engine.Extract(context.Background(), "texte du chunk", defaultSettings())
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

func TestExtractFatalAbortsCascade(t *testing.T) {
	client := &scriptedCompleter{respond: func(_ llm.Request) (*llm.Response, error) {
		return nil, llm.NewFatalError(errors.New("invalid api key"))
	}}
	engine := NewEngine(client, Config{AllowLocalFallback: true}, nil)

	_, err := engine.Extract(context.Background(), "texte", defaultSettings())
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	// Fatal on tier 0 must not try any other tier.
	assert.Equal(t, 1, client.calls)
}

func TestExtractEmptyText(t *testing.T) {
	engine := NewEngine(&scriptedCompleter{}, Config{}, nil)

	_, err := engine.Extract(context.Background(), "   \n ", defaultSettings())
	assert.ErrorIs(t, err, ErrNoText)
}

func TestExtractPreservesInChunkDuplicates(t *testing.T) {
	client := &scriptedCompleter{respond: func(_ llm.Request) (*llm.Response, error) {
		return okResponse(`["C.", "C.", "D."]`), nil
	}}
	engine := NewEngine(client, Config{}, nil)

	result, err := engine.Extract(context.Background(), "texte", defaultSettings())
	require.NoError(t, err)
	require.Len(t, result.Sentences, 3)
	assert.Equal(t, result.Sentences[0].Normalized, result.Sentences[1].Normalized)
}

func TestLocalSplit(t *testing.T) {
	text := "Le chat dort sur le tapis. — Bonjour, dit-elle. Il mange bien chaque matin"

	sentences := LocalSplit(text, storage.ProcessingSettings{IgnoreDialogue: true})
	require.Len(t, sentences, 2)
	assert.Equal(t, "Le chat dort sur le tapis.", sentences[0].Normalized)
	// The trailing sentence gets terminal punctuation added.
	assert.True(t, strings.HasSuffix(sentences[1].Normalized, "."))
}

func TestLocalSplitMinLength(t *testing.T) {
	text := "Oui. Le chat dort sur le tapis."

	sentences := LocalSplit(text, storage.ProcessingSettings{MinSentenceLength: 3})
	require.Len(t, sentences, 1)
	assert.Equal(t, "Le chat dort sur le tapis.", sentences[0].Normalized)
}

func TestLocalSplitJoinsHyphenatedBreaks(t *testing.T) {
	text := "Le chat dor-\nmait sur le tapis."

	sentences := LocalSplit(text, storage.ProcessingSettings{})
	require.Len(t, sentences, 1)
	assert.Equal(t, "Le chat dormait sur le tapis.", sentences[0].Normalized)
}
