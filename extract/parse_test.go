package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSentencesObjects(t *testing.T) {
	content := `[
		{"normalized": "Le chat dort.", "original": "le chat  dort"},
		{"normalized": "Il mange bien.", "original": "il mange bien"}
	]`

	sentences, err := ParseSentences(content)
	require.NoError(t, err)
	require.Len(t, sentences, 2)
	assert.Equal(t, "Le chat dort.", sentences[0].Normalized)
	assert.Equal(t, "le chat  dort", sentences[0].Original)
}

func TestParseSentencesStrings(t *testing.T) {
	sentences, err := ParseSentences(`["Le chat dort.", "Il mange bien."]`)
	require.NoError(t, err)
	require.Len(t, sentences, 2)
	// Bare strings fill both fields.
	assert.Equal(t, sentences[0].Normalized, sentences[0].Original)
}

func TestParseSentencesFencedJSON(t *testing.T) {
	content := "Voici les phrases :\n```json\n[\"Le chat dort.\"]\n```\n"

	sentences, err := ParseSentences(content)
	require.NoError(t, err)
	require.Len(t, sentences, 1)
	assert.Equal(t, "Le chat dort.", sentences[0].Normalized)
}

func TestParseSentencesBracketsInsideStrings(t *testing.T) {
	content := `[{"normalized": "Il dit [sic] bonjour.", "original": "Il dit [sic] bonjour."}]`

	sentences, err := ParseSentences(content)
	require.NoError(t, err)
	require.Len(t, sentences, 1)
}

func TestParseSentencesLineFallback(t *testing.T) {
	content := "- Le chat dort.\n- Il mange bien.\n\n"

	sentences, err := ParseSentences(content)
	require.NoError(t, err)
	require.Len(t, sentences, 2)
	assert.Equal(t, "Le chat dort.", sentences[0].Normalized)
}

func TestParseSentencesEmpty(t *testing.T) {
	_, err := ParseSentences("")
	assert.Error(t, err)

	_, err = ParseSentences("   \n  ")
	assert.Error(t, err)
}
