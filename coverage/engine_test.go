package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/phraseforge/normalize"
	"github.com/c360studio/phraseforge/storage"
)

func sentenceList(texts ...string) []storage.Sentence {
	out := make([]storage.Sentence, len(texts))
	for i, text := range texts {
		out[i] = storage.Sentence{Normalized: text, Original: text}
	}
	return out
}

func surfaceNormalizer() *normalize.Normalizer {
	return normalize.New(normalize.Options{Mode: normalize.ModeSurface, FoldDiacritics: true}, nil)
}

func TestCoverGreedySelection(t *testing.T) {
	keys := []string{"chat", "chien", "manger", "dormir"}
	sentences := sentenceList(
		"Le chat mange.",
		"Le chien dort.",
		"Un oiseau chante.",
	)

	assignments, stats := Cover(sentences, keys, storage.DefaultCoverageConfig(), normalize.NewDefault())

	assert.Equal(t, 4, stats.CoveredWords)
	assert.Empty(t, stats.UncoveredWords)
	assert.Equal(t, 2, stats.SelectedCount)
	assert.Equal(t, 1.0, stats.AcceptanceRatio)

	byKey := make(map[string]int)
	for _, assignment := range assignments {
		byKey[assignment.WordKey] = assignment.SentenceIndex
	}
	assert.Equal(t, map[string]int{"chat": 0, "manger": 0, "chien": 1, "dormir": 1}, byKey)
}

func TestCoverUncoveredKeysReported(t *testing.T) {
	keys := []string{"chat", "cheval"}
	sentences := sentenceList("Le chat mange.")

	_, stats := Cover(sentences, keys, storage.DefaultCoverageConfig(), normalize.NewDefault())
	assert.Equal(t, 1, stats.CoveredWords)
	assert.Equal(t, []string{"cheval"}, stats.UncoveredWords)
	assert.InDelta(t, 0.5, stats.AcceptanceRatio, 1e-9)
}

func TestCoverZeroWeightsIsPlainGreedy(t *testing.T) {
	// With all weights zero the selection must be the classical greedy
	// k-cover: biggest marginal gain first, index as the final tie-break.
	keys := []string{"chat", "chien", "nuit", "porte"}
	sentences := sentenceList(
		"Le chat dort.",                    // gain 1
		"Le chat et le chien et la nuit.",  // gain 3, picked first
		"La porte.",                        // gain 1, picked second
	)

	cfg := storage.DefaultCoverageConfig()
	cfg.Alpha, cfg.Beta, cfg.Gamma = 0, 0, 0

	assignments, stats := Cover(sentences, keys, cfg, normalize.NewDefault())
	assert.Equal(t, 2, stats.SelectedCount)
	assert.Equal(t, 4, stats.CoveredWords)

	for _, assignment := range assignments {
		if assignment.WordKey == "porte" {
			assert.Equal(t, 2, assignment.SentenceIndex)
		} else {
			assert.Equal(t, 1, assignment.SentenceIndex)
		}
	}
}

func TestCoverRespectsMaxSentences(t *testing.T) {
	keys := []string{"chat", "chien", "cheval"}
	sentences := sentenceList("Le chat.", "Le chien.", "Le cheval.")

	cfg := storage.DefaultCoverageConfig()
	cfg.MaxSentences = 2

	_, stats := Cover(sentences, keys, cfg, normalize.NewDefault())
	assert.Equal(t, 2, stats.SelectedCount)
	assert.Equal(t, 2, stats.CoveredWords)
	assert.Len(t, stats.UncoveredWords, 1)
}

func TestCoverConflictsRecorded(t *testing.T) {
	keys := []string{"chat", "chien", "nuit"}
	sentences := sentenceList(
		"Le chat et le chien.",
		"Le chat et la nuit.",
	)

	assignments, _ := Cover(sentences, keys, storage.DefaultCoverageConfig(), normalize.NewDefault())
	for _, assignment := range assignments {
		if assignment.WordKey == "chat" {
			assert.NotEmpty(t, assignment.Conflicts, "chat appears in both selected sentences")
		}
	}
}

func filterFixture() ([]storage.Sentence, []string, storage.CoverageConfig) {
	keys := []string{
		"le", "la", "chat", "chien", "mange", "dort", "bien",
		"ici", "nuit", "tres", "vite", "et", "puis", "il", "elle",
	}
	sentences := sentenceList(
		"Un oiseau chante dehors.",        // 0: ratio too low
		"Le chat mange bien.",             // 1: length 4, qualifying
		"Le chien dort.",                  // 2: length 3, qualifying
		"Le chien dort ici la nuit.",      // 3: length 6
		"Le chat mange bien tres vite.",   // 4: length 6
		"Il mange et elle dort ici.",      // 5: length 6
		"Le chat dort ici tres bien.",     // 6: length 6
		"Le chien mange vite et bien.",    // 7: length 6
	)
	cfg := storage.DefaultCoverageConfig()
	cfg.LenMin, cfg.LenMax = 3, 8
	cfg.MinInListRatio = 0.95
	cfg.TargetCount = 3
	return sentences, keys, cfg
}

func TestFilterMultiPassOrdering(t *testing.T) {
	sentences, keys, cfg := filterFixture()

	selected, stats := Filter(sentences, keys, cfg, surfaceNormalizer())
	require.Len(t, selected, 3)

	// Pass 1 takes the only length-4 sentence, pass 2 the length-3,
	// pass 3 the best length-6 by score.
	assert.Equal(t, 1, selected[0].SentenceIndex)
	assert.Equal(t, 4, selected[0].TokenCount)
	assert.Equal(t, 1, selected[0].Pass)

	assert.Equal(t, 2, selected[1].SentenceIndex)
	assert.Equal(t, 3, selected[1].TokenCount)
	assert.Equal(t, 2, selected[1].Pass)

	assert.Equal(t, 6, selected[2].TokenCount)
	assert.Equal(t, 3, selected[2].Pass)

	assert.Zero(t, stats.Shortfall)
	assert.InDelta(t, 7.0/8.0, stats.AcceptanceRatio, 1e-9)
}

func TestFilterShortfallReported(t *testing.T) {
	sentences, keys, cfg := filterFixture()
	cfg.TargetCount = 10

	selected, stats := Filter(sentences, keys, cfg, surfaceNormalizer())
	assert.Len(t, selected, 7)
	assert.Equal(t, 3, stats.Shortfall)
}

func TestFilterRejectsOutOfBandLengths(t *testing.T) {
	keys := []string{"le", "chat", "dort"}
	sentences := sentenceList("Le chat dort.", "Chat.")

	cfg := storage.DefaultCoverageConfig() // len_min 4
	selected, _ := Filter(sentences, keys, cfg, surfaceNormalizer())
	assert.Empty(t, selected)
}

func TestFilterDeterministic(t *testing.T) {
	sentences, keys, cfg := filterFixture()
	cfg.TargetCount = 7

	first, _ := Filter(sentences, keys, cfg, surfaceNormalizer())
	second, _ := Filter(sentences, keys, cfg, surfaceNormalizer())
	assert.Equal(t, first, second)
}

func TestJaccard(t *testing.T) {
	a := map[string]struct{}{"chat": {}, "dort": {}}
	b := map[string]struct{}{"chat": {}, "mange": {}}
	assert.InDelta(t, 1.0/3.0, jaccard(a, b), 1e-9)
	assert.Zero(t, jaccard(a, map[string]struct{}{}))
	assert.InDelta(t, 1.0, jaccard(a, a), 1e-9)
}

func TestQualityDialoguePenalty(t *testing.T) {
	plain := quality("Le chat dort bien ici vite.", 6, 6, true)
	dialogue := quality("— Le chat dort bien ici vite.", 6, 6, true)
	assert.Greater(t, plain, dialogue)

	ignored := quality("— Le chat dort bien ici vite.", 6, 6, false)
	assert.Equal(t, plain, ignored)
}
