package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestList(t *testing.T) {
	n := NewDefault()

	t.Run("variants, diacritics, elision, head extraction, dedup", func(t *testing.T) {
		rows := []string{"1 Un|Une", "À", "l'homme", "Bien", "Bien", "Un temps"}

		entries, report := n.IngestList(rows)

		keys := make([]string, len(entries))
		for i, e := range entries {
			keys[i] = e.Key
		}
		assert.ElementsMatch(t, []string{"un", "une", "a", "homme", "bien", "temps"}, keys)

		assert.Equal(t, 6, report.OriginalCount)
		assert.Equal(t, 6, report.UniqueCount)
		assert.Equal(t, 2, report.VariantsExpanded)
		assert.Equal(t, 1, report.DuplicateCount())
		assert.Equal(t, []string{"Bien"}, report.Duplicates)
		require.Len(t, report.MultiTokenHeads, 1)
		assert.Equal(t, "Un temps", report.MultiTokenHeads[0].Original)
		assert.Equal(t, "temps", report.MultiTokenHeads[0].Head)
	})

	t.Run("dedup preserves lowest-index original", func(t *testing.T) {
		entries, _ := n.IngestList([]string{"Chat", "chat", "CHAT"})
		require.Len(t, entries, 1)
		assert.Equal(t, "chat", entries[0].Key)
		assert.Equal(t, "Chat", entries[0].Original)
		assert.Equal(t, 0, entries[0].Index)
	})

	t.Run("anomalies recorded, not fatal", func(t *testing.T) {
		entries, report := n.IngestList([]string{"", "  ", "42.", "mot"})
		require.Len(t, entries, 1)
		assert.Equal(t, "mot", entries[0].Key)
		assert.Len(t, report.Anomalies, 3)
	})

	t.Run("numeric prefixes", func(t *testing.T) {
		for _, row := range []string{"1. mot", "1) mot", "1 mot", "12: mot"} {
			entries, _ := n.IngestList([]string{row})
			require.Len(t, entries, 1, "row %q", row)
			assert.Equal(t, "mot", entries[0].Key, "row %q", row)
		}
	})

	t.Run("zero-width and quotes stripped", func(t *testing.T) {
		entries, _ := n.IngestList([]string{"\u200B«chat»\uFEFF"})
		require.Len(t, entries, 1)
		assert.Equal(t, "chat", entries[0].Key)
	})
}

func TestKeyIdempotence(t *testing.T) {
	n := NewDefault()

	inputs := []string{
		"L'homme", "était", "«Château»", "1. Mangé", "qu'elle",
		"chat", "Un temps", "chevaux", "d'accord",
	}
	for _, in := range inputs {
		first, ok := n.Key(in)
		require.True(t, ok, "input %q", in)
		second, ok := n.Key(first)
		require.True(t, ok, "re-normalizing %q", first)
		assert.Equal(t, first, second, "normalize must be idempotent for %q", in)
	}
}

func TestKeyLemmatization(t *testing.T) {
	n := NewDefault()

	tests := []struct {
		in   string
		want string
	}{
		{"mange", "manger"},
		{"dort", "dormir"},
		{"était", "etre"},
		{"chevaux", "cheval"},
		{"chat", "chat"},       // unknown stays surface
		{"l'homme", "homme"},   // elision
		{"qu'il", "il"},        // qu' beats single-letter prefixes
		{"aujourd'hui", "aujourdhui"}, // internal apostrophe removed, no elision
	}
	for _, tc := range tests {
		got, ok := n.Key(tc.in)
		require.True(t, ok, tc.in)
		assert.Equal(t, tc.want, got, "Key(%q)", tc.in)
	}
}

func TestSurfaceMode(t *testing.T) {
	n := New(Options{FoldDiacritics: true, Mode: ModeSurface}, NewDictLemmatizer())

	got, ok := n.Key("mange")
	require.True(t, ok)
	assert.Equal(t, "mange", got, "surface mode must not lemmatize")
}

func TestNoLemmatizerFallsBackToSurface(t *testing.T) {
	n := New(DefaultOptions(), nil)

	entries, report := n.IngestList([]string{"mange"})
	require.Len(t, entries, 1)
	assert.Equal(t, "mange", entries[0].Key)
	assert.Equal(t, 1, report.LemmaFallbacks)
}

func TestTokenizeSentence(t *testing.T) {
	n := NewDefault()

	t.Run("keys in order, duplicates preserved", func(t *testing.T) {
		keys := n.TokenizeSentence("Le chat mange, le chat dort.")
		assert.Equal(t, []string{"le", "chat", "manger", "le", "chat", "dormir"}, keys)
	})

	t.Run("elision inside sentences", func(t *testing.T) {
		keys := n.TokenizeSentence("L'homme était là.")
		assert.Equal(t, []string{"homme", "etre", "la"}, keys)
	})
}

func TestFingerprint(t *testing.T) {
	t.Run("casefold and collapse whitespace", func(t *testing.T) {
		assert.Equal(t, Fingerprint("Le  Chat\tmange."), Fingerprint("le chat mange."))
	})

	t.Run("caps at 100 runes", func(t *testing.T) {
		long := ""
		for i := 0; i < 30; i++ {
			long += "très "
		}
		fp := Fingerprint(long)
		assert.LessOrEqual(t, len([]rune(fp)), 100)
	})

	t.Run("distinct sentences differ", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint("Le chat mange."), Fingerprint("Le chien dort."))
	})
}
