package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Lemmatizer reduces a folded surface token to its lemma.
// Implementations must be fixed-point: Lemma(lemma) returns the lemma
// itself (or not-found), so that normalization stays idempotent.
type Lemmatizer interface {
	// Lemma returns the lemma for a token and whether the token was known.
	Lemma(token string) (string, bool)
}

// DictLemmatizer is a dictionary-backed lemmatizer over an embedded lexicon
// of frequent French surface forms. Unknown tokens are reported as not
// found so the caller can fall back to the surface form; this keeps the
// lemmatizer conservative instead of guessing suffix rules.
type DictLemmatizer struct {
	lemmas map[string]string
}

// NewDictLemmatizer builds the lemmatizer from the embedded lexicon.
// Each accented entry is also registered under its diacritic-folded
// spelling so lookup works in both folding configurations.
func NewDictLemmatizer() *DictLemmatizer {
	lemmas := make(map[string]string, len(frenchLexicon)*2)
	for surface, lemma := range frenchLexicon {
		lemmas[surface] = lemma
		folded := foldMarks(surface)
		if _, exists := lemmas[folded]; !exists {
			lemmas[folded] = foldMarks(lemma)
		}
	}
	return &DictLemmatizer{lemmas: lemmas}
}

// Lemma implements Lemmatizer.
func (d *DictLemmatizer) Lemma(token string) (string, bool) {
	lemma, ok := d.lemmas[token]
	if !ok {
		return "", false
	}
	return lemma, true
}

var markRemover = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldMarks strips combining marks from a lowercase string.
func foldMarks(s string) string {
	out, _, err := transform.String(markRemover, s)
	if err != nil {
		return s
	}
	return out
}

// IsStopWord reports whether a folded lowercase token is a French function
// word. Used when extracting the head token of multi-token entries.
func IsStopWord(token string) bool {
	_, ok := frenchStopWords[foldMarks(strings.ToLower(token))]
	return ok
}
