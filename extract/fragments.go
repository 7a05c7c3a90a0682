package extract

import (
	"regexp"
	"strings"

	"github.com/c360studio/phraseforge/storage"
)

// Fragment heuristic: a sentence emitted by any cascade tier must be a
// complete grammatical unit. The heuristic flags the common failure modes
// of PDF line-break extraction: a leading preposition, conjunction or
// relative pronoun with no conjugated verb behind it, a dangling past
// participle, and a temporal opener without a main clause.

// leadingFragmentWords are prepositions, conjunctions and relative
// pronouns that signal a cut-off subordinate clause when no conjugated
// verb follows.
var leadingFragmentWords = map[string]bool{
	"dans": true, "sur": true, "sous": true, "avec": true, "sans": true,
	"pour": true, "chez": true, "vers": true, "entre": true, "parmi": true,
	"et": true, "mais": true, "ou": true, "donc": true, "car": true, "or": true,
	"que": true, "qui": true, "dont": true, "où": true,
	"quand": true, "lorsque": true, "pendant": true, "durant": true,
	"après": true, "avant": true, "depuis": true, "malgré": true,
}

// temporalOpeners signal a time adverbial that needs a main clause.
var temporalOpeners = map[string]bool{
	"hier": true, "demain": true, "aujourd'hui": true, "autrefois": true,
	"soudain": true, "puis": true, "ensuite": true, "alors": true,
	"enfin": true, "d'abord": true, "bientôt": true, "parfois": true,
}

// conjugatedForms are frequent irregular conjugations that the ending
// patterns below cannot catch.
var conjugatedForms = map[string]bool{
	"est": true, "sont": true, "était": true, "étaient": true, "fut": true,
	"furent": true, "sera": true, "seront": true, "soit": true,
	"a": true, "ont": true, "avait": true, "avaient": true, "eut": true,
	"aura": true, "auront": true, "ai": true, "as": true, "avons": true, "avez": true,
	"va": true, "vont": true, "allait": true, "ira": true, "iront": true,
	"fait": true, "font": true, "faisait": true, "fit": true, "fera": true,
	"dit": true, "disent": true, "disait": true, "dira": true,
	"peut": true, "peuvent": true, "pouvait": true, "pourra": true,
	"doit": true, "doivent": true, "devait": true, "devra": true,
	"veut": true, "veulent": true, "voulait": true, "voudra": true,
	"sait": true, "savent": true, "savait": true, "saura": true,
	"vient": true, "viennent": true, "venait": true, "viendra": true,
	"voit": true, "voient": true, "voyait": true, "verra": true,
	"prend": true, "prennent": true, "prenait": true, "prit": true,
	"met": true, "mettent": true, "mettait": true, "mit": true,
	"dort": true, "mange": true, "parle": true, "aime": true, "chante": true,
	"joue": true, "lit": true, "écrit": true, "donne": true, "trouve": true,
	"regarde": true, "marche": true, "habite": true, "boit": true,
}

var (
	// conjugatedEndingRe catches regular imperfect/conditional/plural
	// endings. Deliberately conservative: a missed verb only means a
	// sentence is wrongly flagged as a fragment, which is logged, not
	// rejected.
	conjugatedEndingRe = regexp.MustCompile(`(?:ait|aient|erons|erez|eront|irons|irez|iront|issons|issez|issent)$`)

	pastParticipleRe = regexp.MustCompile(`(?:é|ée|és|ées)$`)

	fragmentWordRe = regexp.MustCompile(`[\p{L}][\p{L}'’\-]*`)
)

// IsLikelyFragment reports whether a sentence looks like an incomplete
// grammatical unit.
func IsLikelyFragment(sentence string) bool {
	words := fragmentWordRe.FindAllString(strings.ToLower(sentence), -1)
	if len(words) == 0 {
		return true
	}

	if hasConjugatedVerb(words) {
		return false
	}

	first := strings.ReplaceAll(words[0], "’", "'")
	if leadingFragmentWords[first] || temporalOpeners[first] {
		return true
	}

	// Dangling past participle with no auxiliary ("Parti sans rien dire").
	if pastParticipleRe.MatchString(words[len(words)-1]) {
		return true
	}

	return false
}

func hasConjugatedVerb(words []string) bool {
	for _, w := range words {
		if conjugatedForms[w] {
			return true
		}
		if len(w) > 4 && conjugatedEndingRe.MatchString(w) {
			return true
		}
	}
	return false
}

// FragmentRate returns the fraction of sentences flagged as fragments.
func FragmentRate(sentences []storage.Sentence) float64 {
	if len(sentences) == 0 {
		return 0
	}
	fragments := 0
	for _, s := range sentences {
		if IsLikelyFragment(s.Normalized) {
			fragments++
		}
	}
	return float64(fragments) / float64(len(sentences))
}
