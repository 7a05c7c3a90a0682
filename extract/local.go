package extract

import (
	"regexp"
	"strings"

	"github.com/c360studio/phraseforge/storage"
)

// Local tier-4 fallback: a regex sentence splitter that needs no LLM.
// Quality is far below the model tiers but a degraded result beats a
// failed chunk when the operator allows it.

var (
	// sentenceBoundaryRe splits on terminal punctuation followed by
	// whitespace and an uppercase letter or guillemet.
	sentenceBoundaryRe = regexp.MustCompile(`(?:[.!?…]+)\s+`)

	lineBreakRe  = regexp.MustCompile(`\s*\n\s*`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)

	dialogueLineRe = regexp.MustCompile(`^\s*(?:[-—–]|«)`)
)

// LocalSplit splits raw chunk text into sentences without an LLM.
// Hyphenated line breaks are joined, dialogue lines are dropped when the
// settings ask for it, and sentences below the minimum length are skipped.
func LocalSplit(text string, settings storage.ProcessingSettings) []storage.Sentence {
	// Rejoin words hyphenated across line breaks, then flatten lines.
	text = strings.ReplaceAll(text, "-\n", "")
	text = lineBreakRe.ReplaceAllString(text, " ")
	text = multiSpaceRe.ReplaceAllString(text, " ")

	minLen := settings.MinSentenceLength
	if minLen <= 0 {
		minLen = 3
	}

	var sentences []storage.Sentence
	for _, raw := range splitSentences(text) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if settings.IgnoreDialogue && dialogueLineRe.MatchString(raw) {
			continue
		}
		if wordCount(raw) < minLen {
			continue
		}
		if !strings.HasSuffix(raw, ".") && !strings.HasSuffix(raw, "!") &&
			!strings.HasSuffix(raw, "?") && !strings.HasSuffix(raw, "…") {
			raw += "."
		}
		sentences = append(sentences, storage.Sentence{Normalized: raw, Original: raw})
	}
	return sentences
}

// splitSentences cuts on terminal punctuation while keeping it attached
// to the preceding sentence.
func splitSentences(text string) []string {
	var parts []string
	last := 0
	for _, loc := range sentenceBoundaryRe.FindAllStringIndex(text, -1) {
		// Keep the punctuation, drop the trailing whitespace.
		end := loc[0]
		for end < loc[1] && !isSpace(text[end]) {
			end++
		}
		parts = append(parts, text[last:end])
		last = loc[1]
	}
	if last < len(text) {
		parts = append(parts, text[last:])
	}
	return parts
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func wordCount(s string) int {
	return len(fragmentWordRe.FindAllString(s, -1))
}
