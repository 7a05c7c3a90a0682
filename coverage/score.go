package coverage

import (
	"strings"

	"github.com/c360studio/phraseforge/normalize"
)

// defaultZipf is the frequency assumed for words absent from the table.
const defaultZipf = 3.0

// zipfTable holds approximate Zipf frequencies (log10 occurrences per
// billion words) for frequent French words. Filter-mode ranking rewards
// sentences built from high-frequency vocabulary; precision beyond one
// decimal does not change orderings.
var zipfTable = map[string]float64{
	"le": 7.0, "la": 7.0, "les": 6.9, "de": 7.1, "un": 6.8, "une": 6.7,
	"et": 6.9, "a": 6.9, "dans": 6.4, "que": 6.8, "qui": 6.5, "pour": 6.4,
	"pas": 6.4, "ne": 6.5, "sur": 6.2, "avec": 6.1, "tout": 6.0, "plus": 6.1,
	"être": 6.6, "avoir": 6.5, "faire": 6.2, "dire": 6.0, "aller": 5.9,
	"voir": 5.9, "savoir": 5.7, "pouvoir": 5.9, "vouloir": 5.7,
	"venir": 5.6, "devoir": 5.6, "prendre": 5.5, "donner": 5.3,
	"homme": 5.4, "femme": 5.3, "jour": 5.5, "temps": 5.6, "main": 5.2,
	"chose": 5.3, "vie": 5.3, "yeux": 5.1, "heure": 5.1, "monde": 5.2,
	"enfant": 5.0, "fois": 5.3, "moment": 5.1, "tête": 5.0, "père": 4.9,
	"mère": 4.9, "maison": 4.9, "nuit": 4.9, "eau": 4.8, "porte": 4.8,
	"ami": 4.7, "ville": 4.7, "chat": 4.3, "chien": 4.3,
	"manger": 4.6, "dormir": 4.3, "parler": 5.0, "aimer": 5.0,
	"petit": 5.4, "grand": 5.4, "bon": 5.3, "beau": 5.0, "vieux": 4.8,
	"bien": 6.0, "très": 5.9, "encore": 5.6, "toujours": 5.6, "jamais": 5.5,
}

// zipf returns the frequency estimate for a canonical key, folding
// diacritics so surface- and lemma-mode keys hit the same entries.
func zipf(key string) float64 {
	if z, ok := zipfTable[key]; ok {
		return z
	}
	if z, ok := zipfTable[normalize.Fingerprint(key)]; ok {
		return z
	}
	return defaultZipf
}

// frequencyWeight is the mean Zipf frequency of the sentence's in-list
// tokens, scaled into the same magnitude band as the other score terms.
func frequencyWeight(inListKeys []string) float64 {
	if len(inListKeys) == 0 {
		return 0
	}
	sum := 0.0
	for _, key := range inListKeys {
		sum += zipf(key)
	}
	return sum / float64(len(inListKeys)) / 10.0
}

// jaccard computes set similarity between two token-key sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for key := range small {
		if _, ok := large[key]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// dialoguePrefixes mark sentences that open as reported speech.
var dialoguePrefixes = []string{"-", "—", "–", "«"}

func isDialogue(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range dialoguePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// quality scores a sentence for coverage mode: proximity of token count
// to the target length, a deduction for dialogue when the run prefers
// prose, and a readability bonus for short average word length.
func quality(text string, tokenCount, targetLength int, preferNonDialogue bool) float64 {
	if targetLength <= 0 {
		targetLength = 6
	}
	distance := tokenCount - targetLength
	if distance < 0 {
		distance = -distance
	}
	q := 1.0 - float64(distance)/float64(targetLength)
	if q < 0 {
		q = 0
	}

	if preferNonDialogue && isDialogue(text) {
		q -= 0.3
	}

	if tokenCount > 0 {
		letters := 0
		for _, r := range text {
			if !strings.ContainsRune(" .,;:!?«»\"'-", r) {
				letters++
			}
		}
		if float64(letters)/float64(tokenCount) <= 6.0 {
			q += 0.2
		}
	}

	if q < 0 {
		q = 0
	}
	return q
}

// lengthPenalty grows with distance from the target length, normalized
// so the gamma weight operates on the same scale as quality.
func lengthPenalty(tokenCount, targetLength int) float64 {
	if targetLength <= 0 {
		targetLength = 6
	}
	distance := tokenCount - targetLength
	if distance < 0 {
		distance = -distance
	}
	return float64(distance) / float64(targetLength)
}
