// Package coverage implements the two vocabulary coverage modes: a
// greedy set-cover selection that maximizes word-list coverage with few
// sentences, and a filter selection that drills down to short sentences
// whose tokens are overwhelmingly in-list. Both are pure functions from
// (sentences, word list, config) to (assignments, stats).
package coverage

import (
	"sort"
	"time"

	"github.com/c360studio/phraseforge/normalize"
	"github.com/c360studio/phraseforge/storage"
)

// swapBudget caps the post-selection hill climb.
const swapBudget = 250 * time.Millisecond

// indexed is a sentence prepared for selection.
type indexed struct {
	index      int
	text       string
	tokenCount int
	keySet     map[string]struct{} // distinct in-list keys present
	inList     []string            // in-list keys, duplicates preserved
	allKeys    map[string]struct{} // all token keys, for Jaccard
	quality    float64
	lenPenalty float64
}

// indexSentences tokenizes every sentence and intersects with the word
// list.
func indexSentences(sentences []storage.Sentence, listKeys map[string]struct{}, cfg storage.CoverageConfig, n *normalize.Normalizer) []*indexed {
	out := make([]*indexed, len(sentences))
	for i, sentence := range sentences {
		tokens := n.TokenizeSentence(sentence.Normalized)
		item := &indexed{
			index:      i,
			text:       sentence.Normalized,
			tokenCount: len(tokens),
			keySet:     make(map[string]struct{}),
			allKeys:    make(map[string]struct{}, len(tokens)),
		}
		for _, key := range tokens {
			item.allKeys[key] = struct{}{}
			if _, ok := listKeys[key]; ok {
				item.keySet[key] = struct{}{}
				item.inList = append(item.inList, key)
			}
		}
		item.quality = quality(item.text, item.tokenCount, cfg.TargetLength, cfg.PreferNonDialogue)
		item.lenPenalty = lengthPenalty(item.tokenCount, cfg.TargetLength)
		out[i] = item
	}
	return out
}

func keySetOf(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}

// Cover runs greedy set-cover selection: repeatedly pick the sentence
// with the best marginal score until nothing new is covered or the
// sentence budget is spent. With all weights zero this degenerates to
// the plain greedy k-cover.
func Cover(sentences []storage.Sentence, listKeys []string, cfg storage.CoverageConfig, n *normalize.Normalizer) ([]storage.CoverageAssignment, *storage.CoverageStats) {
	start := time.Now()
	keySet := keySetOf(listKeys)
	items := indexSentences(sentences, keySet, cfg, n)

	maxSentences := cfg.MaxSentences
	if maxSentences <= 0 {
		maxSentences = len(items)
	}

	covered := make(map[string]int)   // key -> sentence index of first coverage
	selected := make(map[int]*indexed) // sentence index -> item
	var order []int

	for len(order) < maxSentences {
		var best *indexed
		bestScore, bestGain := 0.0, 0
		for _, item := range items {
			if _, taken := selected[item.index]; taken {
				continue
			}
			gain, dup := 0, 0
			for key := range item.keySet {
				if _, done := covered[key]; done {
					dup++
				} else {
					gain++
				}
			}
			if gain == 0 {
				continue
			}
			score := float64(gain) - cfg.Alpha*float64(dup) + cfg.Beta*item.quality - cfg.Gamma*item.lenPenalty
			if best == nil || score > bestScore ||
				(score == bestScore && betterTie(item, best)) {
				best, bestScore, bestGain = item, score, gain
			}
		}
		if best == nil || bestGain == 0 {
			break
		}

		selected[best.index] = best
		order = append(order, best.index)
		for key := range best.keySet {
			if _, done := covered[key]; !done {
				covered[key] = best.index
			}
		}
	}

	rebalance(covered, selected, start)

	assignments := buildAssignments(covered, selected)
	stats := &storage.CoverageStats{
		TotalSentences: len(sentences),
		TotalWords:     len(listKeys),
		CoveredWords:   len(covered),
		SelectedCount:  len(order),
		RuntimeMs:      time.Since(start).Milliseconds(),
	}
	for _, key := range listKeys {
		if _, ok := covered[key]; !ok {
			stats.UncoveredWords = append(stats.UncoveredWords, key)
		}
	}
	if len(listKeys) > 0 {
		stats.AcceptanceRatio = float64(len(covered)) / float64(len(listKeys))
	}
	return assignments, stats
}

// betterTie orders equal-score candidates: higher quality, then lower
// length penalty, then lower index.
func betterTie(a, b *indexed) bool {
	if a.quality != b.quality {
		return a.quality > b.quality
	}
	if a.lenPenalty != b.lenPenalty {
		return a.lenPenalty < b.lenPenalty
	}
	return a.index < b.index
}

// rebalance runs the single-swap hill climb: keys covered by several
// selected sentences migrate toward less loaded sentences, spreading
// assignments without losing coverage.
func rebalance(covered map[string]int, selected map[int]*indexed, start time.Time) {
	load := make(map[int]int)
	for _, idx := range covered {
		load[idx]++
	}

	improved := true
	for improved && time.Since(start) < swapBudget {
		improved = false
		for key, current := range covered {
			for idx, item := range selected {
				if idx == current {
					continue
				}
				if _, has := item.keySet[key]; !has {
					continue
				}
				if load[idx]+1 < load[current] {
					covered[key] = idx
					load[idx]++
					load[current]--
					improved = true
					break
				}
			}
		}
	}
}

func buildAssignments(covered map[string]int, selected map[int]*indexed) []storage.CoverageAssignment {
	assignments := make([]storage.CoverageAssignment, 0, len(covered))
	for key, idx := range covered {
		item := selected[idx]
		assignment := storage.CoverageAssignment{
			WordKey:       key,
			SentenceIndex: idx,
			SentenceText:  item.text,
			SentenceScore: item.quality,
		}
		for otherIdx, other := range selected {
			if otherIdx == idx {
				continue
			}
			if _, has := other.keySet[key]; has {
				assignment.Conflicts = append(assignment.Conflicts, other.text)
			}
		}
		sort.Strings(assignment.Conflicts)
		assignments = append(assignments, assignment)
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].WordKey < assignments[j].WordKey })
	return assignments
}

// Filter runs the drill-set selection: accept short, overwhelmingly
// in-list sentences, then pick them pass by pass (length 4, length 3,
// everything else) ranked by the composite score with a diversity
// penalty against what is already selected.
func Filter(sentences []storage.Sentence, listKeys []string, cfg storage.CoverageConfig, n *normalize.Normalizer) ([]storage.SelectedSentence, *storage.CoverageStats) {
	start := time.Now()
	keySet := keySetOf(listKeys)
	items := indexSentences(sentences, keySet, cfg, n)

	lenMin, lenMax := cfg.LenMin, cfg.LenMax
	if lenMin <= 0 {
		lenMin = 4
	}
	if lenMax <= 0 {
		lenMax = 8
	}
	minRatio := cfg.MinInListRatio
	if minRatio <= 0 {
		minRatio = 0.95
	}
	target := cfg.TargetCount
	if target <= 0 {
		target = 500
	}

	var accepted []*indexed
	ratios := make(map[int]float64)
	for _, item := range items {
		if item.tokenCount < lenMin || item.tokenCount > lenMax {
			continue
		}
		ratio := float64(len(item.inList)) / float64(item.tokenCount)
		if ratio < minRatio {
			continue
		}
		accepted = append(accepted, item)
		ratios[item.index] = ratio
	}

	passes := []func(*indexed) bool{
		func(s *indexed) bool { return s.tokenCount == 4 },
		func(s *indexed) bool { return s.tokenCount == 3 },
		func(s *indexed) bool { return true },
	}

	var selected []storage.SelectedSentence
	taken := make(map[int]struct{})
	var takenSets []map[string]struct{}

	for passNum, match := range passes {
		if len(selected) >= target {
			break
		}
		for len(selected) < target {
			var best *indexed
			bestScore := 0.0
			for _, item := range accepted {
				if _, done := taken[item.index]; done {
					continue
				}
				if !match(item) {
					continue
				}
				score := filterScore(item, ratios[item.index], takenSets)
				if best == nil || score > bestScore ||
					(score == bestScore && item.index < best.index) {
					best, bestScore = item, score
				}
			}
			if best == nil {
				break
			}
			taken[best.index] = struct{}{}
			takenSets = append(takenSets, best.allKeys)
			selected = append(selected, storage.SelectedSentence{
				SentenceIndex: best.index,
				Text:          best.text,
				TokenCount:    best.tokenCount,
				InListRatio:   ratios[best.index],
				Score:         bestScore,
				Pass:          passNum + 1,
			})
		}
	}

	stats := &storage.CoverageStats{
		TotalSentences: len(sentences),
		TotalWords:     len(listKeys),
		SelectedCount:  len(selected),
		RuntimeMs:      time.Since(start).Milliseconds(),
	}
	if len(sentences) > 0 {
		stats.AcceptanceRatio = float64(len(accepted)) / float64(len(sentences))
	}
	if len(selected) < target {
		stats.Shortfall = target - len(selected)
	}
	coveredKeys := make(map[string]struct{})
	for idx := range taken {
		for key := range items[idx].keySet {
			coveredKeys[key] = struct{}{}
		}
	}
	stats.CoveredWords = len(coveredKeys)
	for _, key := range listKeys {
		if _, ok := coveredKeys[key]; !ok {
			stats.UncoveredWords = append(stats.UncoveredWords, key)
		}
	}
	return selected, stats
}

// filterScore is the composite filter-mode ranking.
func filterScore(item *indexed, ratio float64, selectedSets []map[string]struct{}) float64 {
	score := ratio*10 + (1.0/float64(item.tokenCount))*0.5 + frequencyWeight(item.inList)

	maxSim := 0.0
	for _, set := range selectedSets {
		if sim := jaccard(item.allKeys, set); sim > maxSim {
			maxSim = sim
		}
	}
	return score - maxSim
}
