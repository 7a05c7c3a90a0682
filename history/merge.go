// Package history derives merged sentence snapshots from a job's chunks
// and serves them either live (rebuilt from current chunk state) or from
// the stored snapshot.
package history

import (
	"github.com/c360studio/phraseforge/normalize"
	"github.com/c360studio/phraseforge/storage"
)

// DefaultDedupWindow bounds how far back into the previous chunk the
// overlap dedup looks. One overlap page rarely yields more sentences
// than this.
const DefaultDedupWindow = 8

// MergeResult is the outcome of merging a job's chunks.
type MergeResult struct {
	Sentences     []storage.Sentence
	TokenCount    int
	FailedIndices []int
	DroppedDupes  int
}

// MergeChunks walks chunks in index order and concatenates their
// sentences. When a chunk was built with a page overlap against its
// predecessor, sentences whose fingerprint matches one of the previous
// chunk's last `window` sentences are dropped, keeping the earlier copy.
// Chunks without a result (failed, cancelled mid-flight) are skipped and
// their indices recorded. Duplicates within a single chunk survive.
func MergeChunks(chunks []*storage.Chunk, window int) *MergeResult {
	if window <= 0 {
		window = DefaultDedupWindow
	}

	result := &MergeResult{}
	var prevTail []string // fingerprints of the previous kept chunk's tail

	for _, chunk := range chunks {
		if chunk.State != storage.ChunkStateSuccess || chunk.Result == nil {
			result.FailedIndices = append(result.FailedIndices, chunk.Index)
			// The next chunk's overlap page belongs to this chunk, not to
			// the last kept one, so its tail must not feed the dedup.
			prevTail = nil
			continue
		}

		sentences := chunk.Result.Sentences
		if chunk.HasOverlap && len(prevTail) > 0 {
			sentences = dropOverlap(sentences, prevTail, result)
		}
		result.Sentences = append(result.Sentences, sentences...)
		result.TokenCount += chunk.Result.TokenCount

		prevTail = tailFingerprints(chunk.Result.Sentences, window)
	}
	return result
}

// dropOverlap removes sentences already seen in the previous chunk's
// tail. Matching is by fingerprint so whitespace and casing
// differences between the two extractions do not defeat the dedup.
func dropOverlap(sentences []storage.Sentence, prevTail []string, result *MergeResult) []storage.Sentence {
	tail := make(map[string]struct{}, len(prevTail))
	for _, fp := range prevTail {
		tail[fp] = struct{}{}
	}

	kept := make([]storage.Sentence, 0, len(sentences))
	for _, sentence := range sentences {
		if _, dup := tail[normalize.Fingerprint(sentence.Normalized)]; dup {
			result.DroppedDupes++
			continue
		}
		kept = append(kept, sentence)
	}
	return kept
}

func tailFingerprints(sentences []storage.Sentence, window int) []string {
	start := len(sentences) - window
	if start < 0 {
		start = 0
	}
	fps := make([]string, 0, len(sentences)-start)
	for _, sentence := range sentences[start:] {
		fps = append(fps, normalize.Fingerprint(sentence.Normalized))
	}
	return fps
}
