// Package normalize transforms raw French words and sentences into canonical
// keys usable for equality-based matching. The pipeline order is contractual:
// whitespace/zero-width stripping, quote stripping, numeric-prefix removal,
// variant expansion, elision head extraction, apostrophe removal, case
// folding, optional diacritic folding, head-token selection and
// lemmatization, then dedup by final key.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Mode selects how tokens are reduced to keys.
type Mode string

const (
	// ModeLemma reduces tokens to their lemma (default).
	ModeLemma Mode = "lemma"
	// ModeSurface keeps the folded surface form.
	ModeSurface Mode = "surface"
)

// ParseMode converts a string to a Mode, defaulting to ModeLemma.
func ParseMode(s string) Mode {
	if Mode(s) == ModeSurface {
		return ModeSurface
	}
	return ModeLemma
}

// Options configures a Normalizer.
type Options struct {
	// FoldDiacritics decomposes and drops combining marks (default true).
	FoldDiacritics bool
	// Mode selects lemma or surface matching.
	Mode Mode
}

// DefaultOptions returns the default normalizer options.
func DefaultOptions() Options {
	return Options{FoldDiacritics: true, Mode: ModeLemma}
}

// Entry is one normalized word-list entry.
type Entry struct {
	// Key is the canonical matching key.
	Key string `json:"key"`
	// Original is the surface form the key was derived from.
	Original string `json:"original"`
	// Index is the 0-based position of the source row.
	Index int `json:"index"`
}

// Normalizer canonicalizes French words and sentence tokens.
// It never fails on anomalous input: anomalies are recorded in the
// ingestion report and processing continues.
type Normalizer struct {
	opts       Options
	lemmatizer Lemmatizer
	folder     cases.Caser
	deaccent   transform.Transformer
}

// New creates a Normalizer. A nil lemmatizer degrades to surface forms,
// recorded per entry in the ingestion report.
func New(opts Options, lemmatizer Lemmatizer) *Normalizer {
	if opts.Mode == "" {
		opts.Mode = ModeLemma
	}
	return &Normalizer{
		opts:       opts,
		lemmatizer: lemmatizer,
		folder:     cases.Fold(),
		deaccent:   transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
	}
}

// NewDefault creates a Normalizer with default options and the embedded
// French lemma dictionary.
func NewDefault() *Normalizer {
	return New(DefaultOptions(), NewDictLemmatizer())
}

// elisionPrefixes are French elision prefixes stripped before the head token.
// qu' must sort before single-letter prefixes so it wins the match.
var elisionPrefixes = []string{"qu'", "l'", "d'", "j'", "n'", "s'", "t'", "c'"}

var (
	numericPrefixRe = regexp.MustCompile(`^\s*\d+\s*[-.:)\]]*\s*`)
	variantSplitRe  = regexp.MustCompile(`[|/,]`)
	wordTokenRe     = regexp.MustCompile(`[\p{L}][\p{L}'’\-]*`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// zero-width characters stripped in step 1 (U+200B..U+200F, U+FEFF).
func isZeroWidth(r rune) bool {
	return (r >= 0x200B && r <= 0x200F) || r == 0xFEFF
}

// surrounding quote marks and paired guillemets stripped in step 2.
const quoteCutset = "\"'`«»“”‘’‹›"

// IngestList normalizes raw word-list rows into deduplicated entries plus
// an ingestion report. Dedup preserves the lowest-index original per key.
func (n *Normalizer) IngestList(rows []string) ([]Entry, *IngestionReport) {
	report := NewIngestionReport(len(rows))

	seen := make(map[string]int)
	var entries []Entry

	for i, row := range rows {
		for _, entry := range n.normalizeRow(row, i, report) {
			if _, dup := seen[entry.Key]; dup {
				report.Duplicates = append(report.Duplicates, entry.Original)
				continue
			}
			seen[entry.Key] = len(entries)
			entries = append(entries, entry)
		}
	}

	report.UniqueCount = len(entries)
	return entries, report
}

// normalizeRow applies pipeline steps 1-4 to one raw row, expanding variants.
func (n *Normalizer) normalizeRow(row string, index int, report *IngestionReport) []Entry {
	cleaned := n.stripWrapping(row)
	cleaned = numericPrefixRe.ReplaceAllString(cleaned, "")

	if strings.TrimSpace(cleaned) == "" {
		report.Anomalies = append(report.Anomalies, row)
		return nil
	}

	variants := variantSplitRe.Split(cleaned, -1)
	if len(variants) > 1 {
		report.VariantsExpanded += len(variants)
	}

	var entries []Entry
	for _, variant := range variants {
		variant = strings.TrimSpace(variant)
		if variant == "" {
			continue
		}
		key := n.variantKey(variant, report)
		if key == "" {
			report.Anomalies = append(report.Anomalies, variant)
			continue
		}
		entries = append(entries, Entry{Key: key, Original: variant, Index: index})
	}
	return entries
}

// variantKey applies pipeline steps 4a-4f to a single variant.
func (n *Normalizer) variantKey(variant string, report *IngestionReport) string {
	// Elision head extraction happens before internal apostrophes vanish.
	head := n.stripElision(variant)
	head = strings.ReplaceAll(head, "’", "")
	head = strings.ReplaceAll(head, "'", "")
	head = n.folder.String(head)
	if n.opts.FoldDiacritics {
		head = n.foldDiacritics(head)
	}

	tokens := strings.Fields(head)
	if len(tokens) == 0 {
		return ""
	}
	token := tokens[0]
	if len(tokens) > 1 {
		token = headToken(tokens)
		if report != nil {
			report.MultiTokenHeads = append(report.MultiTokenHeads, HeadExtraction{
				Original: variant,
				Head:     token,
			})
		}
	}

	return n.reduce(token, report)
}

// reduce applies the matching mode to a folded token.
func (n *Normalizer) reduce(token string, report *IngestionReport) string {
	if n.opts.Mode == ModeSurface {
		return token
	}
	if n.lemmatizer == nil {
		if report != nil {
			report.LemmaFallbacks++
		}
		return token
	}
	lemma, ok := n.lemmatizer.Lemma(token)
	if !ok {
		// Surface fallback; not an anomaly, the dictionary is partial.
		return token
	}
	if n.opts.FoldDiacritics {
		lemma = n.foldDiacritics(lemma)
	}
	return lemma
}

// Key normalizes a single raw word to its canonical key. Returns false for
// input that yields no token.
func (n *Normalizer) Key(raw string) (string, bool) {
	cleaned := n.stripWrapping(raw)
	cleaned = numericPrefixRe.ReplaceAllString(cleaned, "")
	if strings.TrimSpace(cleaned) == "" {
		return "", false
	}
	key := n.variantKey(cleaned, nil)
	if key == "" {
		return "", false
	}
	return key, true
}

// TokenizeSentence splits a sentence into word tokens and reduces each to
// its canonical key. Duplicate keys are preserved in order.
func (n *Normalizer) TokenizeSentence(sentence string) []string {
	matches := wordTokenRe.FindAllString(sentence, -1)
	keys := make([]string, 0, len(matches))
	for _, tok := range matches {
		key := n.variantKey(tok, nil)
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Mode returns the matching mode this normalizer was built with.
func (n *Normalizer) Mode() Mode {
	return n.opts.Mode
}

// FoldDiacritics reports whether keys have diacritics folded.
func (n *Normalizer) FoldDiacritics() bool {
	return n.opts.FoldDiacritics
}

// stripWrapping removes surrounding whitespace, zero-width characters and
// quote marks (pipeline steps 1-2).
func (n *Normalizer) stripWrapping(s string) string {
	s = strings.Map(func(r rune) rune {
		if isZeroWidth(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, quoteCutset)
	return strings.TrimSpace(s)
}

// stripElision removes a leading French elision prefix from each token,
// so "l'homme" keys as "homme".
func (n *Normalizer) stripElision(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		straight := strings.ReplaceAll(f, "’", "'")
		lower := strings.ToLower(straight)
		for _, prefix := range elisionPrefixes {
			// Elision prefixes are ASCII, so the byte offset is valid on
			// the original-case token too.
			if strings.HasPrefix(lower, prefix) && len(straight) > len(prefix) {
				fields[i] = straight[len(prefix):]
				break
			}
		}
	}
	return strings.Join(fields, " ")
}

// foldDiacritics decomposes and drops combining marks.
func (n *Normalizer) foldDiacritics(s string) string {
	out, _, err := transform.String(n.deaccent, s)
	if err != nil {
		return s
	}
	return out
}

// headToken picks the first non-stop-word token of a multi-token variant,
// falling back to the first token when all are stop words.
func headToken(tokens []string) string {
	for _, tok := range tokens {
		if !IsStopWord(tok) {
			return tok
		}
	}
	return tokens[0]
}

// Fingerprint computes a stable sentence fingerprint: casefolded,
// whitespace-collapsed prefix of the first 100 characters. Used for
// overlap dedup during chunk merge and near-duplicate detection.
func Fingerprint(sentence string) string {
	folded := cases.Fold().String(sentence)
	collapsed := whitespaceRe.ReplaceAllString(strings.TrimSpace(folded), " ")
	runes := []rune(collapsed)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return string(runes)
}
