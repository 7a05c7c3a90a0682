package normalize

// HeadExtraction records a multi-token variant reduced to its head token.
type HeadExtraction struct {
	// Original is the multi-token variant as ingested.
	Original string `json:"original"`
	// Head is the token selected as the matching key base.
	Head string `json:"head"`
}

// IngestionReport summarizes what happened during word-list ingestion.
// The normalizer records anomalies instead of failing on them.
type IngestionReport struct {
	// OriginalCount is the number of raw rows ingested.
	OriginalCount int `json:"original_count"`
	// UniqueCount is the number of entries surviving dedup.
	UniqueCount int `json:"unique_count"`
	// VariantsExpanded counts variants produced from multi-variant rows
	// (rows containing |, / or ,).
	VariantsExpanded int `json:"variants_expanded"`
	// Duplicates lists the original forms dropped as duplicate keys.
	Duplicates []string `json:"duplicates,omitempty"`
	// MultiTokenHeads lists multi-token head extractions.
	MultiTokenHeads []HeadExtraction `json:"multi_token_heads,omitempty"`
	// Anomalies lists rows or variants that produced no key.
	Anomalies []string `json:"anomalies,omitempty"`
	// LemmaFallbacks counts entries keyed on the surface form because
	// no lemmatizer was available.
	LemmaFallbacks int `json:"lemma_fallbacks"`
}

// NewIngestionReport creates a report for a run over n raw rows.
func NewIngestionReport(n int) *IngestionReport {
	return &IngestionReport{OriginalCount: n}
}

// DuplicateCount returns the number of dropped duplicate entries.
func (r *IngestionReport) DuplicateCount() int {
	return len(r.Duplicates)
}
