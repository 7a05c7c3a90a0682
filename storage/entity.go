package storage

import (
	"time"

	"github.com/c360studio/phraseforge/normalize"
)

// JobState represents the lifecycle state of a Job or CoverageRun.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStatePartial    JobState = "partial"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

// IsTerminal reports whether the state is terminal. Once terminal, no Job
// field except history_id may change.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStatePartial, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// ChunkState represents the lifecycle state of a Chunk.
type ChunkState string

const (
	ChunkStatePending        ChunkState = "pending"
	ChunkStateProcessing     ChunkState = "processing"
	ChunkStateSuccess        ChunkState = "success"
	ChunkStateFailed         ChunkState = "failed"
	ChunkStateRetryScheduled ChunkState = "retry_scheduled"
)

// Symbolic chunk error codes. These are stable external contracts.
const (
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeNoText          = "NO_TEXT"
	ErrCodeAPIError        = "API_ERROR"
	ErrCodeRateLimit       = "RATE_LIMIT"
	ErrCodeProcessingError = "PROCESSING_ERROR"
)

// ProcessingSettings are the user-supplied settings for a Job.
type ProcessingSettings struct {
	// SentenceLength is the target sentence length in words.
	SentenceLength int `json:"sentence_length"`
	// ModelTier is the preferred model tier ("speed", "balanced", "quality").
	ModelTier string `json:"model_tier"`
	// IgnoreDialogue drops dialogue lines from the output.
	IgnoreDialogue bool `json:"ignore_dialogue"`
	// MinSentenceLength is the minimum accepted sentence length in words.
	MinSentenceLength int `json:"min_sentence_length"`
}

// Sentence is the structured sentence representation used everywhere past
// the extraction boundary.
type Sentence struct {
	Normalized string `json:"normalized"`
	Original   string `json:"original"`
}

// Job represents one asynchronous PDF-processing request.
type Job struct {
	ID              string             `json:"id"`
	Owner           string             `json:"owner"`
	Filename        string             `json:"filename"`
	Settings        ProcessingSettings `json:"settings"`
	State           JobState           `json:"state"`
	ProgressPercent int                `json:"progress_percent"`
	CurrentStep     string             `json:"current_step"`
	TotalChunks     int                `json:"total_chunks"`
	ProcessedChunks int                `json:"processed_chunks"`
	RetryRound      int                `json:"retry_round"`
	MaxRetries      int                `json:"max_retries"`
	// Ephemeral marks degraded persistence: chunk rows live in a
	// process-local store because bulk durable creation failed.
	Ephemeral       bool       `json:"ephemeral,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	TaskID          string     `json:"task_id,omitempty"`
	FinalizerTaskID string     `json:"finalizer_task_id,omitempty"`
	HistoryID       string     `json:"history_id,omitempty"`
	TokenCount      int        `json:"token_count,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ChunkResult is the structured outcome of a successful chunk.
type ChunkResult struct {
	Sentences      []Sentence `json:"sentences"`
	TokenCount     int        `json:"token_count"`
	StartPage      int        `json:"start_page"`
	EndPage        int        `json:"end_page"`
	FallbackMarker string     `json:"fallback_marker,omitempty"`
}

// Chunk is the durable unit of work for one Job. Its state is mutated only
// through ChunkStore transition methods; there are no setters.
type Chunk struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`
	Index      int    `json:"chunk_index"`
	StartPage  int    `json:"start_page"`
	EndPage    int    `json:"end_page"`
	PageCount  int    `json:"page_count"`
	HasOverlap bool   `json:"has_overlap"`
	// Payload is the base64-encoded page-range text. Exactly one of
	// Payload and PayloadURL is non-empty; both are write-once.
	Payload       string       `json:"payload,omitempty"`
	PayloadURL    string       `json:"payload_url,omitempty"`
	SizeBytes     int          `json:"file_size_bytes"`
	State         ChunkState   `json:"state"`
	Attempts      int          `json:"attempts"`
	MaxRetries    int          `json:"max_retries"`
	LastError     string       `json:"last_error,omitempty"`
	LastErrorCode string       `json:"last_error_code,omitempty"`
	Result        *ChunkResult `json:"result,omitempty"`
	TaskID        string       `json:"dispatched_task_id,omitempty"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// RetryEligible reports whether the chunk qualifies for an automatic
// retry round.
func (c *Chunk) RetryEligible() bool {
	return c.State == ChunkStateFailed && c.Attempts < c.MaxRetries
}

// History is the durable, user-visible record of a completed Job's outputs.
type History struct {
	ID            string             `json:"id"`
	Owner         string             `json:"owner"`
	JobID         string             `json:"job_id"`
	Filename      string             `json:"filename"`
	Sentences     []Sentence         `json:"sentences"`
	SentenceCount int                `json:"sentence_count"`
	ChunkIDs      []string           `json:"chunk_ids,omitempty"`
	Settings      ProcessingSettings `json:"settings"`
	Exported      bool               `json:"exported"`
	ExportURL     string             `json:"export_url,omitempty"`
	ErrorSummary  string             `json:"error_summary,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// WordList is an ordered, uniqued set of canonical word keys plus its
// ingestion report. Immutable except for rename and refresh from source.
type WordList struct {
	ID    string `json:"id"`
	Owner string `json:"owner,omitempty"` // empty = global
	Name  string `json:"name"`
	// SourceRows are the raw rows as uploaded, kept for refresh.
	SourceRows     []string                   `json:"source_rows"`
	Entries        []normalize.Entry          `json:"entries"`
	Report         *normalize.IngestionReport `json:"report"`
	Mode           normalize.Mode             `json:"mode"`
	FoldDiacritics bool                       `json:"fold_diacritics"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// Keys returns the ordered canonical keys of the word list.
func (w *WordList) Keys() []string {
	keys := make([]string, len(w.Entries))
	for i, e := range w.Entries {
		keys[i] = e.Key
	}
	return keys
}

// CoverageMode selects the coverage engine mode.
type CoverageMode string

const (
	CoverageModeCover  CoverageMode = "coverage"
	CoverageModeFilter CoverageMode = "filter"
)

// CoverageSourceType selects where a coverage run reads sentences from.
type CoverageSourceType string

const (
	CoverageSourceJob     CoverageSourceType = "job"
	CoverageSourceHistory CoverageSourceType = "history"
)

// CoverageConfig holds the knobs for both coverage engine modes.
type CoverageConfig struct {
	// Coverage (set-cover) mode.
	Alpha             float64 `json:"alpha"`
	Beta              float64 `json:"beta"`
	Gamma             float64 `json:"gamma"`
	TargetLength      int     `json:"target_length"`
	MaxSentences      int     `json:"max_sentences"`
	PreferNonDialogue bool    `json:"prefer_non_dialogue"`

	// Filter mode.
	MinInListRatio float64 `json:"min_in_list_ratio"`
	LenMin         int     `json:"len_min"`
	LenMax         int     `json:"len_max"`
	TargetCount    int     `json:"target_count"`
}

// DefaultCoverageConfig returns the documented defaults for both modes.
func DefaultCoverageConfig() CoverageConfig {
	return CoverageConfig{
		Alpha:          0.5,
		Beta:           0.3,
		Gamma:          0.2,
		TargetLength:   6,
		MaxSentences:   1000,
		MinInListRatio: 0.95,
		LenMin:         4,
		LenMax:         8,
		TargetCount:    500,
	}
}

// CoverageStats summarizes a finished coverage run.
type CoverageStats struct {
	TotalSentences  int      `json:"total_sentences"`
	TotalWords      int      `json:"total_words"`
	CoveredWords    int      `json:"covered_words"`
	UncoveredWords  []string `json:"uncovered_words,omitempty"`
	SelectedCount   int      `json:"selected_count"`
	AcceptanceRatio float64  `json:"acceptance_ratio"`
	Shortfall       int      `json:"shortfall,omitempty"`
	RuntimeMs       int64    `json:"runtime_ms"`
	// SourceState records the source job's terminal state; runs over a
	// partial job carry that caveat here.
	SourceState string `json:"source_state,omitempty"`
}

// CoverageRun is one execution of the coverage engine.
type CoverageRun struct {
	ID              string             `json:"id"`
	Owner           string             `json:"owner"`
	Mode            CoverageMode       `json:"mode"`
	SourceType      CoverageSourceType `json:"source_type"`
	SourceID        string             `json:"source_id"`
	WordListID      string             `json:"wordlist_id,omitempty"`
	Config          CoverageConfig     `json:"config"`
	State           JobState           `json:"state"`
	ProgressPercent int                `json:"progress_percent"`
	CurrentStep     string             `json:"current_step"`
	Stats           *CoverageStats     `json:"stats,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	TaskID          string             `json:"task_id,omitempty"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// CoverageAssignment maps one word key to its covering sentence
// (coverage mode). Unique by (run_id, word_key).
type CoverageAssignment struct {
	WordKey        string   `json:"word_key"`
	SentenceIndex  int      `json:"sentence_index"`
	SentenceText   string   `json:"sentence_text"`
	SentenceScore  float64  `json:"sentence_score"`
	MatchedSurface string   `json:"matched_surface,omitempty"`
	Conflicts      []string `json:"conflicts,omitempty"`
}

// SelectedSentence is one ranked pick of a filter-mode run.
type SelectedSentence struct {
	SentenceIndex int     `json:"sentence_index"`
	Text          string  `json:"text"`
	TokenCount    int     `json:"token_count"`
	InListRatio   float64 `json:"in_list_ratio"`
	Score         float64 `json:"score"`
	Pass          int     `json:"pass"`
}

// CoverageResult is the persisted output of a coverage run: assignments
// for coverage mode, selected sentences for filter mode.
type CoverageResult struct {
	RunID       string               `json:"run_id"`
	Assignments []CoverageAssignment `json:"assignments,omitempty"`
	Selected    []SelectedSentence   `json:"selected,omitempty"`
}
