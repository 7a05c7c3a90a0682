package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/c360studio/phraseforge/storage"
)

func testHistory() *storage.History {
	return &storage.History{
		ID:       "hist-1",
		Filename: "roman.pdf",
		Sentences: []storage.Sentence{
			{Normalized: "Le chat dort.", Original: "Le chat dort."},
			{Normalized: "Il pleut, encore.", Original: "Il pleut, encore."},
		},
		SentenceCount: 2,
	}
}

func TestSentencesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SentencesCSV(&buf, testHistory()))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"index", "normalized", "original"}, records[0])
	assert.Equal(t, "Le chat dort.", records[1][1])
	assert.Equal(t, "Il pleut, encore.", records[2][2])
}

func TestSentencesXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SentencesXLSX(&buf, testHistory()))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sentenceSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Normalized", rows[0][1])
	assert.Equal(t, "Le chat dort.", rows[1][1])
}

func coverageFixture(mode storage.CoverageMode) (*storage.CoverageRun, *storage.CoverageResult) {
	run := &storage.CoverageRun{
		ID:   "run-1",
		Mode: mode,
		Stats: &storage.CoverageStats{
			TotalSentences: 3,
			TotalWords:     4,
			CoveredWords:   4,
			SelectedCount:  2,
		},
	}
	result := &storage.CoverageResult{
		RunID: "run-1",
		Assignments: []storage.CoverageAssignment{
			{WordKey: "chat", SentenceIndex: 0, SentenceText: "Le chat mange.", SentenceScore: 0.7},
			{WordKey: "chien", SentenceIndex: 1, SentenceText: "Le chien dort.", SentenceScore: 0.7},
		},
		Selected: []storage.SelectedSentence{
			{SentenceIndex: 1, Text: "Le chat mange bien.", TokenCount: 4, InListRatio: 1.0, Score: 10.5, Pass: 1},
		},
	}
	return run, result
}

func TestCoverageCSVCoverMode(t *testing.T) {
	run, result := coverageFixture(storage.CoverageModeCover)

	var buf bytes.Buffer
	require.NoError(t, CoverageCSV(&buf, run, result))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "chat", records[1][0])
	assert.Equal(t, "1", records[1][1], "indices are 1-based in exports")
}

func TestCoverageCSVFilterMode(t *testing.T) {
	run, result := coverageFixture(storage.CoverageModeFilter)

	var buf bytes.Buffer
	require.NoError(t, CoverageCSV(&buf, run, result))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Le chat mange bien.", records[1][1])
	assert.Equal(t, "1", records[1][5])
}

func TestCoverageXLSX(t *testing.T) {
	run, result := coverageFixture(storage.CoverageModeCover)

	var buf bytes.Buffer
	require.NoError(t, CoverageXLSX(&buf, run, result))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(assignmentSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "chat", rows[1][0])

	stats, err := f.GetRows(statsSheet)
	require.NoError(t, err)
	assert.NotEmpty(t, stats)
}

func TestCoverageUnknownMode(t *testing.T) {
	run, result := coverageFixture("ranking")
	var buf bytes.Buffer
	assert.Error(t, CoverageCSV(&buf, run, result))
	assert.Error(t, CoverageXLSX(&buf, run, result))
}

func TestFormatRegistry(t *testing.T) {
	info, ok := GetFormatInfo(FormatCSV)
	require.True(t, ok)
	assert.Equal(t, "text/csv", info.MIMEType)

	_, ok = GetFormatInfo("pdf")
	assert.False(t, ok)
}
