package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/c360studio/phraseforge/storage"
)

const (
	assignmentSheet = "Assignments"
	selectionSheet  = "Selection"
	statsSheet      = "Stats"
)

// CoverageXLSX writes a coverage run and its result as a workbook:
// assignments or selected sentences depending on mode, plus a stats
// sheet.
func CoverageXLSX(w io.Writer, run *storage.CoverageRun, result *storage.CoverageResult) error {
	f := excelize.NewFile()
	defer f.Close()

	switch run.Mode {
	case storage.CoverageModeCover:
		if err := writeAssignments(f, result.Assignments); err != nil {
			return err
		}
	case storage.CoverageModeFilter:
		if err := writeSelection(f, result.Selected); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown coverage mode %q", run.Mode)
	}

	if run.Stats != nil {
		if err := writeStats(f, run.Stats); err != nil {
			return err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeAssignments(f *excelize.File, assignments []storage.CoverageAssignment) error {
	index, err := f.NewSheet(assignmentSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	header := []interface{}{"Word", "Sentence #", "Sentence", "Score", "Conflicts"}
	if err := f.SetSheetRow(assignmentSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, assignment := range assignments {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		row := []interface{}{
			assignment.WordKey,
			assignment.SentenceIndex + 1,
			assignment.SentenceText,
			assignment.SentenceScore,
			len(assignment.Conflicts),
		}
		if err := f.SetSheetRow(assignmentSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	return nil
}

func writeSelection(f *excelize.File, selected []storage.SelectedSentence) error {
	index, err := f.NewSheet(selectionSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	header := []interface{}{"Rank", "Sentence", "Tokens", "In-list ratio", "Score", "Pass"}
	if err := f.SetSheetRow(selectionSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, sentence := range selected {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		row := []interface{}{
			i + 1,
			sentence.Text,
			sentence.TokenCount,
			sentence.InListRatio,
			sentence.Score,
			sentence.Pass,
		}
		if err := f.SetSheetRow(selectionSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	return nil
}

func writeStats(f *excelize.File, stats *storage.CoverageStats) error {
	if _, err := f.NewSheet(statsSheet); err != nil {
		return fmt.Errorf("create stats sheet: %w", err)
	}
	rows := [][]interface{}{
		{"Total sentences", stats.TotalSentences},
		{"Total words", stats.TotalWords},
		{"Covered words", stats.CoveredWords},
		{"Selected", stats.SelectedCount},
		{"Acceptance ratio", stats.AcceptanceRatio},
		{"Shortfall", stats.Shortfall},
		{"Runtime (ms)", stats.RuntimeMs},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("stats row %d: %w", i, err)
		}
		r := row
		if err := f.SetSheetRow(statsSheet, cell, &r); err != nil {
			return fmt.Errorf("write stats row %d: %w", i, err)
		}
	}
	return nil
}

// CoverageCSV writes a coverage run's result as CSV: assignments for
// coverage mode, the ranked selection for filter mode.
func CoverageCSV(w io.Writer, run *storage.CoverageRun, result *storage.CoverageResult) error {
	cw := csv.NewWriter(w)

	switch run.Mode {
	case storage.CoverageModeCover:
		if err := cw.Write([]string{"word", "sentence_index", "sentence", "score"}); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, assignment := range result.Assignments {
			record := []string{
				assignment.WordKey,
				strconv.Itoa(assignment.SentenceIndex + 1),
				assignment.SentenceText,
				strconv.FormatFloat(assignment.SentenceScore, 'f', 3, 64),
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write assignment: %w", err)
			}
		}
	case storage.CoverageModeFilter:
		if err := cw.Write([]string{"rank", "sentence", "tokens", "in_list_ratio", "score", "pass"}); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for i, sentence := range result.Selected {
			record := []string{
				strconv.Itoa(i + 1),
				sentence.Text,
				strconv.Itoa(sentence.TokenCount),
				strconv.FormatFloat(sentence.InListRatio, 'f', 3, 64),
				strconv.FormatFloat(sentence.Score, 'f', 3, 64),
				strconv.Itoa(sentence.Pass),
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write selection: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown coverage mode %q", run.Mode)
	}

	cw.Flush()
	return cw.Error()
}
