package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/c360studio/phraseforge/storage"
)

// sentenceSheet is the workbook sheet name for sentence exports.
const sentenceSheet = "Sentences"

// SentencesXLSX writes a history's sentences as a workbook: one row per
// sentence with its normalized and original form.
func SentencesXLSX(w io.Writer, entry *storage.History) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sentenceSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	header := []interface{}{"#", "Normalized", "Original"}
	if err := f.SetSheetRow(sentenceSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, sentence := range entry.Sentences {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		row := []interface{}{i + 1, sentence.Normalized, sentence.Original}
		if err := f.SetSheetRow(sentenceSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SentencesCSV writes a history's sentences as CSV.
func SentencesCSV(w io.Writer, entry *storage.History) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "normalized", "original"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, sentence := range entry.Sentences {
		record := []string{fmt.Sprintf("%d", i+1), sentence.Normalized, sentence.Original}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
