package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/c360studio/phraseforge/export"
	"github.com/c360studio/phraseforge/storage"
)

// HistoryResponse wraps a history entry with its sentence source.
type HistoryResponse struct {
	*storage.History
	SentencesSource string `json:"sentences_source"`
}

// handleListHistory returns the caller's history entries.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request, userID string) {
	entries, err := s.histories.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"histories": entries})
}

// handleGetHistory returns one entry. With use_live (the default),
// sentences are rebuilt from current chunk state when possible.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request, userID string) {
	entry := s.ownedHistory(w, r, userID, r.PathValue("id"))
	if entry == nil {
		return
	}

	view, err := s.histories.Read(r.Context(), entry.ID, useLiveParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		History:         view.History,
		SentencesSource: view.Source,
	})
}

// handleDeleteHistory removes an entry.
func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request, userID string) {
	entry := s.ownedHistory(w, r, userID, r.PathValue("id"))
	if entry == nil {
		return
	}
	if err := s.histories.Delete(r.Context(), entry.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleRefreshHistory rebuilds the stored snapshot from current chunks.
func (s *Server) handleRefreshHistory(w http.ResponseWriter, r *http.Request, userID string) {
	entry := s.ownedHistory(w, r, userID, r.PathValue("id"))
	if entry == nil {
		return
	}

	refreshed, err := s.histories.Refresh(r.Context(), entry.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sentences_count": refreshed.SentenceCount,
		"entry":           refreshed,
	})
}

// handleExportHistory writes the entry's sentences as a workbook in the
// configured export directory. Export failures surface as 502: the
// spreadsheet layer is an external collaborator from the API's view.
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request, userID string) {
	entry := s.ownedHistory(w, r, userID, r.PathValue("id"))
	if entry == nil {
		return
	}

	view, err := s.histories.Read(r.Context(), entry.ID, useLiveParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	workbook, _ := export.GetFormatInfo(export.FormatXLSX)
	url, err := s.writeExport(fmt.Sprintf("history-%s%s", entry.ID, workbook.Extension), func(f *os.File) error {
		return export.SentencesXLSX(f, view.History)
	})
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "export_failed", err.Error())
		return
	}

	if _, err := s.histories.MarkExported(r.Context(), entry.ID, url); err != nil {
		s.logger.Warn("Failed to record export on history", "history_id", entry.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"url":              url,
		"sentences_source": view.Source,
		"sentences_count":  view.History.SentenceCount,
	})
}

// writeExport creates an artifact file in the export directory and runs
// the writer against it, returning a file URL.
func (s *Server) writeExport(name string, write func(*os.File) error) (string, error) {
	dir := s.cfg.Export.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs, nil
}

// useLiveParam reads the use_live query parameter, default true.
func useLiveParam(r *http.Request) bool {
	switch r.URL.Query().Get("use_live") {
	case "false", "0":
		return false
	default:
		return true
	}
}
