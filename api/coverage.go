package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/c360studio/phraseforge/export"
	"github.com/c360studio/phraseforge/storage"
)

// defaultPageSize bounds assignment pagination.
const defaultPageSize = 50

// StartCoverageRequest is the body of POST /coverage/run.
type StartCoverageRequest struct {
	Mode       string                  `json:"mode"`
	SourceType string                  `json:"source_type"`
	SourceID   string                  `json:"source_id"`
	WordListID string                  `json:"wordlist_id,omitempty"`
	Config     *storage.CoverageConfig `json:"config,omitempty"`
}

// handleStartCoverage validates and dispatches a coverage run.
func (s *Server) handleStartCoverage(w http.ResponseWriter, r *http.Request, userID string) {
	var req StartCoverageRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	run := &storage.CoverageRun{
		Owner:      userID,
		Mode:       storage.CoverageMode(req.Mode),
		SourceType: storage.CoverageSourceType(req.SourceType),
		SourceID:   req.SourceID,
		WordListID: req.WordListID,
	}
	if req.Config != nil {
		run.Config = *req.Config
	}

	created, taskID, err := s.coverage.StartRun(r.Context(), run)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeDomainError(w, err)
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"coverage_run": created,
		"task_id":      taskID,
	})
}

// handleListCoverageRuns returns the caller's runs, newest first.
func (s *Server) handleListCoverageRuns(w http.ResponseWriter, r *http.Request, userID string) {
	runs, err := s.coverage.Runs(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"coverage_runs": runs})
}

// CoverageRunResponse is the body of GET /coverage/runs/{id}.
type CoverageRunResponse struct {
	CoverageRun *storage.CoverageRun         `json:"coverage_run"`
	Assignments []storage.CoverageAssignment `json:"assignments,omitempty"`
	Selected    []storage.SelectedSentence   `json:"selected,omitempty"`
	Total       int                          `json:"total"`
	Page        int                          `json:"page"`
	PageSize    int                          `json:"page_size"`
}

// handleGetCoverageRun returns run status plus a page of its result.
// A run that has not produced a result yet returns an empty page.
func (s *Server) handleGetCoverageRun(w http.ResponseWriter, r *http.Request, userID string) {
	run := s.ownedRun(w, r, userID, r.PathValue("id"))
	if run == nil {
		return
	}

	page, pageSize := pageParams(r)
	resp := CoverageRunResponse{CoverageRun: run, Page: page, PageSize: pageSize}

	result, err := s.coverage.Result(r.Context(), run.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeDomainError(w, err)
		return
	}
	if result != nil {
		switch run.Mode {
		case storage.CoverageModeCover:
			resp.Total = len(result.Assignments)
			lo, hi := pageBounds(len(result.Assignments), page, pageSize)
			resp.Assignments = result.Assignments[lo:hi]
		case storage.CoverageModeFilter:
			resp.Total = len(result.Selected)
			lo, hi := pageBounds(len(result.Selected), page, pageSize)
			resp.Selected = result.Selected[lo:hi]
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// SwapRequest is the body of POST /coverage/runs/{id}/swap.
type SwapRequest struct {
	WordKey       string `json:"word_key"`
	SentenceIndex int    `json:"sentence_index"`
}

// handleSwapCoverage reassigns one word key to a different sentence.
func (s *Server) handleSwapCoverage(w http.ResponseWriter, r *http.Request, userID string) {
	run := s.ownedRun(w, r, userID, r.PathValue("id"))
	if run == nil {
		return
	}

	var req SwapRequest
	if err := decodeJSONBody(r, &req); err != nil || req.WordKey == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "word_key and sentence_index are required")
		return
	}

	result, err := s.coverage.Swap(r.Context(), run.ID, req.WordKey, req.SentenceIndex)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExportCoverage writes the run result as a workbook artifact.
func (s *Server) handleExportCoverage(w http.ResponseWriter, r *http.Request, userID string) {
	run, result, ok := s.runWithResult(w, r, userID)
	if !ok {
		return
	}

	workbook, _ := export.GetFormatInfo(export.FormatXLSX)
	url, err := s.writeExport(fmt.Sprintf("coverage-%s%s", run.ID, workbook.Extension), func(f *os.File) error {
		return export.CoverageXLSX(f, run, result)
	})
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "export_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleDownloadCoverage streams the run result as CSV.
func (s *Server) handleDownloadCoverage(w http.ResponseWriter, r *http.Request, userID string) {
	run, result, ok := s.runWithResult(w, r, userID)
	if !ok {
		return
	}

	csv, _ := export.GetFormatInfo(export.FormatCSV)
	w.Header().Set("Content-Type", csv.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=coverage-%s%s", run.ID, csv.Extension))
	if err := export.CoverageCSV(w, run, result); err != nil {
		s.logger.Error("CSV download failed", "run_id", run.ID, "error", err)
	}
}

// runWithResult loads an owned run and its result document.
func (s *Server) runWithResult(w http.ResponseWriter, r *http.Request, userID string) (*storage.CoverageRun, *storage.CoverageResult, bool) {
	run := s.ownedRun(w, r, userID, r.PathValue("id"))
	if run == nil {
		return nil, nil, false
	}
	result, err := s.coverage.Result(r.Context(), run.ID)
	if err != nil {
		writeDomainError(w, err)
		return nil, nil, false
	}
	return run, result, true
}

// pageParams reads page (1-based) and page_size query parameters.
func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if size < 1 || size > 1000 {
		size = defaultPageSize
	}
	return page, size
}

// pageBounds clamps a page window onto a slice of length n.
func pageBounds(n, page, size int) (int, int) {
	lo := (page - 1) * size
	if lo > n {
		lo = n
	}
	hi := lo + size
	if hi > n {
		hi = n
	}
	return lo, hi
}
