package api

import (
	"net/http"

	"github.com/c360studio/phraseforge/normalize"
	"github.com/c360studio/phraseforge/storage"
)

// CreateWordListRequest is the body of POST /wordlists.
type CreateWordListRequest struct {
	Name string   `json:"name"`
	Rows []string `json:"rows"`
	// Mode selects lemma or surface matching (default lemma).
	Mode string `json:"mode,omitempty"`
	// FoldDiacritics overrides the configured default when set.
	FoldDiacritics *bool `json:"fold_diacritics,omitempty"`
}

// handleListWordLists returns the caller's lists plus global ones.
func (s *Server) handleListWordLists(w http.ResponseWriter, r *http.Request, userID string) {
	lists, err := s.wordlists.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wordlists": lists})
}

// handleCreateWordList ingests raw rows into a new word list. The
// ingestion report travels back with the created list.
func (s *Server) handleCreateWordList(w http.ResponseWriter, r *http.Request, userID string) {
	var req CreateWordListRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	if req.Name == "" || len(req.Rows) == 0 {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "name and rows are required")
		return
	}

	fold := s.cfg.Normalize.FoldDiacritics
	if req.FoldDiacritics != nil {
		fold = *req.FoldDiacritics
	}
	n := normalize.New(normalize.Options{
		Mode:           normalize.ParseMode(req.Mode),
		FoldDiacritics: fold,
	}, normalize.NewDictLemmatizer())

	list, err := s.wordlists.Ingest(r.Context(), userID, req.Name, req.Rows, n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

// handleGetWordList returns one list; global lists are readable by all.
func (s *Server) handleGetWordList(w http.ResponseWriter, r *http.Request, userID string) {
	list := s.readableWordList(w, r, userID)
	if list == nil {
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleRenameWordList renames a list the caller owns.
func (s *Server) handleRenameWordList(w http.ResponseWriter, r *http.Request, userID string) {
	list := s.editableWordList(w, r, userID)
	if list == nil {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSONBody(r, &req); err != nil || req.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	renamed, err := s.wordlists.Rename(r.Context(), list.ID, req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renamed)
}

// handleDeleteWordList deletes a list the caller owns.
func (s *Server) handleDeleteWordList(w http.ResponseWriter, r *http.Request, userID string) {
	list := s.editableWordList(w, r, userID)
	if list == nil {
		return
	}
	if err := s.wordlists.Delete(r.Context(), list.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleRefreshWordList re-ingests the stored source rows with the
// list's own normalization settings, refreshing keys and the report.
func (s *Server) handleRefreshWordList(w http.ResponseWriter, r *http.Request, userID string) {
	list := s.editableWordList(w, r, userID)
	if list == nil {
		return
	}

	var lemmatizer normalize.Lemmatizer
	if list.Mode == normalize.ModeLemma {
		lemmatizer = normalize.NewDictLemmatizer()
	}
	n := normalize.New(normalize.Options{
		Mode:           list.Mode,
		FoldDiacritics: list.FoldDiacritics,
	}, lemmatizer)

	refreshed, err := s.wordlists.Refresh(r.Context(), list.ID, n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshed)
}

// readableWordList loads a list readable by the caller: their own or a
// global one.
func (s *Server) readableWordList(w http.ResponseWriter, r *http.Request, userID string) *storage.WordList {
	list, err := s.wordlists.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return nil
	}
	if list.Owner != "" && list.Owner != userID {
		writeJSONError(w, http.StatusForbidden, "forbidden", "not the word list owner")
		return nil
	}
	return list
}

// editableWordList loads a list the caller may modify. Global lists are
// read-only through the API.
func (s *Server) editableWordList(w http.ResponseWriter, r *http.Request, userID string) *storage.WordList {
	list, err := s.wordlists.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return nil
	}
	if list.Owner != userID {
		writeJSONError(w, http.StatusForbidden, "forbidden", "not the word list owner")
		return nil
	}
	return list
}
