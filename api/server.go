// Package api serves the HTTP/JSON interface: job submission and
// lifecycle, history reads and exports, word-list CRUD, coverage runs,
// and Prometheus metrics. Authentication is bearer-token based; every
// endpoint except /metrics requires a verified user.
package api

import (
	"log/slog"
	"net/http"

	"github.com/c360studio/phraseforge/config"
	"github.com/c360studio/phraseforge/coverage"
	"github.com/c360studio/phraseforge/dispatch"
	"github.com/c360studio/phraseforge/history"
	"github.com/c360studio/phraseforge/metrics"
	"github.com/c360studio/phraseforge/orchestrate"
	"github.com/c360studio/phraseforge/pdfsplit"
	"github.com/c360studio/phraseforge/storage"
)

const (
	// maxRequestBodySize limits JSON POST bodies.
	maxRequestBodySize = 1 << 20 // 1 MB
	// maxUploadSize limits PDF uploads.
	maxUploadSize = 100 << 20 // 100 MB
)

// Deps bundles the collaborators the server dispatches into.
type Deps struct {
	Verifier  TokenVerifier
	Jobs      *storage.JobStore
	Chunks    *storage.ChunkStore
	Orch      *orchestrate.Orchestrator
	Coord     *dispatch.Coordinator
	Histories *history.Service
	WordLists *storage.WordListStore
	Coverage  *coverage.Service
	Splitter  *pdfsplit.Splitter
	Metrics   *metrics.Metrics
	// Hub is the websocket progress hub, mounted at /ws. Nil disables it.
	Hub http.Handler
}

// Server is the HTTP API.
type Server struct {
	cfg       *config.Config
	verifier  TokenVerifier
	jobs      *storage.JobStore
	chunks    *storage.ChunkStore
	orch      *orchestrate.Orchestrator
	coord     *dispatch.Coordinator
	histories *history.Service
	wordlists *storage.WordListStore
	coverage  *coverage.Service
	splitter  *pdfsplit.Splitter
	metrics   *metrics.Metrics
	hub       http.Handler
	logger    *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		verifier:  deps.Verifier,
		jobs:      deps.Jobs,
		chunks:    deps.Chunks,
		orch:      deps.Orch,
		coord:     deps.Coord,
		histories: deps.Histories,
		wordlists: deps.WordLists,
		coverage:  deps.Coverage,
		splitter:  deps.Splitter,
		metrics:   deps.Metrics,
		hub:       deps.Hub,
		logger:    logger,
	}
}

// Routes builds the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /jobs", s.auth(s.handleCreateJob))
	mux.HandleFunc("POST /process-pdf-async", s.auth(s.handleProcessPDF))
	mux.HandleFunc("GET /jobs", s.auth(s.handleListJobs))
	mux.HandleFunc("GET /jobs/{id}", s.auth(s.handleGetJob))
	mux.HandleFunc("POST /jobs/{id}/cancel", s.auth(s.handleCancelJob))
	mux.HandleFunc("GET /jobs/{id}/chunks", s.auth(s.handleListChunks))
	mux.HandleFunc("POST /jobs/{id}/chunks/retry", s.auth(s.handleRetryChunks))

	mux.HandleFunc("GET /history", s.auth(s.handleListHistory))
	mux.HandleFunc("GET /history/{id}", s.auth(s.handleGetHistory))
	mux.HandleFunc("DELETE /history/{id}", s.auth(s.handleDeleteHistory))
	mux.HandleFunc("POST /history/{id}/refresh", s.auth(s.handleRefreshHistory))
	mux.HandleFunc("POST /history/{id}/export", s.auth(s.handleExportHistory))

	mux.HandleFunc("GET /wordlists", s.auth(s.handleListWordLists))
	mux.HandleFunc("POST /wordlists", s.auth(s.handleCreateWordList))
	mux.HandleFunc("GET /wordlists/{id}", s.auth(s.handleGetWordList))
	mux.HandleFunc("PATCH /wordlists/{id}", s.auth(s.handleRenameWordList))
	mux.HandleFunc("DELETE /wordlists/{id}", s.auth(s.handleDeleteWordList))
	mux.HandleFunc("POST /wordlists/{id}/refresh", s.auth(s.handleRefreshWordList))

	mux.HandleFunc("POST /coverage/run", s.auth(s.handleStartCoverage))
	mux.HandleFunc("GET /coverage/runs", s.auth(s.handleListCoverageRuns))
	mux.HandleFunc("GET /coverage/runs/{id}", s.auth(s.handleGetCoverageRun))
	mux.HandleFunc("POST /coverage/runs/{id}/swap", s.auth(s.handleSwapCoverage))
	mux.HandleFunc("POST /coverage/runs/{id}/export", s.auth(s.handleExportCoverage))
	mux.HandleFunc("GET /coverage/runs/{id}/download", s.auth(s.handleDownloadCoverage))

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}

	return mux
}

// ownedJob loads a job and enforces ownership. A nil return means the
// response has been written.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request, userID, jobID string) *storage.Job {
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return nil
	}
	if job.Owner != userID {
		writeJSONError(w, http.StatusForbidden, "forbidden", "not the job owner")
		return nil
	}
	return job
}

// ownedHistory loads a history entry and enforces ownership.
func (s *Server) ownedHistory(w http.ResponseWriter, r *http.Request, userID, historyID string) *storage.History {
	entry, err := s.histories.Get(r.Context(), historyID)
	if err != nil {
		writeDomainError(w, err)
		return nil
	}
	if entry.Owner != userID {
		writeJSONError(w, http.StatusForbidden, "forbidden", "not the history owner")
		return nil
	}
	return entry
}

// ownedRun loads a coverage run and enforces ownership.
func (s *Server) ownedRun(w http.ResponseWriter, r *http.Request, userID, runID string) *storage.CoverageRun {
	run, err := s.coverage.Run(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return nil
	}
	if run.Owner != userID {
		writeJSONError(w, http.StatusForbidden, "forbidden", "not the run owner")
		return nil
	}
	return run
}
