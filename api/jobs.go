package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/c360studio/phraseforge/dispatch"
	"github.com/c360studio/phraseforge/storage"
)

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	Filename   string                     `json:"filename,omitempty"`
	Settings   storage.ProcessingSettings `json:"settings"`
	MaxRetries int                        `json:"max_retries,omitempty"`
}

// handleCreateJob registers a pending job. The PDF itself arrives later
// via /process-pdf-async referencing the returned id.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request, userID string) {
	var req CreateJobRequest
	if err := decodeJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	job := &storage.Job{
		Owner:      userID,
		Filename:   req.Filename,
		Settings:   req.Settings,
		MaxRetries: req.MaxRetries,
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = s.cfg.Extract.MaxRetries
	}

	created, err := s.jobs.Create(r.Context(), job)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ProcessPDFResponse is the body of a successful POST /process-pdf-async.
type ProcessPDFResponse struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// handleProcessPDF accepts the multipart upload for a pre-created job,
// splits the PDF into chunks, persists them, and starts the orchestrator.
func (s *Server) handleProcessPDF(w http.ResponseWriter, r *http.Request, userID string) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed multipart request")
		return
	}

	jobID := r.FormValue("job_id")
	if jobID == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "job_id is required")
		return
	}
	job := s.ownedJob(w, r, userID, jobID)
	if job == nil {
		return
	}
	if job.State != storage.JobStatePending {
		writeJSONError(w, http.StatusConflict, "already_started", "job already started")
		return
	}

	file, header, err := r.FormFile("pdf_file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "pdf_file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "failed to read upload")
		return
	}

	doc, err := s.splitter.Parse(data)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_pdf", err.Error())
		return
	}
	specs := s.splitter.Split(doc)

	var settings *storage.ProcessingSettings
	if raw := r.FormValue("settings"); raw != "" {
		settings = &storage.ProcessingSettings{}
		if err := json.Unmarshal([]byte(raw), settings); err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed settings")
			return
		}
	}

	chunks := make([]*storage.Chunk, len(specs))
	for i, spec := range specs {
		chunks[i] = &storage.Chunk{
			JobID:      jobID,
			Index:      spec.Index,
			StartPage:  spec.StartPage,
			EndPage:    spec.EndPage,
			PageCount:  spec.PageCount,
			HasOverlap: spec.HasOverlap,
			Payload:    base64.StdEncoding.EncodeToString([]byte(spec.Text)),
			SizeBytes:  spec.SizeBytes,
			MaxRetries: job.MaxRetries,
		}
	}

	if err := s.chunks.CreateBatch(r.Context(), chunks); err != nil {
		writeDomainError(w, err)
		return
	}
	ephemeral := s.chunks.IsEphemeral(jobID)
	if ephemeral {
		s.logger.Warn("Chunk persistence degraded, rows held in process memory", "job_id", jobID)
	}

	if _, err := s.jobs.Mutate(r.Context(), jobID, func(j *storage.Job) error {
		j.Filename = header.Filename
		j.TotalChunks = len(chunks)
		j.CurrentStep = "Queued"
		j.Ephemeral = ephemeral
		if settings != nil {
			j.Settings = *settings
		}
		return nil
	}); err != nil {
		writeDomainError(w, err)
		return
	}

	taskID, err := s.orch.Start(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info("Job accepted",
		"job_id", jobID, "pages", doc.PageCount, "chunks", len(chunks), "task_id", taskID)
	writeJSON(w, http.StatusAccepted, ProcessPDFResponse{
		JobID:  jobID,
		TaskID: taskID,
		Status: "pending",
	})
}

// handleListJobs returns the caller's jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request, userID string) {
	jobs, err := s.jobs.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleGetJob returns the job row for polling.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, userID string) {
	job := s.ownedJob(w, r, userID, r.PathValue("id"))
	if job == nil {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a pending or processing job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, userID string) {
	job := s.ownedJob(w, r, userID, r.PathValue("id"))
	if job == nil {
		return
	}
	if _, err := s.orch.Cancel(r.Context(), job.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ChunksResponse is the body of GET /jobs/{id}/chunks.
type ChunksResponse struct {
	JobID  string           `json:"job_id"`
	Total  int              `json:"total"`
	Counts map[string]int   `json:"counts"`
	Chunks []*storage.Chunk `json:"chunks"`
}

// handleListChunks returns chunk-level detail plus summary counts.
// Payloads are stripped from the response.
func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request, userID string) {
	job := s.ownedJob(w, r, userID, r.PathValue("id"))
	if job == nil {
		return
	}

	chunks, err := s.chunks.ListByJob(r.Context(), job.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	counts := make(map[string]int)
	stripped := make([]*storage.Chunk, len(chunks))
	for i, chunk := range chunks {
		counts[string(chunk.State)]++
		c := *chunk
		c.Payload = ""
		stripped[i] = &c
	}

	writeJSON(w, http.StatusOK, ChunksResponse{
		JobID:  job.ID,
		Total:  len(chunks),
		Counts: counts,
		Chunks: stripped,
	})
}

// RetryChunksRequest is the body of POST /jobs/{id}/chunks/retry. An
// empty chunk_ids list targets every failed chunk.
type RetryChunksRequest struct {
	ChunkIDs []int `json:"chunk_ids,omitempty"`
	Force    bool  `json:"force,omitempty"`
}

// handleRetryChunks schedules a manual retry round for failed chunks.
// With force, chunks past their retry budget are eligible too.
func (s *Server) handleRetryChunks(w http.ResponseWriter, r *http.Request, userID string) {
	job := s.ownedJob(w, r, userID, r.PathValue("id"))
	if job == nil {
		return
	}

	var req RetryChunksRequest
	if err := decodeJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	chunks, err := s.chunks.ListByJob(r.Context(), job.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	wanted := make(map[int]bool, len(req.ChunkIDs))
	for _, index := range req.ChunkIDs {
		wanted[index] = true
	}

	var scheduled []*storage.Chunk
	for _, chunk := range chunks {
		if len(wanted) > 0 && !wanted[chunk.Index] {
			continue
		}
		if chunk.State != storage.ChunkStateFailed {
			continue
		}
		if _, ok, err := s.chunks.ScheduleRetry(r.Context(), job.ID, chunk.Index, req.Force); err != nil || !ok {
			continue
		}
		scheduled = append(scheduled, chunk)
	}
	if len(scheduled) == 0 {
		writeJSONError(w, http.StatusBadRequest, "no_eligible_chunks", "no chunks eligible for retry")
		return
	}

	tasks := make([]*dispatch.Task, len(scheduled))
	for i, chunk := range scheduled {
		tasks[i] = &dispatch.Task{
			Type:       dispatch.TaskProcessChunk,
			JobID:      job.ID,
			ChunkIndex: chunk.Index,
		}
	}
	groupID, err := s.coord.DispatchGroup(r.Context(), tasks, &dispatch.Task{
		Type:  dispatch.TaskFinalizeJob,
		JobID: job.ID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info("Manual retry dispatched",
		"job_id", job.ID, "chunks", len(scheduled), "force", req.Force, "group_id", groupID)
	writeJSON(w, http.StatusOK, map[string]any{
		"retried_count": len(scheduled),
		"group_id":      groupID,
	})
}
