package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/callgest/internal/parser"
	"github.com/dgallion1/callgest/internal/pipeline"
	"github.com/dgallion1/callgest/internal/results"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	file.Close()

	job, status, err := s.jobFromUpload(header)
	if err != nil {
		jsonError(w, err.Error(), status)
		return
	}
	job.Title = r.FormValue("title")

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(submitted(job))
}

func (s *Server) handleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	var out []map[string]any
	for _, fh := range files {
		job, _, err := s.jobFromUpload(fh)
		if err != nil {
			out = append(out, map[string]any{
				"filename": sanitizeFilename(fh.Filename),
				"error":    err.Error(),
			})
			continue
		}
		if err := s.orchestrator.Submit(job); err != nil {
			out = append(out, map[string]any{
				"filename": job.Filename,
				"error":    err.Error(),
			})
			continue
		}
		out = append(out, submitted(job))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"jobs": out})
}

// jobFromUpload reads one uploaded file into a queued job. The returned
// status code applies when err is non-nil.
func (s *Server) jobFromUpload(fh *multipart.FileHeader) (*pipeline.Job, int, error) {
	filename := sanitizeFilename(fh.Filename)
	if !parser.IsSupportedExtension(filename) {
		return nil, http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}

	f, err := fh.Open()
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to open file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to read file")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)
	}
	return pipeline.NewJob(filename, data), 0, nil
}

func submitted(job *pipeline.Job) map[string]any {
	return map[string]any{
		"filename": job.Filename,
		"job_id":   job.ID,
		"status":   job.Status,
		"poll_url": fmt.Sprintf("/api/transcripts/%s/status", job.ID),
	}
}

func (s *Server) jobOr404(w http.ResponseWriter, r *http.Request) *pipeline.Job {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
	}
	return job
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobOr404(w, r)
	if job == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

// jobRows returns the rows of a finished job. Duplicate jobs read the rows of
// the transcript they matched from the database or pathstore.
func (s *Server) jobRows(r *http.Request, job *pipeline.Job) ([]results.Row, error) {
	snap := job.Snapshot()
	if snap.Status == pipeline.StatusDupSkipped && snap.TranscriptID != "" {
		if rows, ok, err := s.storedRows(r.Context(), snap.TranscriptID); ok {
			return rows, err
		}
	}
	return job.Rows(), nil
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	job := s.jobOr404(w, r)
	if job == nil {
		return
	}
	if !job.Snapshot().Status.Terminal() {
		jsonError(w, "job still running", http.StatusConflict)
		return
	}
	rows, err := s.jobRows(r, job)
	if err != nil {
		jsonError(w, "failed to load rows: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeRows(w, r, rows)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	job := s.jobOr404(w, r)
	if job == nil {
		return
	}
	if !job.Snapshot().Status.Terminal() {
		jsonError(w, "job still running", http.StatusConflict)
		return
	}
	rows, err := s.jobRows(r, job)
	if err != nil {
		jsonError(w, "failed to load rows: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results.Summarize(rows))
}

// writeRows renders rows as JSON, or CSV when ?format=csv.
func writeRows(w http.ResponseWriter, r *http.Request, rows []results.Row) {
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		cw := results.NewCSVWriter(w)
		if err := cw.Write(rows...); err != nil {
			return
		}
		cw.Close()
		return
	}
	if rows == nil {
		rows = []results.Row{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"rows": rows})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
