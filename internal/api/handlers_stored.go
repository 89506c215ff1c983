package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/callgest/internal/results"
	"github.com/dgallion1/callgest/internal/store"
)

// handleListStored lists transcripts persisted in the database.
func (s *Server) handleListStored(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "database not configured", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.store.Transcripts(r.Context(), limit)
	if err != nil {
		jsonError(w, "failed to list transcripts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []store.TranscriptRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"transcripts": list})
}

// storedRows reads a transcript's rows from the database, or from pathstore
// when no database is configured. ok is false when neither is available.
func (s *Server) storedRows(ctx context.Context, id string) (rows []results.Row, ok bool, err error) {
	switch {
	case s.store != nil:
		rows, err = s.store.Rows(ctx, id)
	case s.remote != nil:
		rows, err = s.remote.TranscriptRows(ctx, s.cfg.PathstorePrefix, id)
	default:
		return nil, false, nil
	}
	return rows, true, err
}

// handleStoredRows returns the stored rows of one transcript.
func (s *Server) handleStoredRows(w http.ResponseWriter, r *http.Request) {
	rows, ok, err := s.storedRows(r.Context(), chi.URLParam(r, "transcriptID"))
	if !ok {
		jsonError(w, "no transcript store configured", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		jsonError(w, "failed to load rows: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		jsonError(w, "transcript not found", http.StatusNotFound)
		return
	}
	writeRows(w, r, rows)
}
