package api

import (
	"encoding/json"
	"net/http"

	"github.com/dgallion1/callgest/internal/meta"
	"github.com/dgallion1/callgest/internal/segment"
)

type segmentRequest struct {
	Text string `json:"text"`

	// Filename, when set, adds filename metadata to the response.
	Filename string `json:"filename,omitempty"`

	// MaxBlockChars overrides the configured cap; 0 keeps it, negative
	// disables truncation.
	MaxBlockChars int `json:"max_block_chars,omitempty"`
}

type segmentResponse struct {
	segment.Result
	Meta *meta.Meta `json:"meta,omitempty"`
}

// handleSegment segments posted text synchronously without classification.
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req segmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}

	limit := s.cfg.MaxBlockChars
	if req.MaxBlockChars != 0 {
		limit = req.MaxBlockChars
	}

	resp := segmentResponse{Result: segment.Segment(req.Text, limit)}
	if resp.Blocks == nil {
		resp.Blocks = []segment.Block{}
	}
	if req.Filename != "" {
		m := meta.FromFilename(meta.StripExt(req.Filename))
		resp.Meta = &m
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
