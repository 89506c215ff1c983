package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/callgest/internal/config"
	"github.com/dgallion1/callgest/internal/pathstore"
	"github.com/dgallion1/callgest/internal/pipeline"
	"github.com/dgallion1/callgest/internal/sentiment"
	"github.com/dgallion1/callgest/internal/store"
)

// Server is the HTTP API server for callgest.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	store        *store.Store
	remote       *pathstore.Client
	stats        *sentiment.LLMStats
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. st, remote and stats may
// be nil; stored rows are read from st when set, otherwise from remote.
func NewServer(orch *pipeline.Orchestrator, st *store.Store, remote *pathstore.Client, stats *sentiment.LLMStats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		store:        st,
		remote:       remote,
		stats:        stats,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/transcripts", s.handleSubmit)
		r.Post("/api/transcripts/batch", s.handleBatchSubmit)
		r.Get("/api/transcripts/{jobID}/status", s.handleStatus)
		r.Get("/api/transcripts/{jobID}/rows", s.handleRows)
		r.Get("/api/transcripts/{jobID}/summary", s.handleSummary)
		r.Get("/api/transcripts/{jobID}/stream", s.handleStream)

		r.Post("/api/segment", s.handleSegment)
		r.Get("/api/stats/llm", s.handleLLMStats)

		r.Get("/api/stored", s.handleListStored)
		r.Get("/api/stored/{transcriptID}/rows", s.handleStoredRows)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
