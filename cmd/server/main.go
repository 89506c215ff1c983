package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/callgest/internal/api"
	"github.com/dgallion1/callgest/internal/config"
	"github.com/dgallion1/callgest/internal/pathstore"
	"github.com/dgallion1/callgest/internal/pipeline"
	"github.com/dgallion1/callgest/internal/sentiment"
	"github.com/dgallion1/callgest/internal/store"
	"github.com/dgallion1/callgest/internal/watch"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize classifier.
	stats := sentiment.NewLLMStats(cfg.StatsWindow)
	key, err := cfg.ClassifierKey()
	if err != nil {
		log.Error("invalid classifier configuration", "error", err)
		os.Exit(1)
	}
	classifier, err := sentiment.New(cfg.SentimentProvider, key, cfg.ClassifierModel(), cfg.Temperature, stats)
	if err != nil {
		log.Error("invalid classifier configuration", "error", err)
		os.Exit(1)
	}
	if classifier == nil {
		log.Warn("sentiment provider disabled, rows will carry no scores")
	}

	// Optional sinks. Interfaces stay nil when a sink is disabled.
	var (
		db     *store.Store
		ts     pipeline.TranscriptStore
		sink   pipeline.RowSink
		remote *pathstore.Client
	)
	if cfg.DBDSN != "" {
		db, err = store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			log.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
			os.Exit(1)
		}
		ts = db
		log.Info("database enabled", "driver", cfg.DBDriver)
	}
	if cfg.PathstoreEnabled() {
		remote = pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)
		sink = remote
		log.Info("pathstore sink enabled", "prefix", cfg.PathstorePrefix)
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, classifier, ts, sink, log)
	orch.Start(ctx)

	if cfg.WatchDir != "" {
		w := watch.New(cfg.WatchDir, func(name string, data []byte) error {
			return orch.Submit(pipeline.NewJob(name, data))
		}, log)
		w.ScanExisting = true
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error("watcher stopped", "error", err)
			}
		}()
	}

	// Initialize HTTP server.
	srv := api.NewServer(orch, db, remote, stats, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		cancel()
		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		if remote != nil {
			remote.Close()
		}
		if db != nil {
			db.Close()
		}
	}()

	log.Info("starting callgest", "port", cfg.Port, "provider", cfg.SentimentProvider)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
