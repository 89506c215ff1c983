package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/callgest/internal/config"
	"github.com/dgallion1/callgest/internal/parser"
	"github.com/dgallion1/callgest/internal/sentiment"
)

// Orchestrator runs transcript jobs on a pool of workers.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	worker *Worker
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Workers share one pacing limiter so
// CallInterval bounds the whole process, not each worker. st and sink may be
// nil.
func NewOrchestrator(cfg config.Config, classifier sentiment.Classifier, st TranscriptStore, sink RowSink, log *slog.Logger) *Orchestrator {
	w := NewWorker(classifier, st, sink, NewLimiter(cfg.CallInterval), log, WorkerOptions{
		MaxBlockChars:   cfg.MaxBlockChars,
		MaxConcurrent:   cfg.MaxConcurrentClassify,
		Parser:          parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
		PathstorePrefix: cfg.PathstorePrefix,
	})
	return &Orchestrator{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
		worker: w,
		log:    log,
		cfg:    cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.worker.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// SkipClassify reports whether jobs run without sentiment classification.
func (o *Orchestrator) SkipClassify() bool {
	return o.worker.SkipClassify()
}
