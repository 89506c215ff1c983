package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dgallion1/callgest/internal/meta"
	"github.com/dgallion1/callgest/internal/parser"
	"github.com/dgallion1/callgest/internal/pathstore"
	"github.com/dgallion1/callgest/internal/results"
	"github.com/dgallion1/callgest/internal/segment"
	"github.com/dgallion1/callgest/internal/sentiment"
	"github.com/dgallion1/callgest/internal/store"
)

// TranscriptStore persists finished transcripts and answers dedup lookups.
type TranscriptStore interface {
	FindByHash(ctx context.Context, hash string) (*store.TranscriptRecord, error)
	SaveTranscript(ctx context.Context, rec store.TranscriptRecord, rows []results.Row) (store.TranscriptRecord, error)
}

// RowSink mirrors finished rows to a remote store. FindByHash answers dedup
// lookups when no TranscriptStore is configured.
type RowSink interface {
	WriteRows(ctx context.Context, prefix string, m pathstore.TranscriptMeta, rows []results.Row) error
	FindByHash(ctx context.Context, prefix, hash string) (*pathstore.TranscriptMeta, error)
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	MaxBlockChars int
	MaxConcurrent int
	Parser        parser.Options

	// PathstorePrefix is the key prefix passed to the RowSink.
	PathstorePrefix string
}

// Worker processes transcript jobs. A nil classifier skips sentiment and
// emits rows with empty sentiment columns. The limiter paces classifier calls
// and may be shared between workers.
type Worker struct {
	classifier sentiment.Classifier
	store      TranscriptStore
	sink       RowSink
	limiter    *rate.Limiter
	log        *slog.Logger
	opts       WorkerOptions

	backoff func(attempt int) time.Duration
}

func NewWorker(classifier sentiment.Classifier, st TranscriptStore, sink RowSink, limiter *rate.Limiter, log *slog.Logger, opts WorkerOptions) *Worker {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Worker{
		classifier: classifier,
		store:      st,
		sink:       sink,
		limiter:    limiter,
		log:        log,
		opts:       opts,
		backoff:    Backoff,
	}
}

// NewLimiter returns a limiter allowing one call per interval. A zero
// interval disables pacing.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// SkipClassify reports whether the worker runs without a classifier.
func (w *Worker) SkipClassify() bool {
	return w.classifier == nil
}

// Process runs the full pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)
	name := meta.StripExt(job.Filename)
	m := meta.FromFilename(name)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename, w.opts.Parser)
	if err != nil {
		w.failRead(job, log, name, m, err)
		return
	}
	doc, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		w.failRead(job, log, name, m, err)
		return
	}
	job.releaseFileData()
	job.SetDocument(doc.Title, m, ContentHashHex([]byte(doc.Text)))
	hash := job.Snapshot().ContentHash

	// Phase 1.5: Dedup check
	if id, err := w.findDuplicate(ctx, hash); err != nil {
		log.Warn("dedup check failed, proceeding", "error", err)
	} else if id != "" {
		log.Info("duplicate transcript, skipping", "transcript_id", id)
		job.SetTranscriptID(id)
		job.SetStatus(StatusDupSkipped, "dedup")
		return
	}

	// Phase 2: Segment
	job.SetStatus(StatusSegmenting, "segmenting")
	res := segment.Segment(doc.Text, w.opts.MaxBlockChars)
	job.SetSegmented(len(res.Blocks), res.Degraded)
	switch {
	case len(res.Blocks) == 0:
		log.Info("transcript has no content")
	case res.Degraded:
		log.Warn("no speaker headers recognised, emitting single block", "lines", res.Lines)
	default:
		log.Info("segmented transcript", "blocks", len(res.Blocks),
			"speaker_headers", res.SpeakerHeaders, "section_markers", res.SectionMarkers)
	}

	rows := make([]results.Row, len(res.Blocks))
	for i, b := range res.Blocks {
		rows[i] = results.BlockRow(name, m, i+1, b)
	}

	// Phase 3: Classify blocks with bounded concurrency.
	failed := 0
	if w.classifier != nil && len(rows) > 0 {
		job.SetStatus(StatusClassifying, "classifying")
		failed = w.classifyRows(ctx, job, log, rows)
		log.Info("classification complete", "blocks", len(rows), "errors", failed)
	}
	job.SetRows(rows)

	// Nothing usable was classified; keep it out of the sinks so the
	// content is not deduplicated against its error rows later.
	if len(rows) > 0 && failed == len(rows) {
		log.Warn("all blocks failed, not persisting")
		job.SetStatus(StatusFailed, "classifying")
		return
	}

	// Phase 4: Sinks
	dup, sinkErr := w.storeRows(ctx, job, log, name, m, hash, res, rows)

	switch {
	case dup:
		job.SetStatus(StatusDupSkipped, "dedup")
	case failed > 0 || sinkErr:
		job.SetStatus(StatusPartial, "done")
	default:
		job.SetStatus(StatusCompleted, "done")
	}
}

func (w *Worker) failRead(job *Job, log *slog.Logger, name string, m meta.Meta, err error) {
	log.Error("read failed", "error", err)
	job.AddError(fmt.Sprintf("parse: %s", err))
	job.SetRows([]results.Row{results.ErrorRow(name, m, err)})
	job.SetStatus(StatusFailed, "parsing")
}

// classifyRows fills the sentiment columns of rows in place and returns the
// number of blocks that failed.
func (w *Worker) classifyRows(ctx context.Context, job *Job, log *slog.Logger, rows []results.Row) int {
	var g errgroup.Group
	g.SetLimit(w.opts.MaxConcurrent)

	errs := make([]bool, len(rows))
	for i := range rows {
		g.Go(func() error {
			scores, err := w.classify(ctx, log, i+1, rows[i].Text)
			if err != nil {
				log.Error("classification failed", "block", i+1, "error", err)
				markClassifyError(&rows[i], err)
				errs[i] = true
			} else {
				rows[i].SetScores(scores)
			}
			job.BlockDone(err != nil)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, e := range errs {
		if e {
			failed++
		}
	}
	return failed
}

// classify calls the classifier with pacing and retries transient errors.
func (w *Worker) classify(ctx context.Context, log *slog.Logger, block int, text string) (sentiment.Scores, error) {
	var scores sentiment.Scores
	var lastErr error
	for attempt := range MaxRetries {
		if err := w.limiter.Wait(ctx); err != nil {
			return scores, err
		}
		scores, lastErr = w.classifier.Classify(ctx, text)
		if lastErr == nil || !IsRetryable(lastErr) {
			return scores, lastErr
		}
		if attempt == MaxRetries-1 {
			break
		}
		log.Warn("retryable classification error", "block", block, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(w.backoff(attempt)):
		case <-ctx.Done():
			return scores, ctx.Err()
		}
	}
	return scores, lastErr
}

// markClassifyError records a failed block. Unparseable model output keeps
// its JSONParseError text; transport failures are reported as APICallError.
func markClassifyError(r *results.Row, err error) {
	detail := map[string]string{}
	var pe *sentiment.ParseError
	if errors.As(err, &pe) {
		r.Error = pe.Error()
		detail["raw"] = pe.Raw
	} else {
		r.Error = "APICallError: " + err.Error()
	}
	detail["error"] = r.Error
	b, _ := json.Marshal(detail)
	r.SentimentJSON = string(b)
}

// findDuplicate returns the id of an already stored transcript with the same
// content hash, asking the SQL store first and the remote sink otherwise.
func (w *Worker) findDuplicate(ctx context.Context, hash string) (string, error) {
	switch {
	case w.store != nil:
		rec, err := w.store.FindByHash(ctx, hash)
		if err != nil || rec == nil {
			return "", err
		}
		return rec.ID, nil
	case w.sink != nil:
		tm, err := w.sink.FindByHash(ctx, w.opts.PathstorePrefix, hash)
		if err != nil || tm == nil {
			return "", err
		}
		return tm.ID, nil
	}
	return "", nil
}

// storeRows writes finished rows to the configured sinks. It reports whether
// the store already held this content (another job saved it first) and
// whether any sink failed.
func (w *Worker) storeRows(ctx context.Context, job *Job, log *slog.Logger, name string, m meta.Meta, hash string, res segment.Result, rows []results.Row) (dup, failed bool) {
	if w.store == nil && w.sink == nil {
		return false, false
	}
	job.SetStatus(StatusStoring, "storing")

	id := ""
	if w.store != nil {
		rec, err := w.store.SaveTranscript(ctx, store.TranscriptRecord{
			Filename:    name,
			ContentHash: hash,
			Ticker:      m.Ticker,
			Quarter:     m.Quarter,
			Year:        m.Year,
			Date:        m.Date,
			ExtraID:     m.ExtraID,
			Degraded:    res.Degraded,
			Blocks:      len(res.Blocks),
		}, rows)
		if errors.Is(err, store.ErrDuplicate) {
			if existing, ferr := w.store.FindByHash(ctx, hash); ferr == nil && existing != nil {
				job.SetTranscriptID(existing.ID)
			}
			log.Info("duplicate transcript stored concurrently, skipping")
			return true, false
		}
		if err != nil {
			log.Error("store failed", "error", err)
			job.AddError(fmt.Sprintf("store: %s", err))
			failed = true
		} else {
			id = rec.ID
			job.SetTranscriptID(id)
			log.Info("stored transcript", "transcript_id", id)
		}
	}
	if id == "" {
		id = job.ID
	}

	if w.sink != nil {
		err := w.sink.WriteRows(ctx, w.opts.PathstorePrefix, pathstore.TranscriptMeta{
			ID:          id,
			Filename:    name,
			ContentHash: hash,
			Ticker:      m.Ticker,
			Quarter:     m.Quarter,
			Year:        m.Year,
			Date:        m.Date,
			Degraded:    res.Degraded,
			Blocks:      len(res.Blocks),
		}, rows)
		if err != nil {
			log.Error("pathstore write failed", "error", err)
			job.AddError(fmt.Sprintf("pathstore: %s", err))
			failed = true
		}
	}
	return false, failed
}
