package pipeline

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/callgest/internal/meta"
	"github.com/dgallion1/callgest/internal/results"
)

// JobStatus represents the state of a transcript job.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusParsing     JobStatus = "parsing"
	StatusSegmenting  JobStatus = "segmenting"
	StatusClassifying JobStatus = "classifying"
	StatusStoring     JobStatus = "storing"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusPartial     JobStatus = "partial"
	StatusDupSkipped  JobStatus = "duplicate_skipped"
)

// Terminal reports whether no further transitions will happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartial, StatusDupSkipped:
		return true
	}
	return false
}

// Job tracks the processing of one transcript file.
type Job struct {
	mu sync.Mutex

	ID           string `json:"job_id"`
	TranscriptID string `json:"transcript_id,omitempty"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`

	Meta     meta.Meta `json:"meta"`
	Progress Progress  `json:"progress"`
	Degraded bool      `json:"degraded"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	rows     []results.Row
	errors   []string
}

// Progress tracks classification progress.
type Progress struct {
	TotalBlocks      int      `json:"total_blocks"`
	BlocksClassified int      `json:"blocks_classified"`
	ClassifyErrors   int      `json:"classify_errors"`
	Errors           []string `json:"errors"`
}

// NewJob creates a queued job for an uploaded or discovered file.
func NewJob(filename string, data []byte) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
		fileData:  data,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes jobs untouched for longer than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records a job-level error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// BlockDone records one classified block, failed or not.
func (j *Job) BlockDone(failed bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.BlocksClassified++
	if failed {
		j.Progress.ClassifyErrors++
	}
	j.UpdatedAt = time.Now()
}

// SetSegmented records the segmentation outcome.
func (j *Job) SetSegmented(blocks int, degraded bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalBlocks = blocks
	j.Degraded = degraded
	j.UpdatedAt = time.Now()
}

// SetDocument records what parsing learned about the file.
func (j *Job) SetDocument(title string, m meta.Meta, hash string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Title == "" {
		j.Title = title
	}
	j.Meta = m
	j.ContentHash = hash
	j.UpdatedAt = time.Now()
}

// SetTranscriptID links the job to a stored transcript.
func (j *Job) SetTranscriptID(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.TranscriptID = id
	j.UpdatedAt = time.Now()
}

// SetRows stores the output rows in block order.
func (j *Job) SetRows(rows []results.Row) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = rows
	j.UpdatedAt = time.Now()
}

// Rows returns a copy of the output rows.
func (j *Job) Rows() []results.Row {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.rows)
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// releaseFileData drops the upload once it has been parsed.
func (j *Job) releaseFileData() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = nil
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID           string    `json:"job_id"`
	TranscriptID string    `json:"transcript_id,omitempty"`
	Status       JobStatus `json:"status"`
	Phase        string    `json:"phase"`
	Filename     string    `json:"filename"`
	Title        string    `json:"title"`
	Meta         meta.Meta `json:"meta"`
	Degraded     bool      `json:"degraded"`
	ContentHash  string    `json:"content_hash,omitempty"`
	Progress     Progress  `json:"progress"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := slices.Clone(j.Progress.Errors)
	if errs == nil {
		errs = []string{}
	}
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:           j.ID,
		TranscriptID: j.TranscriptID,
		Status:       j.Status,
		Phase:        j.Phase,
		Filename:     j.Filename,
		Title:        j.Title,
		Meta:         j.Meta,
		Degraded:     j.Degraded,
		ContentHash:  j.ContentHash,
		Progress:     p,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
