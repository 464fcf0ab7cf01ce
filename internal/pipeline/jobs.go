package pipeline

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dgallion1/proxyvote/internal/anchor"
	"github.com/dgallion1/proxyvote/internal/classify"
	"github.com/dgallion1/proxyvote/internal/filing"
)

// JobStatus represents the state of a filing job.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusRendering   JobStatus = "rendering"
	StatusSegmenting  JobStatus = "segmenting"
	StatusClassifying JobStatus = "classifying"
	StatusStoring     JobStatus = "storing"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusPartial     JobStatus = "partial"
	StatusDupSkipped  JobStatus = "duplicate_skipped"
)

// Job tracks the state of a single filing run.
type Job struct {
	mu sync.Mutex

	ID       string `json:"job_id"`
	FilingID string `json:"filing_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`

	// Subject is the security whose votes are extracted. The anchor lines
	// are located by Locator.
	Subject classify.Subject `json:"subject"`
	Locator *anchor.Locator  `json:"-"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	DuplicateOf string    `json:"duplicate_of,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	result   *filing.Result
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	Lines      int      `json:"lines"`
	Funds      int      `json:"funds"`
	Sections   int      `json:"sections"`
	Unresolved int      `json:"unresolved"`
	Flagged    int      `json:"flagged"`
	Classified int      `json:"classified"`
	Errors     []string `json:"errors"`
}

// NewJob creates a queued job with fresh job and filing ids.
func NewJob(filename string, data []byte, subject classify.Subject, loc *anchor.Locator) *Job {
	now := time.Now()
	return &Job{
		ID:        ulid.Make().String(),
		FilingID:  ulid.Make().String(),
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Subject:   subject,
		Locator:   loc,
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

// ByFiling returns the job that produced filingID, or nil.
func (s *JobStore) ByFiling(filingID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.FilingID == filingID {
			return job
		}
	}
	return nil
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		updated := job.UpdatedAt
		job.mu.Unlock()
		if now.Sub(updated) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetResult records the driver output and derives the section counts.
func (j *Job) SetResult(res *filing.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.ContentHash = res.ContentHash
	j.Progress.Lines = res.NumLines
	j.Progress.Funds = len(res.Catalogue)
	j.Progress.Sections = len(res.Sections)
	j.Progress.Unresolved = 0
	j.Progress.Flagged = 0
	for _, s := range res.Sections {
		if s.Unresolved {
			j.Progress.Unresolved++
		}
		if s.Flagged {
			j.Progress.Flagged++
		}
	}
	j.UpdatedAt = time.Now()
}

// Result returns the driver output, or nil before it is available.
func (j *Job) Result() *filing.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// SetVerdict records the classified vote of section i.
func (j *Job) SetVerdict(i int, v classify.Verdict) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil || i < 0 || i >= len(j.result.Sections) {
		return
	}
	j.result.Sections[i].Verdict = string(v)
	j.Progress.Classified++
	j.UpdatedAt = time.Now()
}

// MarkDuplicate records the stored filing this job duplicates.
func (j *Job) MarkDuplicate(hash, filingID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = hash
	j.DuplicateOf = filingID
	j.UpdatedAt = time.Now()
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

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string           `json:"job_id"`
	FilingID    string           `json:"filing_id"`
	Status      JobStatus        `json:"status"`
	Phase       string           `json:"phase"`
	Filename    string           `json:"filename"`
	Subject     classify.Subject `json:"subject"`
	ContentHash string           `json:"content_hash,omitempty"`
	DuplicateOf string           `json:"duplicate_of,omitempty"`
	Progress    Progress         `json:"progress"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.Progress
	p.Errors = append([]string{}, j.Progress.Errors...)
	return JobSnapshot{
		ID:          j.ID,
		FilingID:    j.FilingID,
		Status:      j.Status,
		Phase:       j.Phase,
		Filename:    j.Filename,
		Subject:     j.Subject,
		ContentHash: j.ContentHash,
		DuplicateOf: j.DuplicateOf,
		Progress:    p,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// Done reports whether the job reached a terminal status.
func (s JobStatus) Done() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartial, StatusDupSkipped:
		return true
	}
	return false
}
