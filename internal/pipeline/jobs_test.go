package pipeline

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dgallion1/proxyvote/internal/classify"
	"github.com/dgallion1/proxyvote/internal/filing"
)

func TestNewJob(t *testing.T) {
	job := NewJob("0001-24-000001.txt", []byte("raw"), classify.Subject{Security: "TESLA, INC"}, nil)
	if job.ID == "" || job.FilingID == "" || job.ID == job.FilingID {
		t.Errorf("expected distinct job and filing ids, got %q and %q", job.ID, job.FilingID)
	}
	if len(job.ID) != 26 {
		t.Errorf("expected a 26 character ulid, got %q", job.ID)
	}
	if job.Status != StatusQueued || job.Phase != "queued" {
		t.Errorf("expected queued job, got %s/%s", job.Status, job.Phase)
	}
	if string(job.FileData()) != "raw" {
		t.Errorf("expected file data %q, got %q", "raw", job.FileData())
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := &Job{
		ID:        "test-1",
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	transitions := []struct {
		status JobStatus
		phase  string
	}{
		{StatusRendering, "rendering"},
		{StatusSegmenting, "segmenting"},
		{StatusClassifying, "classifying"},
		{StatusStoring, "storing"},
		{StatusCompleted, "done"},
	}

	for _, tr := range transitions {
		before := job.UpdatedAt
		// Small sleep to ensure time difference is detectable.
		time.Sleep(time.Millisecond)
		job.SetStatus(tr.status, tr.phase)

		if job.Status != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, job.Status)
		}
		if job.Phase != tr.phase {
			t.Errorf("expected phase %q, got %q", tr.phase, job.Phase)
		}
		if !job.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", tr.status)
		}
	}
}

func TestJobStatus_Done(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{StatusQueued, false},
		{StatusRendering, false},
		{StatusClassifying, false},
		{StatusCompleted, true},
		{StatusPartial, true},
		{StatusFailed, true},
		{StatusDupSkipped, true},
	}
	for _, tt := range tests {
		if got := tt.status.Done(); got != tt.want {
			t.Errorf("%s.Done(): expected %v, got %v", tt.status, tt.want, got)
		}
	}
}

func TestJob_AddError(t *testing.T) {
	job := &Job{ID: "err-test", UpdatedAt: time.Now()}
	job.AddError("section 3 failed")
	job.AddError("section 7 failed")

	snap := job.Snapshot()
	if len(snap.Progress.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Progress.Errors))
	}
	if snap.Progress.Errors[0] != "section 3 failed" {
		t.Errorf("expected first error %q, got %q", "section 3 failed", snap.Progress.Errors[0])
	}
}

func TestJob_SetResultAndVerdict(t *testing.T) {
	job := &Job{ID: "result-test", UpdatedAt: time.Now()}
	job.SetVerdict(0, classify.VerdictFor) // no result yet

	job.SetResult(&filing.Result{
		NumLines:    120,
		ContentHash: "abc",
		Sections: []filing.Section{
			{FundName: "Alpha Fund"},
			{FundName: "Beta Fund", Flagged: true},
			{Unresolved: true},
		},
	})
	job.SetVerdict(1, classify.VerdictAgainst)
	job.SetVerdict(5, classify.VerdictFor)

	snap := job.Snapshot()
	p := snap.Progress
	if p.Lines != 120 || p.Sections != 3 || p.Unresolved != 1 || p.Flagged != 1 || p.Classified != 1 {
		t.Errorf("unexpected progress %+v", p)
	}
	if snap.ContentHash != "abc" {
		t.Errorf("expected content hash %q, got %q", "abc", snap.ContentHash)
	}
	if got := job.Result().Sections[1].Verdict; got != "Against" {
		t.Errorf("expected verdict Against, got %q", got)
	}
	if got := job.Result().Sections[0].Verdict; got != "" {
		t.Errorf("expected no verdict on section 0, got %q", got)
	}
}

func TestJob_FileData(t *testing.T) {
	job := &Job{ID: "data-test"}
	data := []byte("file content here")
	job.SetFileData(data)
	got := job.FileData()
	if string(got) != string(data) {
		t.Errorf("expected file data %q, got %q", data, got)
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	// Snapshot should always return non-nil errors slice.
	job := &Job{ID: "snap-test", UpdatedAt: time.Now()}
	snap := job.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
	if len(snap.Progress.Errors) != 0 {
		t.Errorf("expected empty errors, got %d", len(snap.Progress.Errors))
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &Job{ID: "store-1", FilingID: "filing-1", UpdatedAt: time.Now()}
	store.Put(job)

	got := store.Get("store-1")
	if got == nil {
		t.Fatal("expected to get job back")
	}
	if got.ID != "store-1" {
		t.Errorf("expected ID %q, got %q", "store-1", got.ID)
	}
	if store.ByFiling("filing-1") != job {
		t.Error("expected lookup by filing id")
	}
	if store.ByFiling("filing-2") != nil {
		t.Error("expected nil for unknown filing")
	}
}

func TestJobStore_GetMissing(t *testing.T) {
	store := NewJobStore(time.Hour)
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := &Job{ID: "old", UpdatedAt: time.Now()}
	store.Put(expired)

	// Wait for the TTL to pass.
	time.Sleep(100 * time.Millisecond)

	// Add a fresh job.
	fresh := &Job{ID: "new", UpdatedAt: time.Now()}
	store.Put(fresh)

	store.Cleanup()

	if store.Get("old") != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get("new") == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

func TestJobStore_CleanupEmpty(t *testing.T) {
	store := NewJobStore(time.Hour)
	// Should not panic on empty store.
	store.Cleanup()
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&classify.RetryableError{StatusCode: 429}, true},
		{fmt.Errorf("classify: %w", &classify.RetryableError{StatusCode: 503}), true},
		{errors.New("bad request"), false},
		{classify.ErrUnexpectedReply, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v): expected %v, got %v", tt.err, tt.want, got)
		}
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{0, time.Second, 1500 * time.Millisecond},
		{2, 4 * time.Second, 6 * time.Second},
		{10, 30 * time.Second, 45 * time.Second},
	}
	for _, tt := range tests {
		for range 20 {
			d := Backoff(tt.attempt)
			if d < tt.min || d >= tt.max {
				t.Fatalf("Backoff(%d): expected [%v, %v), got %v", tt.attempt, tt.min, tt.max, d)
			}
		}
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		min, max time.Duration
	}{
		{"retry after", &classify.RetryableError{StatusCode: 429, RetryAfter: 7 * time.Second}, 7 * time.Second, 7*time.Second + 1},
		{"capped", fmt.Errorf("classify: %w", &classify.RetryableError{StatusCode: 529, RetryAfter: time.Hour}), 2 * time.Minute, 2*time.Minute + 1},
		{"no header", &classify.RetryableError{StatusCode: 503}, 2 * time.Second, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := RetryDelay(tt.err, 1)
			if d < tt.min || d >= tt.max {
				t.Errorf("expected [%v, %v), got %v", tt.min, tt.max, d)
			}
		})
	}
}
