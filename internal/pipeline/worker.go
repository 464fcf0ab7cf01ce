package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/proxyvote/internal/classify"
	"github.com/dgallion1/proxyvote/internal/filing"
	"github.com/dgallion1/proxyvote/internal/metrics"
	"github.com/dgallion1/proxyvote/internal/render"
	"github.com/dgallion1/proxyvote/internal/store"
)

// Worker processes a single filing job.
type Worker struct {
	driver     *filing.Driver
	classifier classify.Classifier
	store      store.Store
	log        *slog.Logger
	metrics    *metrics.Metrics

	maxConcurrentClassify int
}

// NewWorker creates a worker. classifier and st may be nil, which skips the
// classifying and storing phases.
func NewWorker(driver *filing.Driver, classifier classify.Classifier, st store.Store, log *slog.Logger, m *metrics.Metrics, maxClassify int) *Worker {
	return &Worker{
		driver:                driver,
		classifier:            classifier,
		store:                 st,
		log:                   log,
		metrics:               m,
		maxConcurrentClassify: max(1, maxClassify),
	}
}

// Process runs the full pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filing_id", job.FilingID, "filename", job.Filename)
	data := job.FileData()

	// Phase 1: Dedup check
	hash := render.ContentHash(data)
	if w.store != nil {
		existing, err := w.store.FindByHash(ctx, hash)
		switch {
		case err == nil:
			log.Info("duplicate filing, skipping", "existing_filing_id", existing)
			job.MarkDuplicate(hash, existing)
			job.SetStatus(StatusDupSkipped, "dedup")
			return
		case !errors.Is(err, store.ErrNotFound):
			log.Warn("dedup check failed, proceeding", "error", err)
		}
	}

	// Phase 2: Render
	job.SetStatus(StatusRendering, "rendering")
	doc, err := w.driver.Load(job.Filename, data)
	if err != nil {
		if errors.Is(err, render.ErrUnparseable) || errors.Is(err, filing.ErrNoText) {
			log.Warn("filing not processed", "error", err)
		} else {
			log.Error("render failed", "error", err)
		}
		job.AddError(fmt.Sprintf("render: %s", err))
		job.SetStatus(StatusFailed, "rendering")
		return
	}

	// Phase 3: Segment and resolve funds
	job.SetStatus(StatusSegmenting, "segmenting")
	res, err := w.driver.Analyze(ctx, doc, job.Locator)
	if err != nil {
		log.Error("segmentation failed", "error", err)
		job.AddError(fmt.Sprintf("segment: %s", err))
		job.SetStatus(StatusFailed, "segmenting")
		return
	}
	res.ID = job.FilingID
	job.SetResult(res)

	// Phase 4: Classify sections with bounded concurrency.
	hadErrors := false
	if w.classifier != nil && len(res.Sections) > 0 {
		job.SetStatus(StatusClassifying, "classifying")
		hadErrors = w.classify(ctx, log, job, res.Sections)
	}

	// Phase 5: Store
	if w.store != nil {
		job.SetStatus(StatusStoring, "storing")
		if err := store.Save(ctx, w.store, job.FilingID, job.Filename, job.Result()); err != nil {
			log.Error("store failed", "error", err)
			job.AddError(fmt.Sprintf("store: %s", err))
			job.SetStatus(StatusFailed, "storing")
			return
		}
	}

	snap := job.Snapshot()
	log.Info("filing processed",
		"sections", snap.Progress.Sections,
		"unresolved", snap.Progress.Unresolved,
		"flagged", snap.Progress.Flagged,
		"classified", snap.Progress.Classified)

	if hadErrors || res.Partial() {
		job.SetStatus(StatusPartial, "done")
	} else {
		job.SetStatus(StatusCompleted, "done")
	}
}

// classify asks the classifier for the vote in every section and reports
// whether any section failed after retries.
func (w *Worker) classify(ctx context.Context, log *slog.Logger, job *Job, sections []filing.Section) bool {
	type sectionResult struct {
		verdict classify.Verdict
		err     error
		idx     int
	}
	results := make(chan sectionResult, len(sections))
	sem := make(chan struct{}, w.maxConcurrentClassify)

	for i, sec := range sections {
		sem <- struct{}{}
		go func(i int, text string) {
			defer func() { <-sem }()
			var verdict classify.Verdict
			var lastErr error
			for attempt := range MaxRetries {
				verdict, lastErr = w.classifier.Classify(ctx, job.Subject, text)
				if lastErr == nil || !IsRetryable(lastErr) {
					break
				}
				log.Warn("retryable classification error", "section", i, "attempt", attempt, "error", lastErr)
				select {
				case <-time.After(RetryDelay(lastErr, attempt)):
				case <-ctx.Done():
					results <- sectionResult{err: ctx.Err(), idx: i}
					return
				}
			}
			results <- sectionResult{verdict: verdict, err: lastErr, idx: i}
		}(i, sec.Text())
	}

	hadErrors := false
	for range sections {
		r := <-results
		if r.err != nil {
			log.Error("classification failed", "section", r.idx, "error", r.err)
			job.AddError(fmt.Sprintf("section %d: %s", r.idx, r.err))
			w.metrics.ClassifyFailed()
			hadErrors = true
			continue
		}
		job.SetVerdict(r.idx, r.verdict)
	}
	return hadErrors
}
