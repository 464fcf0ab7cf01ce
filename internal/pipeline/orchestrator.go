package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/proxyvote/internal/anchor"
	"github.com/dgallion1/proxyvote/internal/classify"
	"github.com/dgallion1/proxyvote/internal/config"
	"github.com/dgallion1/proxyvote/internal/filing"
	"github.com/dgallion1/proxyvote/internal/metrics"
	"github.com/dgallion1/proxyvote/internal/store"
)

// ErrQueueFull is returned by Submit when no worker can take the job.
var ErrQueueFull = errors.New("job queue is full")

// Orchestrator manages the filing pipeline.
type Orchestrator struct {
	jobs       *JobStore
	queue      chan *Job
	driver     *filing.Driver
	classifier classify.Classifier
	store      store.Store
	metrics    *metrics.Metrics
	log        *slog.Logger
	cfg        config.Config
	locator    *anchor.Locator

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. classifier and st may be nil.
func NewOrchestrator(cfg config.Config, driver *filing.Driver, classifier classify.Classifier, st store.Store, m *metrics.Metrics, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:       NewJobStore(cfg.JobTTL),
		queue:      make(chan *Job, cfg.MaxQueueSize),
		driver:     driver,
		classifier: classifier,
		store:      st,
		metrics:    m,
		log:        log,
		cfg:        cfg,
		locator:    anchor.New(cfg.AnchorNames, cfg.AnchorTickers),
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
			w := NewWorker(o.driver, o.classifier, o.store, o.log, o.metrics, o.cfg.MaxConcurrentClassify)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.metrics.SetQueueDepth(len(o.queue))
					w.Process(workerCtx, job)
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

// NewJob creates a job for the configured subject security.
func (o *Orchestrator) NewJob(filename string, data []byte) *Job {
	return NewJob(filename, data, o.cfg.Subject, o.locator)
}

// Submit queues a job for processing. A job without a locator searches for
// the configured subject security.
func (o *Orchestrator) Submit(job *Job) error {
	if job.Locator == nil {
		job.Locator = o.locator
	}
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.metrics.SetQueueDepth(len(o.queue))
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// JobForFiling returns the job that produced filingID, if it is still held.
func (o *Orchestrator) JobForFiling(filingID string) *Job {
	return o.jobs.ByFiling(filingID)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Store returns the persistence backend, or nil when none is configured.
func (o *Orchestrator) Store() store.Store {
	return o.store
}
