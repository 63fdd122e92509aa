package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/xrfmap/server/internal/fitstore"
	"github.com/xrfmap/server/internal/fitting"
	"github.com/xrfmap/server/internal/logctx"
)

// JobManagerConfig contains configuration for the job manager.
type JobManagerConfig struct {
	MaxConcurrent int    // max concurrent fit jobs (default 1)
	QueueSize     int    // pending-job queue capacity (default 100)
	SQLitePath    string // path to the SQLite job database
	RetentionDays int    // days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
}

// JobManager manages fit jobs with SQLite persistence. Jobs run on a
// bounded queue drained by worker goroutines; each running job carries
// a cancel func so it can be aborted mid-fit.
type JobManager struct {
	cfg      JobManagerConfig
	store    *fitstore.Store
	queue    chan string // job IDs
	running  map[string]context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	// Executor is called to run the actual fit.
	Executor func(ctx context.Context, store *fitstore.Store, jobID string) error
}

// NewJobManager creates a new job manager with SQLite persistence.
func NewJobManager(cfg JobManagerConfig) (*JobManager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}

	store, err := fitstore.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	jm := &JobManager{
		cfg:     cfg,
		store:   store,
		queue:   make(chan string, cfg.QueueSize),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
	return jm, nil
}

// Store returns the underlying store for direct access.
func (jm *JobManager) Store() *fitstore.Store {
	return jm.store
}

// Start starts the worker goroutines and cleanup ticker. Jobs left
// running by a previous process are marked failed; queued jobs are
// re-enqueued.
func (jm *JobManager) Start() {
	logger := logctx.DefaultLogger()

	if err := jm.store.MarkRunningAsFailed("server restarted"); err != nil {
		logger.Error().Err(err).Msg("failed to mark running jobs as failed")
	}

	queued, err := jm.store.ListQueuedJobs()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list queued jobs")
	} else {
		for _, job := range queued {
			select {
			case jm.queue <- job.ID:
				logger.Info().Str("job_id", job.ID).Msg("re-queued job")
			default:
				logger.Warn().Str("job_id", job.ID).Msg("queue full, cannot re-queue job")
			}
		}
	}

	for i := 0; i < jm.cfg.MaxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}

	go jm.cleaner()
}

// Stop cancels running jobs, waits for the workers and closes the
// store. Jobs still queued stay queued in the database and are picked
// up by the next Start.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		close(jm.stopCh)

		jm.mu.Lock()
		for _, cancel := range jm.running {
			cancel()
		}
		jm.mu.Unlock()

		jm.wg.Wait()
		jm.store.Close()
	})
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for {
		select {
		case <-jm.stopCh:
			return
		case jobID := <-jm.queue:
			jm.runJob(jobID)
		}
	}
}

func (jm *JobManager) runJob(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jm.mu.Lock()
	jm.running[jobID] = cancel
	jm.mu.Unlock()

	defer func() {
		jm.mu.Lock()
		delete(jm.running, jobID)
		jm.mu.Unlock()
	}()

	logger := logctx.DefaultLogger()

	// A job canceled while still queued must not start.
	job, err := jm.store.GetJob(jobID)
	if err != nil || job.Status != fitstore.JobStatusQueued {
		return
	}

	if err := jm.store.UpdateJobStarted(jobID); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job as started")
		return
	}

	var execErr error
	if jm.Executor != nil {
		execErr = jm.Executor(ctx, jm.store, jobID)
	}

	switch {
	case ctx.Err() == context.Canceled:
		jm.store.UpdateJobStatus(jobID, fitstore.JobStatusCanceled, "canceled")
		logger.Info().Str("job_id", jobID).Msg("fit job canceled")
	case execErr != nil:
		jm.store.UpdateJobStatus(jobID, fitstore.JobStatusFailed, execErr.Error())
		logger.Error().Err(execErr).Str("job_id", jobID).Msg("fit job failed")
	default:
		jm.store.UpdateJobStatus(jobID, fitstore.JobStatusDone, "")
	}
}

func (jm *JobManager) cleaner() {
	ticker := time.NewTicker(jm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.cleanup()
		}
	}
}

func (jm *JobManager) cleanup() {
	logger := logctx.DefaultLogger()

	expired, err := jm.store.ExpiredJobs(jm.cfg.RetentionDays)
	if err != nil {
		logger.Error().Err(err).Msg("job cleanup failed")
		return
	}
	for _, job := range expired {
		if job.ResultPath != "" {
			if err := os.RemoveAll(job.ResultPath); err != nil {
				logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to remove result store")
				continue
			}
		}
		if err := jm.store.DeleteJob(job.ID); err != nil {
			logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to delete expired job")
		}
	}
	if len(expired) > 0 {
		logger.Info().Int("jobs", len(expired)).Msg("cleaned up expired fit jobs")
	}
}

// Submit creates a new job and enqueues it for execution.
func (jm *JobManager) Submit(datasetID string, params fitting.Params) (*fitstore.Job, error) {
	id := generateJobID()
	job := &fitstore.Job{
		ID:        id,
		DatasetID: datasetID,
		Status:    fitstore.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}

	if err := jm.store.CreateJob(job); err != nil {
		return nil, err
	}

	select {
	case jm.queue <- id:
	default:
		// Queue full; mark as failed immediately
		jm.store.UpdateJobStatus(id, fitstore.JobStatusFailed, "job queue is full; try again later")
		job.Status = fitstore.JobStatusFailed
		job.Error = "job queue is full; try again later"
	}

	return job, nil
}

// Get returns a job by ID.
func (jm *JobManager) Get(id string) (*fitstore.Job, error) {
	return jm.store.GetJob(id)
}

// Cancel attempts to cancel a job. Running jobs are interrupted;
// queued jobs are marked canceled before they start.
func (jm *JobManager) Cancel(id string) bool {
	jm.mu.Lock()
	cancel, ok := jm.running[id]
	jm.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true
	}

	job, err := jm.store.GetJob(id)
	if err != nil {
		return false
	}
	if job.Status == fitstore.JobStatusQueued {
		jm.store.UpdateJobStatus(id, fitstore.JobStatusCanceled, "canceled before start")
		return true
	}
	return false
}

func generateJobID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
