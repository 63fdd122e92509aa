package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/xrfmap/server/internal/compute"
	"github.com/xrfmap/server/internal/data/zarr"
	"github.com/xrfmap/server/internal/fitstore"
	"github.com/xrfmap/server/internal/fitting"
	"github.com/xrfmap/server/internal/logctx"
)

// FitServiceRegistry provides access to dataset map services.
type FitServiceRegistry interface {
	Get(datasetID string) *MapService
}

// FitServiceConfig contains fit service configuration.
type FitServiceConfig struct {
	Registry   FitServiceRegistry
	ResultsDir string
	// Pool is the shared worker pool for fits.
	Pool        *compute.Pool
	ChunkPixels int
	MinChunks   int
}

// FitService runs queued fit jobs against their datasets and writes
// result cubes as Zarr stores under the results directory.
type FitService struct {
	registry    FitServiceRegistry
	resultsDir  string
	pool        *compute.Pool
	chunkPixels int
	minChunks   int
}

// NewFitService creates a fit service.
func NewFitService(cfg FitServiceConfig) *FitService {
	return &FitService{
		registry:    cfg.Registry,
		resultsDir:  cfg.ResultsDir,
		pool:        cfg.Pool,
		chunkPixels: cfg.ChunkPixels,
		minChunks:   cfg.MinChunks,
	}
}

// ResultPath returns the result store path for a job.
func (s *FitService) ResultPath(jobID string) string {
	return filepath.Join(s.resultsDir, jobID+".zarr")
}

// ExecuteJob runs the fit for a job (called by the job manager worker).
// Progress is persisted to the store as the fit advances; on success
// the result path is recorded.
func (s *FitService) ExecuteJob(ctx context.Context, store *fitstore.Store, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	svc := s.registry.Get(job.DatasetID)
	if svc == nil {
		return fmt.Errorf("dataset not found: %s", job.DatasetID)
	}

	logger := logctx.FromContext(ctx).With().
		Str("job_id", jobID).
		Str("dataset", job.DatasetID).
		Logger()
	ctx = logctx.WithLogger(ctx, logger)

	sink := &storeProgressSink{store: store, jobID: jobID, total: svc.Blocks()}
	cube, err := fitting.FitMap(ctx, svc.Input(), job.Params, fitting.FitOptions{
		ChunkPixels: s.chunkPixels,
		MinChunks:   s.minChunks,
		Pool:        s.pool,
		Sink:        sink,
	})
	if err != nil {
		return err
	}

	resultPath := s.ResultPath(jobID)
	if err := zarr.Write(resultPath, "", cube, zarr.WriteOptions{}); err != nil {
		return fmt.Errorf("failed to write result store: %w", err)
	}
	if err := store.SetJobResult(jobID, resultPath); err != nil {
		return fmt.Errorf("failed to record result path: %w", err)
	}

	logger.Info().
		Str("result", resultPath).
		Int("channels", cube.Depth).
		Msg("fit job finished")
	return nil
}

// storeProgressSink persists fit progress. Reports are throttled to
// whole-percent steps so the store sees at most ~100 updates per job.
type storeProgressSink struct {
	store *fitstore.Store
	jobID string
	total int

	mu     sync.Mutex
	last   float64
	primed bool
}

func (s *storeProgressSink) Report(percent float64) {
	s.mu.Lock()
	if s.primed && percent < 100 && percent-s.last < 1 {
		s.mu.Unlock()
		return
	}
	s.primed = true
	s.last = percent
	s.mu.Unlock()

	done := int(percent/100*float64(s.total) + 0.5)
	if err := s.store.UpdateJobProgress(s.jobID, done, s.total, percent); err != nil {
		logger := logctx.DefaultLogger()
		logger.Warn().
			Err(err).
			Str("job_id", s.jobID).
			Msg("failed to persist fit progress")
	}
}
