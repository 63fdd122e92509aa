// Package main is the entry point for the map-fitting server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xrfmap/server/internal/api"
	"github.com/xrfmap/server/internal/cache"
	"github.com/xrfmap/server/internal/compute"
	"github.com/xrfmap/server/internal/config"
	"github.com/xrfmap/server/internal/data/tiledbmap"
	"github.com/xrfmap/server/internal/data/zarr"
	"github.com/xrfmap/server/internal/logctx"
	"github.com/xrfmap/server/internal/mapdata"
	"github.com/xrfmap/server/internal/render"
	"github.com/xrfmap/server/internal/service"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger := logctx.DefaultLogger()
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logctx.NewConfiguredLogger(cfg.Log.Debug, cfg.Log.Pretty)
	logctx.SetDefaultLogger(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger.Info().Int("port", cfg.Server.Port).Msg("starting map-fitting server")

	// Shared compute pool for spectrum and fit requests.
	pool := compute.NewPool(cfg.Compute.Workers)
	defer pool.Close()
	logger.Info().Int("workers", pool.Workers()).Msg("compute pool ready")

	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB:  cfg.Cache.ImageSizeMB,
		ImageTTL:          time.Duration(cfg.Cache.ImageTTLMinutes) * time.Minute,
		SpectrumCacheSize: cfg.Cache.SpectrumEntries,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize cache")
	}
	defer cacheManager.Close()

	renderer := render.NewHeatmapRenderer(render.Config{
		DefaultColormap: cfg.Render.DefaultColormap,
		MaxScale:        cfg.Render.MaxScale,
	})

	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs)
	defer registry.Close()

	logger.Info().Int("datasets", len(datasetIDs)).Str("default", cfg.Data.DefaultDataset).Msg("initializing datasets")

	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		source, closer, err := openSource(ds)
		if err != nil {
			logger.Fatal().Err(err).Str("dataset", datasetID).Msg("failed to open dataset")
		}

		svc, err := service.NewMapService(service.MapServiceConfig{
			DatasetID:   datasetID,
			Title:       ds.Title,
			Source:      source,
			Closer:      closer,
			Cache:       cacheManager,
			Pool:        pool,
			ChunkPixels: cfg.Compute.ChunkPixels,
			MinChunks:   cfg.Compute.MinChunks,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("dataset", datasetID).Msg("failed to initialize dataset service")
		}
		registry.Register(datasetID, svc)

		md := svc.Metadata()
		logger.Info().
			Str("dataset", datasetID).
			Str("path", ds.Path).
			Int("rows", md.Rows).
			Int("cols", md.Cols).
			Int("depth", md.Depth).
			Int("blocks", md.Blocks).
			Str("size", md.Size).
			Msg("dataset loaded")
	}

	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Jobs.Workers,
		QueueSize:     cfg.Jobs.QueueSize,
		SQLitePath:    cfg.Jobs.DBPath,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize job manager")
	}
	logger.Info().
		Int("workers", cfg.Jobs.Workers).
		Int("retention_days", cfg.Jobs.RetentionDays).
		Str("sqlite", cfg.Jobs.DBPath).
		Msg("fit job manager ready")

	fitService := service.NewFitService(service.FitServiceConfig{
		Registry:    registry,
		ResultsDir:  cfg.Jobs.ResultsDir,
		Pool:        pool,
		ChunkPixels: cfg.Compute.ChunkPixels,
		MinChunks:   cfg.Compute.MinChunks,
	})
	jobManager.Executor = fitService.ExecuteJob

	jobManager.Start()
	defer jobManager.Stop()

	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		JobManager:  jobManager,
		Results:     service.NewResultService(cacheManager, renderer),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Msgf("server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// openSource opens the configured array backend for one dataset.
func openSource(ds config.DatasetConfig) (mapdata.BlockSource, io.Closer, error) {
	switch ds.Backend {
	case "", "zarr":
		arr, err := zarr.Open(ds.Path, ds.Name)
		if err != nil {
			return nil, nil, err
		}
		return arr, arr, nil
	case "tiledb":
		arr, err := tiledbmap.Open(ds.Path, ds.Name)
		if err != nil {
			return nil, nil, err
		}
		return arr, arr, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", ds.Backend)
	}
}
