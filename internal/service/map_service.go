// Package service provides business logic for the map-fitting server.
package service

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/xrfmap/server/internal/cache"
	"github.com/xrfmap/server/internal/compute"
	"github.com/xrfmap/server/internal/fitting"
	"github.com/xrfmap/server/internal/mapdata"
	"github.com/xrfmap/server/internal/mapsource"
)

// MapServiceConfig contains map service configuration.
type MapServiceConfig struct {
	DatasetID string
	Title     string
	// Source is the open map store for this dataset. The service owns
	// it; Close releases it through Closer.
	Source mapdata.BlockSource
	Closer io.Closer
	Cache  *cache.Manager
	// Pool is the shared worker pool for spectrum queries.
	Pool        *compute.Pool
	ChunkPixels int
	MinChunks   int
}

// MapMetadata describes one dataset for the API.
type MapMetadata struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Rows   int    `json:"rows"`
	Cols   int    `json:"cols"`
	Depth  int    `json:"depth"`
	Pixels int    `json:"pixels"`
	// NativeChunk is the on-disk spatial chunking (rows, cols).
	NativeChunk [2]int `json:"native_chunk"`
	// BlockChunk is the planned working chunk geometry (rows, cols).
	BlockChunk [2]int `json:"block_chunk"`
	Blocks     int    `json:"blocks"`
	// Size is the in-memory footprint of the full map as float64.
	Size string `json:"size"`
}

// MapService serves metadata and spectrum queries for one dataset.
type MapService struct {
	datasetID   string
	source      mapdata.BlockSource
	closer      io.Closer
	cache       *cache.Manager
	pool        *compute.Pool
	chunkPixels int
	minChunks   int

	meta MapMetadata
}

// NewMapService creates a map service over an open store.
func NewMapService(cfg MapServiceConfig) (*MapService, error) {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	if cfg.ChunkPixels <= 0 {
		cfg.ChunkPixels = fitting.DefaultChunkPixels
	}
	if cfg.MinChunks <= 0 {
		cfg.MinChunks = fitting.DefaultMinChunks
	}

	rows, cols, depth := cfg.Source.Shape()
	native := cfg.Source.ChunkSize()
	chunk, err := mapdata.PlanChunkSize(cfg.ChunkPixels, native, rows, cols, cfg.MinChunks)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, err)
	}
	grid := mapdata.Grid{Rows: rows, Cols: cols, Chunk: chunk}

	return &MapService{
		datasetID:   datasetID,
		source:      cfg.Source,
		closer:      cfg.Closer,
		cache:       cfg.Cache,
		pool:        cfg.Pool,
		chunkPixels: cfg.ChunkPixels,
		minChunks:   cfg.MinChunks,
		meta: MapMetadata{
			ID:          datasetID,
			Title:       cfg.Title,
			Rows:        rows,
			Cols:        cols,
			Depth:       depth,
			Pixels:      rows * cols,
			NativeChunk: [2]int{native.Y, native.X},
			BlockChunk:  [2]int{chunk.Y, chunk.X},
			Blocks:      grid.NumBlocks(),
			Size:        humanize.IBytes(uint64(rows) * uint64(cols) * uint64(depth) * 8),
		},
	}, nil
}

// Metadata returns dataset metadata.
func (s *MapService) Metadata() MapMetadata {
	return s.meta
}

// Input returns the dataset as a materialization input. The service
// keeps ownership of the underlying store.
func (s *MapService) Input() mapsource.Input {
	return mapsource.Input{Source: s.source}
}

// Blocks returns the number of blocks a full-map pass will process.
func (s *MapService) Blocks() int {
	return s.meta.Blocks
}

// TotalSpectrum sums spectra over the whole map, or over sel when set.
// Results are cached per selection.
func (s *MapService) TotalSpectrum(ctx context.Context, sel *mapdata.Rect) ([]float64, error) {
	if sel != nil {
		clamped := sel.Clamp(s.meta.Rows, s.meta.Cols)
		if clamped.Empty() {
			return nil, fmt.Errorf("selection %s is outside the map", sel)
		}
		sel = &clamped
	}

	key := cache.SpectrumKey(s.datasetID, sel)
	if s.cache != nil {
		if values, ok := s.cache.GetSpectrum(key); ok {
			return values, nil
		}
	}

	values, err := fitting.TotalSpectrum(ctx, s.Input(), fitting.TotalSpectrumOptions{
		Selection:   sel,
		ChunkPixels: s.chunkPixels,
		MinChunks:   s.minChunks,
		Pool:        s.pool,
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetSpectrum(key, values)
	}
	return values, nil
}

// Close releases the underlying store.
func (s *MapService) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
