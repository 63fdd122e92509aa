package fitting

import (
	"context"
	"fmt"

	"github.com/xrfmap/server/internal/compute"
	"github.com/xrfmap/server/internal/mapdata"
	"github.com/xrfmap/server/internal/mapsource"
)

const (
	// DefaultChunkPixels is the target pixel count per processing block.
	DefaultChunkPixels = 5000
	// DefaultMinChunks is the minimum number of blocks a map splits
	// into, so small maps still parallelize.
	DefaultMinChunks = 4
)

// TotalSpectrumOptions selects which pixels contribute and how the work
// is chunked and observed.
type TotalSpectrumOptions struct {
	// Mask keeps only pixels with a true entry. Nil keeps all.
	Mask *mapdata.Mask
	// Selection restricts to a rectangle, combined with Mask.
	Selection *mapdata.Rect

	ChunkPixels int
	MinChunks   int
	Pool        *compute.Pool
	Sink        compute.ProgressSink
}

// TotalSpectrum sums the spectra of the contributing pixels across the
// whole map and returns one vector with an entry per spectrum channel.
// The reduction runs blockwise on the executor; per-block partials are
// summed after all blocks complete.
func TotalSpectrum(ctx context.Context, in mapsource.Input, opts TotalSpectrumOptions) ([]float64, error) {
	if opts.ChunkPixels <= 0 {
		opts.ChunkPixels = DefaultChunkPixels
	}
	if opts.MinChunks <= 0 {
		opts.MinChunks = DefaultMinChunks
	}

	m, err := mapsource.Materialize(in, opts.ChunkPixels, opts.MinChunks)
	if err != nil {
		return nil, fmt.Errorf("total spectrum: %w", err)
	}
	defer m.Close()

	rows, cols, depth := m.Shape()
	mask, err := mapdata.BuildMask(rows, cols, opts.Mask, opts.Selection)
	if err != nil {
		return nil, fmt.Errorf("total spectrum: %w", err)
	}

	kernel := func(b *mapdata.Block) (*mapdata.Block, error) {
		var inside []bool
		if mask != nil {
			inside = mask.Rect(b.Bounds)
		}
		sum := make([]float64, depth)
		for r := 0; r < b.Bounds.Height; r++ {
			for c := 0; c < b.Bounds.Width; c++ {
				if inside != nil && !inside[r*b.Bounds.Width+c] {
					continue
				}
				for e, v := range b.Spectrum(r, c) {
					sum[e] += v
				}
			}
		}
		partial := &mapdata.Block{
			Bounds: mapdata.Rect{Row0: b.Bounds.Row0, Col0: b.Bounds.Col0, Height: 1, Width: 1},
			Depth:  depth,
			Data:   sum,
		}
		return partial, nil
	}

	comp := compute.Submit(ctx, m, kernel, opts.Pool)
	compute.MonitorProgress(comp, opts.Sink, 0)
	partials, err := comp.Result(ctx)
	if err != nil {
		return nil, fmt.Errorf("total spectrum: %w", err)
	}

	total := make([]float64, depth)
	for _, p := range partials {
		for e, v := range p.Data {
			total[e] += v
		}
	}
	return total, nil
}
