package fitting

import (
	"context"
	"fmt"

	"github.com/xrfmap/server/internal/compute"
	"github.com/xrfmap/server/internal/logctx"
	"github.com/xrfmap/server/internal/mapdata"
	"github.com/xrfmap/server/internal/mapsource"
)

// FitOptions tunes a map fit. The zero value selects the default chunk
// geometry, a run-scoped pool, no progress reporting and the built-in
// background estimator and solver.
type FitOptions struct {
	ChunkPixels int
	MinChunks   int
	Pool        *compute.Pool
	Sink        compute.ProgressSink
	Background  BackgroundEstimator
	Solver      SpectrumSolver
}

// FitMap fits every pixel of the input map and assembles the results
// into a (rows, cols, lines+4) cube; see PixelFitter.FitPixel for the
// per-pixel layout. The input's resource handle stays open until every
// block has been processed and gathered. Block completion order does
// not affect the result.
func FitMap(ctx context.Context, in mapsource.Input, p Params, opts FitOptions) (*mapdata.Dense, error) {
	if opts.ChunkPixels <= 0 {
		opts.ChunkPixels = DefaultChunkPixels
	}
	if opts.MinChunks <= 0 {
		opts.MinChunks = DefaultMinChunks
	}

	m, err := mapsource.Materialize(in, opts.ChunkPixels, opts.MinChunks)
	if err != nil {
		return nil, fmt.Errorf("fit map: %w", err)
	}
	defer m.Close()

	rows, cols, depth := m.Shape()
	fitter, err := NewPixelFitter(p, depth, opts.Background, opts.Solver)
	if err != nil {
		return nil, fmt.Errorf("fit map: %w", err)
	}

	logger := logctx.FromContext(ctx)
	logger.Info().
		Int("rows", rows).
		Int("cols", cols).
		Int("lines", p.Model.Lines).
		Bool("background", p.RemoveBackground).
		Msg("fitting map")

	comp := compute.Submit(ctx, m, fitter.FitBlock, opts.Pool)
	compute.MonitorProgress(comp, opts.Sink, 0)
	blocks, err := comp.Result(ctx)
	if err != nil {
		return nil, fmt.Errorf("fit map: %w", err)
	}

	out, err := mapdata.Assemble(m.Grid(), p.OutputDepth(), blocks)
	if err != nil {
		return nil, fmt.Errorf("fit map: %w", err)
	}
	return out, nil
}
