package fitting

import (
	"fmt"

	"github.com/xrfmap/server/internal/mapdata"
)

// PixelFitter fits one spectrum at a time against a fixed parameter
// set. It is stateless after construction and safe for concurrent use,
// provided its estimator and solver are.
type PixelFitter struct {
	params Params
	depth  int
	bg     BackgroundEstimator
	solver SpectrumSolver
}

// NewPixelFitter validates p against spectra of the given depth. A nil
// estimator or solver selects the built-in SNIP and NNLS
// implementations.
func NewPixelFitter(p Params, depth int, bg BackgroundEstimator, solver SpectrumSolver) (*PixelFitter, error) {
	if err := p.Validate(depth); err != nil {
		return nil, fmt.Errorf("fit params: %w", err)
	}
	if bg == nil {
		bg = snipEstimator{}
	}
	if solver == nil {
		solver = nnlsSolver{}
	}
	return &PixelFitter{params: p, depth: depth, bg: bg, solver: solver}, nil
}

// FitPixel fits a single spectrum. The result is
// [weights..., backgroundArea, residual, selectedTotal, fullTotal]:
// one weight per model line, the background area inside the energy
// window (zero when background removal is off), the solver residual,
// and the raw count totals of the window and the full spectrum.
func (f *PixelFitter) FitPixel(spectrum []float64) ([]float64, error) {
	if len(spectrum) != f.depth {
		return nil, fmt.Errorf("fit pixel: spectrum has %d channels, expected %d", len(spectrum), f.depth)
	}
	window := spectrum[f.params.EnergyStart:f.params.EnergyEnd]

	var fullTotal, selectedTotal float64
	for _, v := range spectrum {
		fullTotal += v
	}
	for _, v := range window {
		selectedTotal += v
	}

	y := window
	var backgroundArea float64
	if f.params.RemoveBackground {
		bg := f.bg.EstimateBackground(window, f.params.Calibration, f.params.BackgroundWidth)
		// Clip to keep the solver's non-negativity assumption intact.
		y = make([]float64, len(window))
		for i := range window {
			if d := window[i] - bg[i]; d > 0 {
				y[i] = d
			}
			backgroundArea += bg[i]
		}
	}

	weights, residual, err := f.solver.SolveSpectrum(f.params.Model, y)
	if err != nil {
		return nil, fmt.Errorf("fit pixel: %w", err)
	}

	out := make([]float64, f.params.OutputDepth())
	copy(out, weights)
	n := f.params.Model.Lines
	out[n] = backgroundArea
	out[n+1] = residual
	out[n+2] = selectedTotal
	out[n+3] = fullTotal
	return out, nil
}

// FitBlock fits every pixel of a block and returns a block of the same
// bounds whose spectrum axis holds the per-pixel results. It is the
// kernel submitted to the executor.
func (f *PixelFitter) FitBlock(b *mapdata.Block) (*mapdata.Block, error) {
	if b.Depth != f.depth {
		return nil, fmt.Errorf("fit block: %d channels, expected %d", b.Depth, f.depth)
	}
	out := &mapdata.Block{
		Bounds: b.Bounds,
		Depth:  f.params.OutputDepth(),
		Data:   make([]float64, b.Bounds.Pixels()*f.params.OutputDepth()),
	}
	for r := 0; r < b.Bounds.Height; r++ {
		for c := 0; c < b.Bounds.Width; c++ {
			res, err := f.FitPixel(b.Spectrum(r, c))
			if err != nil {
				return nil, fmt.Errorf("pixel (%d, %d): %w", b.Bounds.Row0+r, b.Bounds.Col0+c, err)
			}
			copy(out.Spectrum(r, c), res)
		}
	}
	return out, nil
}
