// Package fitting turns raw imaging maps into per-pixel emission line
// weights. A fit selects an energy window from each pixel's spectrum,
// optionally strips the continuum background and solves a non-negative
// linear model of reference line shapes, blockwise across the map.
package fitting

import (
	"fmt"

	"github.com/xrfmap/server/internal/nnls"
	"github.com/xrfmap/server/internal/snip"
)

// Calibration maps channel index to energy:
// energy = Offset + Linear*i + Quadratic*i*i.
type Calibration struct {
	Offset    float64 `json:"offset" yaml:"offset"`
	Linear    float64 `json:"linear" yaml:"linear"`
	Quadratic float64 `json:"quadratic" yaml:"quadratic"`
}

// Model holds the reference spectrum of every fitted emission line over
// the energy window: Depth channels by Lines columns, row-major.
type Model struct {
	Depth  int       `json:"depth" yaml:"depth"`
	Lines  int       `json:"lines" yaml:"lines"`
	Values []float64 `json:"values" yaml:"values"`
}

// Validate checks the model shape.
func (m Model) Validate() error {
	if m.Depth <= 0 || m.Lines <= 0 {
		return fmt.Errorf("model shape (%d, %d), dimensions must be positive", m.Depth, m.Lines)
	}
	if len(m.Values) != m.Depth*m.Lines {
		return fmt.Errorf("model has %d values, shape (%d, %d) needs %d", len(m.Values), m.Depth, m.Lines, m.Depth*m.Lines)
	}
	return nil
}

// Params describes a map fit: the energy window, the line model, the
// energy calibration and the background treatment.
type Params struct {
	// EnergyStart and EnergyEnd bound the fitted window [start, end)
	// along the spectrum axis.
	EnergyStart int `json:"energy_start" yaml:"energy_start"`
	EnergyEnd   int `json:"energy_end" yaml:"energy_end"`

	Model       Model       `json:"model" yaml:"model"`
	Calibration Calibration `json:"calibration" yaml:"calibration"`

	// LineNames labels the model columns in result metadata. Missing
	// entries fall back to a positional name.
	LineNames []string `json:"line_names,omitempty" yaml:"line_names,omitempty"`

	// BackgroundWidth scales the clipping window of the background
	// estimate when RemoveBackground is set.
	BackgroundWidth  float64 `json:"background_width" yaml:"background_width"`
	RemoveBackground bool    `json:"remove_background" yaml:"remove_background"`
}

// Validate checks the parameters against a spectrum of the given depth.
func (p Params) Validate(depth int) error {
	if err := p.Model.Validate(); err != nil {
		return err
	}
	if p.EnergyStart < 0 || p.EnergyStart >= p.EnergyEnd || p.EnergyEnd > depth {
		return fmt.Errorf("energy window [%d, %d) outside spectrum of depth %d", p.EnergyStart, p.EnergyEnd, depth)
	}
	if got := p.EnergyEnd - p.EnergyStart; got != p.Model.Depth {
		return fmt.Errorf("energy window spans %d channels, model expects %d", got, p.Model.Depth)
	}
	if p.RemoveBackground {
		if p.BackgroundWidth <= 0 {
			return fmt.Errorf("background width %v, must be positive", p.BackgroundWidth)
		}
		if p.Calibration.Linear <= 0 {
			return fmt.Errorf("calibration linear term %v, must be positive for background removal", p.Calibration.Linear)
		}
	}
	return nil
}

// OutputDepth is the per-pixel result length: one weight per line plus
// the background area, residual, selected total and full total.
func (p Params) OutputDepth() int {
	return p.Model.Lines + 4
}

// Channels names the output planes in order, for result metadata.
func (p Params) Channels() []string {
	names := make([]string, 0, p.OutputDepth())
	for i := 0; i < p.Model.Lines; i++ {
		if i < len(p.LineNames) && p.LineNames[i] != "" {
			names = append(names, p.LineNames[i])
		} else {
			names = append(names, fmt.Sprintf("line_%d", i))
		}
	}
	return append(names, "background", "residual", "selected", "total")
}

// BackgroundEstimator estimates the continuum under an energy window.
type BackgroundEstimator interface {
	EstimateBackground(window []float64, cal Calibration, width float64) []float64
}

// SpectrumSolver fits the model to one prepared window and returns the
// per-line weights with a residual measure.
type SpectrumSolver interface {
	SolveSpectrum(m Model, window []float64) (weights []float64, residual float64, err error)
}

type snipEstimator struct{}

func (snipEstimator) EstimateBackground(window []float64, cal Calibration, width float64) []float64 {
	return snip.Background(window, cal.Offset, cal.Linear, cal.Quadratic, width)
}

type nnlsSolver struct{}

func (nnlsSolver) SolveSpectrum(m Model, window []float64) ([]float64, float64, error) {
	return nnls.Solve(m.Values, m.Depth, m.Lines, window)
}
