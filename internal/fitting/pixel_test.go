package fitting

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/xrfmap/server/internal/mapdata"
)

// twoLineParams builds a model with two disjoint line shapes over the
// window [1, 5) of a 6-channel spectrum.
func twoLineParams() Params {
	return Params{
		EnergyStart: 1,
		EnergyEnd:   5,
		Model: Model{
			Depth: 4,
			Lines: 2,
			Values: []float64{
				1, 0,
				1, 0,
				0, 1,
				0, 1,
			},
		},
		Calibration: Calibration{Offset: 0, Linear: 0.01},
	}
}

// twoLineSpectrum embeds a*line0 + b*line1 in the window and puts extra
// counts outside it.
func twoLineSpectrum(a, b float64) []float64 {
	return []float64{1, a, a, b, b, 2}
}

func TestFitPixelNoBackground(t *testing.T) {
	f, err := NewPixelFitter(twoLineParams(), 6, nil, nil)
	if err != nil {
		t.Fatalf("new fitter failed: %v", err)
	}
	out, err := f.FitPixel(twoLineSpectrum(2, 3))
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if len(out) != 6 {
		t.Fatalf("expected 6 output values, got %d", len(out))
	}
	if math.Abs(out[0]-2) > 1e-9 || math.Abs(out[1]-3) > 1e-9 {
		t.Errorf("expected weights [2 3], got %v", out[:2])
	}
	if out[2] != 0 {
		t.Errorf("expected zero background area, got %v", out[2])
	}
	if out[3] > 1e-9 {
		t.Errorf("expected near-zero residual, got %v", out[3])
	}
	if out[4] != 10 {
		t.Errorf("expected selected total 10, got %v", out[4])
	}
	if out[5] != 13 {
		t.Errorf("expected full total 13, got %v", out[5])
	}
}

// constantBackground reports a fixed level per channel and records the
// calibration it was handed.
type constantBackground struct {
	level float64
	cal   Calibration
	width float64
}

func (e *constantBackground) EstimateBackground(window []float64, cal Calibration, width float64) []float64 {
	e.cal = cal
	e.width = width
	bg := make([]float64, len(window))
	for i := range bg {
		bg[i] = e.level
	}
	return bg
}

func TestFitPixelWithBackground(t *testing.T) {
	p := twoLineParams()
	p.RemoveBackground = true
	p.BackgroundWidth = 0.5

	est := &constantBackground{level: 1}
	f, err := NewPixelFitter(p, 6, est, nil)
	if err != nil {
		t.Fatalf("new fitter failed: %v", err)
	}
	out, err := f.FitPixel(twoLineSpectrum(2, 3))
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if math.Abs(out[0]-1) > 1e-9 || math.Abs(out[1]-2) > 1e-9 {
		t.Errorf("expected weights [1 2] after removal, got %v", out[:2])
	}
	if out[2] != 4 {
		t.Errorf("expected background area 4, got %v", out[2])
	}
	if out[4] != 10 {
		t.Errorf("expected selected total of the raw window, got %v", out[4])
	}
	if est.cal.Linear != 0.01 || est.width != 0.5 {
		t.Errorf("estimator saw calibration %+v width %v", est.cal, est.width)
	}
}

func TestFitPixelClipsNegativeAfterRemoval(t *testing.T) {
	p := twoLineParams()
	p.RemoveBackground = true
	p.BackgroundWidth = 0.5

	// Background above the counts in the first two channels.
	f, err := NewPixelFitter(p, 6, &constantBackground{level: 2.5}, nil)
	if err != nil {
		t.Fatalf("new fitter failed: %v", err)
	}
	out, err := f.FitPixel(twoLineSpectrum(2, 3))
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	// Channels 0-1 clip to zero, channels 2-3 keep 0.5 each.
	if math.Abs(out[0]) > 1e-9 {
		t.Errorf("expected clipped line 0 weight ~0, got %v", out[0])
	}
	if math.Abs(out[1]-0.5) > 1e-9 {
		t.Errorf("expected line 1 weight 0.5, got %v", out[1])
	}
}

type failingSolver struct{ err error }

func (s failingSolver) SolveSpectrum(Model, []float64) ([]float64, float64, error) {
	return nil, 0, s.err
}

func TestFitPixelSolverError(t *testing.T) {
	boom := errors.New("solver broke")
	f, err := NewPixelFitter(twoLineParams(), 6, nil, failingSolver{err: boom})
	if err != nil {
		t.Fatalf("new fitter failed: %v", err)
	}
	if _, err := f.FitPixel(twoLineSpectrum(1, 1)); !errors.Is(err, boom) {
		t.Fatalf("expected the solver error, got %v", err)
	}
}

func TestFitPixelWrongDepth(t *testing.T) {
	f, err := NewPixelFitter(twoLineParams(), 6, nil, nil)
	if err != nil {
		t.Fatalf("new fitter failed: %v", err)
	}
	if _, err := f.FitPixel([]float64{1, 2, 3}); err == nil {
		t.Fatal("expected a depth error")
	}
}

func TestFitBlock(t *testing.T) {
	f, err := NewPixelFitter(twoLineParams(), 6, nil, nil)
	if err != nil {
		t.Fatalf("new fitter failed: %v", err)
	}
	b := &mapdata.Block{
		Bounds: mapdata.Rect{Row0: 2, Col0: 1, Height: 2, Width: 2},
		Depth:  6,
		Data:   make([]float64, 2*2*6),
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			copy(b.Spectrum(r, c), twoLineSpectrum(float64(r+1), float64(c+1)))
		}
	}

	out, err := f.FitBlock(b)
	if err != nil {
		t.Fatalf("fit block failed: %v", err)
	}
	if out.Bounds != b.Bounds {
		t.Errorf("expected bounds %v, got %v", b.Bounds, out.Bounds)
	}
	if out.Depth != 6 {
		t.Errorf("expected output depth 6, got %d", out.Depth)
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			res := out.Spectrum(r, c)
			if math.Abs(res[0]-float64(r+1)) > 1e-9 || math.Abs(res[1]-float64(c+1)) > 1e-9 {
				t.Errorf("pixel (%d, %d): expected weights [%d %d], got %v", r, c, r+1, c+1, res[:2])
			}
		}
	}
}

func TestParamsValidate(t *testing.T) {
	base := twoLineParams()
	cases := []struct {
		name   string
		mutate func(*Params)
		want   string
	}{
		{"window start", func(p *Params) { p.EnergyStart = -1 }, "energy window"},
		{"window order", func(p *Params) { p.EnergyStart, p.EnergyEnd = 4, 4 }, "energy window"},
		{"window end", func(p *Params) { p.EnergyEnd = 9 }, "energy window"},
		{"span mismatch", func(p *Params) { p.EnergyEnd = 4 }, "model expects"},
		{"model values", func(p *Params) { p.Model.Values = p.Model.Values[:3] }, "needs 8"},
		{"model shape", func(p *Params) { p.Model.Lines = 0 }, "dimensions must be positive"},
		{
			"background width",
			func(p *Params) { p.RemoveBackground = true; p.BackgroundWidth = 0 },
			"background width",
		},
		{
			"calibration",
			func(p *Params) { p.RemoveBackground = true; p.BackgroundWidth = 0.5; p.Calibration.Linear = 0 },
			"linear term",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			err := p.Validate(6)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	if err := base.Validate(6); err != nil {
		t.Fatalf("expected valid params, got %v", err)
	}
}

func TestParamsChannels(t *testing.T) {
	p := twoLineParams()
	p.LineNames = []string{"Fe_K"}
	got := p.Channels()
	want := []string{"Fe_K", "line_1", "background", "residual", "selected", "total"}
	if len(got) != len(want) {
		t.Fatalf("expected %d channels, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("channel %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
