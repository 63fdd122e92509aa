// Package snip estimates the continuum background of an emission
// spectrum with the SNIP algorithm (Ryan et al., statistics-sensitive
// nonlinear iterative peak clipping). The spectrum is smoothed,
// compressed through a double-log transform and repeatedly clipped
// against the mean of a symmetric window around each channel, which
// removes peaks while following the slow background shape.
package snip

import "math"

// stdToFWHM converts a Gaussian sigma to its full width at half
// maximum: 2*sqrt(2*ln 2).
const stdToFWHM = 2.3548200450309493

// pairEnergy is the electron-hole pair creation energy in eV entering
// the detector resolution model.
const pairEnergy = 2.96

const (
	smoothWindow = 3
	clipPasses   = 3
)

// Background returns the estimated background under spectrum, one value
// per channel. The energy at channel i is offset + linear*i + quad*i*i;
// the calibration also drives the per-channel detector resolution that,
// scaled by width, sets the clipping window. The linear term must be
// positive for a meaningful window. The input is not modified.
func Background(spectrum []float64, offset, linear, quad, width float64) []float64 {
	n := len(spectrum)
	if n == 0 {
		return nil
	}

	bg := smooth(spectrum)

	window := make([]float64, n)
	for i := range window {
		e := float64(i)
		if linear != 0 {
			e = offset + linear*float64(i) + quad*float64(i)*float64(i)
		}
		t := (offset/stdToFWHM)*(offset/stdToFWHM) + e*pairEnergy*linear
		if t < 0 {
			t = 0
		}
		window[i] = width * stdToFWHM * math.Sqrt(t) / linear
	}

	// Double-log transform compresses the dynamic range so clipping
	// cuts peaks without carving into the continuum.
	for i, v := range bg {
		bg[i] = math.Log(math.Log(v+1) + 1)
	}

	for pass := 0; pass < clipPasses; pass++ {
		clipOnce(bg, window)
	}

	for i, v := range bg {
		b := math.Exp(math.Exp(v)-1) - 1
		if math.IsNaN(b) || math.IsInf(b, 0) {
			b = 0
		}
		bg[i] = b
	}
	return bg
}

// smooth applies a normalized boxcar, zero-padded at the edges.
func smooth(y []float64) []float64 {
	n := len(y)
	out := make([]float64, n)
	half := smoothWindow / 2
	for i := range out {
		var s float64
		for j := i - half; j <= i+half; j++ {
			if j >= 0 && j < n {
				s += y[j]
			}
		}
		out[i] = s / smoothWindow
	}
	return out
}

// clipOnce lowers every channel that sits above the mean of its window
// endpoints. The means are taken from the state before the pass.
func clipOnce(v, window []float64) {
	n := len(v)
	mean := make([]float64, n)
	for i := range v {
		lo := float64(i) - window[i]
		if lo < 0 {
			lo = 0
		}
		hi := float64(i) + window[i]
		if hi > float64(n-1) {
			hi = float64(n - 1)
		}
		mean[i] = (v[int(lo)] + v[int(hi)]) / 2
	}
	for i := range v {
		if v[i] > mean[i] {
			v[i] = mean[i]
		}
	}
}
