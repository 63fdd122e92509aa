// Package render rasterizes map channels to PNG heatmaps using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/xrfmap/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	DefaultColormap string
	// MaxScale caps the integer upscale factor a request may ask for.
	MaxScale int
}

// HeatmapRenderer renders one channel plane of a map as a PNG image.
type HeatmapRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewHeatmapRenderer creates a renderer. An empty default colormap
// falls back to viridis; MaxScale defaults to 16.
func NewHeatmapRenderer(cfg Config) *HeatmapRenderer {
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "viridis"
	}
	if cfg.MaxScale <= 0 {
		cfg.MaxScale = 16
	}
	return &HeatmapRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// HeatmapOptions controls one render.
type HeatmapOptions struct {
	// Colormap name; unknown or empty names use the configured default.
	Colormap string
	// Min and Max pin the normalization range. A nil side is derived
	// from the finite data values.
	Min *float64
	Max *float64
	// Scale is the integer upscale factor; values below 1 mean 1.
	Scale int
}

// RenderHeatmap renders a rows x cols plane (row-major) to a PNG.
// Non-finite values come out transparent; everything else is colored by
// its position inside the normalization range.
func (r *HeatmapRenderer) RenderHeatmap(values []float64, rows, cols int, opts HeatmapOptions) ([]byte, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("render heatmap: shape (%d, %d), dimensions must be positive", rows, cols)
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("render heatmap: %d values, shape (%d, %d) needs %d", len(values), rows, cols, rows*cols)
	}

	scale := opts.Scale
	if scale < 1 {
		scale = 1
	}
	if scale > r.config.MaxScale {
		scale = r.config.MaxScale
	}

	lo, hi, err := r.normalizationRange(values, opts)
	if err != nil {
		return nil, err
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	cmap, ok := colormap.ByName(opts.Colormap)
	if !ok {
		cmap, ok = colormap.ByName(r.config.DefaultColormap)
		if !ok {
			cmap = colormap.Viridis
		}
	}

	dc := gg.NewContext(cols*scale, rows*scale)
	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			v := values[row*cols+col]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			t := (v - lo) / span
			if t < 0 {
				t = 0
			}
			if t > 1 {
				t = 1
			}
			dc.SetColor(cmap.At(t))
			dc.DrawRectangle(float64(col*scale), float64(row*scale), float64(scale), float64(scale))
			dc.Fill()
		}
	}

	return r.encodePNG(dc)
}

func (r *HeatmapRenderer) normalizationRange(values []float64, opts HeatmapOptions) (lo, hi float64, err error) {
	autoLo, autoHi, _ := ValueRange(values)
	lo, hi = autoLo, autoHi
	if opts.Min != nil {
		lo = *opts.Min
	}
	if opts.Max != nil {
		hi = *opts.Max
	}
	if opts.Min != nil && opts.Max != nil && hi < lo {
		return 0, 0, fmt.Errorf("render heatmap: min %v greater than max %v", lo, hi)
	}
	return lo, hi, nil
}

// ValueRange returns the smallest and largest finite values. ok is
// false when there are none.
func ValueRange(values []float64) (lo, hi float64, ok bool) {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, ok
}

func (r *HeatmapRenderer) encodePNG(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// The buffer is reused; hand back a copy.
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
