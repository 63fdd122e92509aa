package mapdata

import "fmt"

// Dense is an in-memory 3-D map stored row-major: the value at (r, c, e)
// lives at ((r*Cols)+c)*Depth + e.
type Dense struct {
	Rows, Cols, Depth int
	Data              []float64
}

// NewDense allocates a zero-filled dense map.
func NewDense(rows, cols, depth int) *Dense {
	return &Dense{Rows: rows, Cols: cols, Depth: depth, Data: make([]float64, rows*cols*depth)}
}

// Validate checks that every dimension is positive and the backing slice
// holds exactly Rows*Cols*Depth values.
func (d *Dense) Validate() error {
	if d.Rows < 1 || d.Cols < 1 || d.Depth < 1 {
		return fmt.Errorf("dense map shape (%d, %d, %d): dimensions must be positive", d.Rows, d.Cols, d.Depth)
	}
	if want := d.Rows * d.Cols * d.Depth; len(d.Data) != want {
		return fmt.Errorf("dense map shape (%d, %d, %d) needs %d values, data holds %d", d.Rows, d.Cols, d.Depth, want, len(d.Data))
	}
	return nil
}

// At returns the value at (r, c, e).
func (d *Dense) At(r, c, e int) float64 {
	return d.Data[(r*d.Cols+c)*d.Depth+e]
}

// Set stores v at (r, c, e).
func (d *Dense) Set(r, c, e int, v float64) {
	d.Data[(r*d.Cols+c)*d.Depth+e] = v
}

// Spectrum returns the spectrum of pixel (r, c) as a view into the backing
// array, not a copy.
func (d *Dense) Spectrum(r, c int) []float64 {
	i := (r*d.Cols + c) * d.Depth
	return d.Data[i : i+d.Depth]
}

// Rect copies the spatial rectangle r (full depth) out of d.
func (d *Dense) Rect(r Rect) *Dense {
	out := NewDense(r.Height, r.Width, d.Depth)
	for row := 0; row < r.Height; row++ {
		src := ((r.Row0+row)*d.Cols + r.Col0) * d.Depth
		dst := row * r.Width * d.Depth
		copy(out.Data[dst:dst+r.Width*d.Depth], d.Data[src:src+r.Width*d.Depth])
	}
	return out
}

// DenseSource adapts a Dense as a BlockSource with (1, 1) native chunking,
// so geometry planning is unconstrained.
type DenseSource struct {
	D *Dense
}

// Shape returns the map extent.
func (s DenseSource) Shape() (rows, cols, depth int) {
	return s.D.Rows, s.D.Cols, s.D.Depth
}

// ChunkSize returns the finest possible chunking.
func (s DenseSource) ChunkSize() ChunkSize {
	return ChunkSize{Y: 1, X: 1}
}

// ReadRect copies the requested rectangle out of the array.
func (s DenseSource) ReadRect(r Rect) (*Dense, error) {
	if r.Row0 < 0 || r.Col0 < 0 || r.Row0+r.Height > s.D.Rows || r.Col0+r.Width > s.D.Cols {
		return nil, fmt.Errorf("read rect %s: outside map shape (%d, %d)", r, s.D.Rows, s.D.Cols)
	}
	return s.D.Rect(r), nil
}
