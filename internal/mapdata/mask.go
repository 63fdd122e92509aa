package mapdata

import "fmt"

// Mask marks which spatial pixels of a map take part in an operation.
// Inside is row-major over (Rows, Cols).
type Mask struct {
	Rows, Cols int
	Inside     []bool
}

// NewMask allocates an all-excluded mask.
func NewMask(rows, cols int) *Mask {
	return &Mask{Rows: rows, Cols: cols, Inside: make([]bool, rows*cols)}
}

// MaskFromFloats builds a mask from numeric values: a pixel is inside iff
// its value is greater than zero.
func MaskFromFloats(rows, cols int, values []float64) (*Mask, error) {
	if len(values) != rows*cols {
		return nil, fmt.Errorf("mask shape (%d, %d) needs %d values, got %d", rows, cols, rows*cols, len(values))
	}
	m := NewMask(rows, cols)
	for i, v := range values {
		m.Inside[i] = v > 0
	}
	return m, nil
}

// At reports whether pixel (r, c) is included.
func (m *Mask) At(r, c int) bool {
	return m.Inside[r*m.Cols+c]
}

// Set marks pixel (r, c).
func (m *Mask) Set(r, c int, inside bool) {
	m.Inside[r*m.Cols+c] = inside
}

// Count returns the number of included pixels.
func (m *Mask) Count() int {
	n := 0
	for _, in := range m.Inside {
		if in {
			n++
		}
	}
	return n
}

// Rect copies the rectangle r out of the mask, row-major. Callers hand a
// block its own view by passing the block's bounds, which keeps mask and
// data tiling identical.
func (m *Mask) Rect(r Rect) []bool {
	out := make([]bool, r.Pixels())
	for row := 0; row < r.Height; row++ {
		copy(out[row*r.Width:(row+1)*r.Width], m.Inside[(r.Row0+row)*m.Cols+r.Col0:])
	}
	return out
}

// BuildMask combines an optional raw mask and an optional selection
// rectangle into the effective mask for a rows x cols map. The selection
// is clamped to the map bounds; a pixel ends up included iff both inputs
// include it. The raw mask is never mutated. When both inputs are nil the
// result is nil, meaning every pixel is included without materializing
// anything.
func BuildMask(rows, cols int, raw *Mask, sel *Rect) (*Mask, error) {
	if raw == nil && sel == nil {
		return nil, nil
	}
	if raw != nil {
		if raw.Rows != rows || raw.Cols != cols {
			return nil, fmt.Errorf("mask shape (%d, %d) does not match map shape (%d, %d)", raw.Rows, raw.Cols, rows, cols)
		}
		if len(raw.Inside) != rows*cols {
			return nil, fmt.Errorf("mask shape (%d, %d) needs %d values, got %d", raw.Rows, raw.Cols, rows*cols, len(raw.Inside))
		}
	}

	out := NewMask(rows, cols)
	if sel != nil {
		clamped := sel.Clamp(rows, cols)
		for r := clamped.Row0; r < clamped.Row0+clamped.Height; r++ {
			for c := clamped.Col0; c < clamped.Col0+clamped.Width; c++ {
				out.Inside[r*cols+c] = true
			}
		}
	} else {
		for i := range out.Inside {
			out.Inside[i] = true
		}
	}
	if raw != nil {
		for i, in := range raw.Inside {
			out.Inside[i] = out.Inside[i] && in
		}
	}
	return out, nil
}
