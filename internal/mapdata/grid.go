package mapdata

import "fmt"

// Rect is an axis-aligned rectangle over a map's spatial extent.
type Rect struct {
	Row0   int `json:"row0"`
	Col0   int `json:"col0"`
	Height int `json:"height"`
	Width  int `json:"width"`
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", r.Row0, r.Col0, r.Height, r.Width)
}

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool {
	return r.Height <= 0 || r.Width <= 0
}

// Pixels returns the number of pixels covered by r.
func (r Rect) Pixels() int {
	if r.Empty() {
		return 0
	}
	return r.Height * r.Width
}

// Clamp intersects r with a rows x cols extent. Negative origins move to
// zero; the far edges pull in to the map bounds. The result may be empty.
func (r Rect) Clamp(rows, cols int) Rect {
	r0 := max(r.Row0, 0)
	c0 := max(r.Col0, 0)
	r1 := min(r.Row0+r.Height, rows)
	c1 := min(r.Col0+r.Width, cols)
	return Rect{Row0: r0, Col0: c0, Height: max(r1-r0, 0), Width: max(c1-c0, 0)}
}

// Grid is the decomposition of a rows x cols map into blocks of at most
// Chunk pixels each. Blocks are numbered row-major; trailing blocks shrink
// at the map edges.
type Grid struct {
	Rows, Cols int
	Chunk      ChunkSize
}

// BlocksY returns the number of block rows.
func (g Grid) BlocksY() int {
	return ceilDiv(g.Rows, g.Chunk.Y)
}

// BlocksX returns the number of block columns.
func (g Grid) BlocksX() int {
	return ceilDiv(g.Cols, g.Chunk.X)
}

// NumBlocks returns the total number of blocks.
func (g Grid) NumBlocks() int {
	return g.BlocksY() * g.BlocksX()
}

// BlockBounds returns the bounds of block i in row-major block order.
func (g Grid) BlockBounds(i int) Rect {
	by := i / g.BlocksX()
	bx := i % g.BlocksX()
	r0 := by * g.Chunk.Y
	c0 := bx * g.Chunk.X
	return Rect{
		Row0:   r0,
		Col0:   c0,
		Height: min(g.Chunk.Y, g.Rows-r0),
		Width:  min(g.Chunk.X, g.Cols-c0),
	}
}
